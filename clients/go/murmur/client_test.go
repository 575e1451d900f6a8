package murmur

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/auth"
	"github.com/eldtechnologies/murmur/internal/fanout"
	"github.com/eldtechnologies/murmur/internal/ingress"
	"github.com/eldtechnologies/murmur/internal/messaging"
	"github.com/eldtechnologies/murmur/internal/store"
)

func TestSendAndThread(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages/2", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "hi" {
			t.Errorf("content = %q", body["content"])
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"01H","entry_id":"1-0","thread_id":"1_2","timestamp":5}`))
	})
	mux.HandleFunc("/threads/2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"thread_id":"1_2","messages":[{"myword":"hi","timestamp":5,"is_pending":true}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	sent, err := c.Send(2, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if sent.ThreadID != "1_2" || sent.ID != "01H" {
		t.Fatalf("send = %+v", sent)
	}

	thread, err := c.Thread(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread.Messages) != 1 || thread.Messages[0].MyWord != "hi" || !thread.Messages[0].IsPending {
		t.Fatalf("thread = %+v", thread)
	}

	_, err = NewClient(srv.URL, "wrong").Send(2, "hi")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid token" {
		t.Fatalf("err = %v", err)
	}
}

func TestOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "3,4" {
			t.Errorf("ids = %q", r.URL.Query().Get("ids"))
		}
		w.Write([]byte(`{"online":{"3":true,"4":false}}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "tok").Online(3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !got[3] || got[4] {
		t.Fatalf("online = %v", got)
	}
}

func TestRealtimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	rs := store.NewRedisStoreFromClient(rc)
	q, err := rs.Queue(ctx, store.QueueOptions{Stream: "client_q", Consumer: "c", ClaimIdle: -1})
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	hub := fanout.NewHub(fanout.NewLocalBus(), logger)
	authn := auth.NewJWTAuthenticator("client-secret")
	h := ingress.NewHandler(authn, rs.Presence(time.Hour), hub, messaging.NewPipeline(q, hub, logger), db, ingress.Options{}, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokenFor := func(id int64) string {
		tok, err := authn.Issue(id, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}

	bob, err := NewClient(srv.URL, tokenFor(2)).Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()
	alice, err := NewClient(srv.URL, tokenFor(1)).Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()

	for _, c := range []*Conn{bob, alice} {
		ev, err := c.Next()
		if err != nil || ev.Type != "pending_requests" {
			t.Fatalf("first event = %+v, %v", ev, err)
		}
	}

	if err := alice.Send(2, "hello"); err != nil {
		t.Fatal(err)
	}
	ev, err := bob.Next()
	if err != nil || ev.Type != "chat.message" || ev.Content != "hello" || ev.SenderID != 1 {
		t.Fatalf("bob got %+v, %v", ev, err)
	}
	ack, err := alice.Next()
	if err != nil || ack.Type != "message.ack" || ack.ID != ev.ID {
		t.Fatalf("alice got %+v, %v", ack, err)
	}

	_, err = NewClient(srv.URL, "bad").Connect(ctx)
	if apiErr, ok := err.(*APIError); !ok || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("bad token err = %v", err)
	}
}
