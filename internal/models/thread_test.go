package models

import (
	"encoding/json"
	"testing"
)

func TestThreadIDSymmetric(t *testing.T) {
	pairs := [][2]int64{{1, 2}, {2, 1}, {9, 10}, {10, 9}, {123, 45}, {7, 7}, {1, 1000000}}
	for _, p := range pairs {
		if ThreadID(p[0], p[1]) != ThreadID(p[1], p[0]) {
			t.Fatalf("ThreadID(%d,%d) != ThreadID(%d,%d)", p[0], p[1], p[1], p[0])
		}
	}
}

func TestThreadIDNumericOrder(t *testing.T) {
	// A string comparison would put "10" before "9".
	if got := ThreadID(10, 9); got != "9_10" {
		t.Fatalf("expected 9_10, got %q", got)
	}
	if got := ThreadID(2, 1); got != "1_2" {
		t.Fatalf("expected 1_2, got %q", got)
	}
}

func TestInThread(t *testing.T) {
	if !InThread(1, 2, 2, 1) || !InThread(2, 1, 1, 2) {
		t.Fatal("expected both directions to match")
	}
	if InThread(1, 3, 1, 2) {
		t.Fatal("unexpected match for different pair")
	}
}

func TestNewThreadEntry(t *testing.T) {
	mine := NewThreadEntry(1, 1, "hi", "u1", 10, false)
	if mine.MyWord != "hi" || mine.FriendWord != "" {
		t.Fatalf("unexpected entry %+v", mine)
	}
	theirs := NewThreadEntry(1, 2, "yo", "u2", 11, true)
	if theirs.FriendWord != "yo" || theirs.MyWord != "" || !theirs.IsPending {
		t.Fatalf("unexpected entry %+v", theirs)
	}
	if theirs.UID() != "u2" {
		t.Fatalf("expected uid u2, got %q", theirs.UID())
	}
}

func TestInboundFriendIDForms(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{`{"type":"sendmessage","friend_id":2,"content":"hi"}`, 2},
		{`{"type":"sendmessage","friend_id":"2","content":"hi"}`, 2},
		{`{"type":"ping"}`, 0},
		{`{"type":"sendmessage","friend_id":null}`, 0},
	}
	for _, tc := range cases {
		var got Inbound
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got.FriendID != tc.want {
			t.Fatalf("%s: friend_id = %d, want %d", tc.in, got.FriendID, tc.want)
		}
	}

	var got Inbound
	if err := json.Unmarshal([]byte(`{"type":"sendmessage","friend_id":"2","content":"hi"}`), &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != InboundSendMessage || got.Content != "hi" {
		t.Fatalf("other fields lost: %+v", got)
	}

	for _, bad := range []string{
		`{"type":"sendmessage","friend_id":"bob"}`,
		`{"type":"sendmessage","friend_id":"-3"}`,
		`{"type":"sendmessage","friend_id":true}`,
	} {
		if err := json.Unmarshal([]byte(bad), &got); err == nil {
			t.Fatalf("%s: expected error", bad)
		}
	}
}
