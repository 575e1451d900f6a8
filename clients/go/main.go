// murmur CLI - Command line client for murmur
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/eldtechnologies/murmur/clients/go/murmur"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := murmur.NewClient(os.Getenv("MURMUR_URL"), "")
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: murmur send <friend_id> <message>")
			os.Exit(1)
		}
		resp, err := client.Send(parseID(os.Args[2]), os.Args[3])
		exitOnError(err)
		fmt.Printf("Queued: %s (thread %s)\n", resp.ID, resp.ThreadID)

	case "thread":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: murmur thread <friend_id>")
			os.Exit(1)
		}
		resp, err := client.Thread(parseID(os.Args[2]))
		exitOnError(err)
		for _, m := range resp.Messages {
			ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
			who, text := "them", m.FriendWord
			if m.MyWord != "" {
				who, text = "me", m.MyWord
			}
			pending := ""
			if m.IsPending {
				pending = " (pending)"
			}
			fmt.Printf("[%s] %s: %s%s\n", ts, who, text, pending)
		}

	case "online":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: murmur online <user_id>...")
			os.Exit(1)
		}
		ids := make([]int64, 0, len(os.Args)-2)
		for _, arg := range os.Args[2:] {
			ids = append(ids, parseID(arg))
		}
		status, err := client.Online(ids...)
		exitOnError(err)
		for _, id := range ids {
			fmt.Printf("  %d  online=%t\n", id, status[id])
		}

	case "listen":
		listen(client)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// listen prints realtime events until the connection drops, sending an
// application heartbeat every 30 seconds.
func listen(client *murmur.Client) {
	conn, err := client.Connect(context.Background())
	exitOnError(err)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}()

	for {
		ev, err := conn.Next()
		exitOnError(err)
		switch ev.Type {
		case "chat.message":
			fmt.Printf("[%s] %d: %s\n", time.UnixMilli(ev.Timestamp).Format("15:04:05"), ev.SenderID, ev.Content)
		case "pending_requests":
			if ev.Count != nil {
				fmt.Printf("%d pending friend request(s)\n", *ev.Count)
			}
		case "pong":
		default:
			printJSON(ev)
		}
	}
}

func usage() {
	fmt.Println(`murmur CLI - realtime chat client

Usage: murmur <command> [options]

Commands:
  send <friend_id> <message>   Send a message
  thread <friend_id>           Show conversation history
  online <user_id>...          Show online status
  listen                       Print realtime events
  health                       Check server health

Environment:
  MURMUR_URL     Server URL (default: http://localhost:8080)
  MURMUR_TOKEN   Bearer token (see cmd/token)`)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid user ID: %s\n", s)
		os.Exit(1)
	}
	return id
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
