// talkdb-chat - command line client for the talk-to-db chat service
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mahdi-taghi/business-assistant-ari/clients/go/talkdb"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("TALKDB_URL")
	client := talkdb.NewClient(baseURL)
	ctx := context.Background()
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "login":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: talkdb-chat login <token>")
			os.Exit(1)
		}
		client.Token = os.Args[2]
		me, err := client.Me(ctx)
		exitOnError(err)
		exitOnError(client.SaveToken(os.Args[2]))
		fmt.Printf("Token saved. Logged in as %s (%s).\n", me.Username, me.Role)

	case "chats":
		archived := len(os.Args) > 2 && os.Args[2] == "--archived"
		chats, err := client.ListChats(ctx, archived)
		exitOnError(err)
		for _, ch := range chats {
			fmt.Printf("  %s  %s (%s)\n", ch.ID, ch.Title, ch.LastActivity.Format("2006-01-02 15:04"))
		}

	case "new":
		title := ""
		if len(os.Args) > 2 {
			title = os.Args[2]
		}
		chat, err := client.CreateChat(ctx, title)
		exitOnError(err)
		fmt.Printf("Created: %s\n", chat.ID)

	case "archive":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: talkdb-chat archive <chat_id>")
			os.Exit(1)
		}
		chat, err := client.ToggleArchive(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("%s archived=%t\n", chat.ID, chat.IsArchived)

	case "rm":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: talkdb-chat rm <chat_id>")
			os.Exit(1)
		}
		exitOnError(client.DeleteChat(ctx, os.Args[2]))
		fmt.Println("Deleted.")

	case "history":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: talkdb-chat history <chat_id>")
			os.Exit(1)
		}
		msgs, err := client.Messages(ctx, os.Args[2])
		exitOnError(err)
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role, m.Content)
		}

	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: talkdb-chat chat <chat_id>")
			os.Exit(1)
		}
		repl(ctx, client, os.Args[2])

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// repl reads questions from stdin and prints answers until EOF.
func repl(ctx context.Context, client *talkdb.Client, chatID string) {
	conn, err := client.Connect(ctx, chatID)
	if err != nil {
		exitOnError(fmt.Errorf("connect: %w (close code %d)", err, talkdb.CloseCode(err)))
	}
	defer conn.Close()

	in := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for in.Scan() {
		q := strings.TrimSpace(in.Text())
		if q == "" {
			fmt.Print("> ")
			continue
		}

		askCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		ev, err := conn.Ask(askCtx, q, func(ev talkdb.Event) {
			if ev.Type == "status" {
				fmt.Printf("  ... %s\n", ev.Message)
			}
		})
		cancel()

		switch {
		case errors.Is(err, talkdb.ErrServer):
			fmt.Printf("! %s (%s)\n", ev.Message, ev.Code)
		case err != nil:
			exitOnError(err)
		default:
			fmt.Println(ev.Content())
		}
		fmt.Print("> ")
	}
}

func usage() {
	fmt.Println(`talkdb-chat - talk-to-db chat client

Usage: talkdb-chat <command> [options]

Commands:
  login <token>           Save an API token
  chats [--archived]      List chats
  new [title]             Create a chat
  archive <chat_id>       Toggle a chat's archived flag
  rm <chat_id>            Delete a chat
  history <chat_id>       Print a chat's messages
  chat <chat_id>          Ask questions interactively
  health                  Check server health

Environment:
  TALKDB_URL      Server URL (default: http://localhost:8080)
  TALKDB_TOKEN    API token (default: read from ~/.talkdb/token)
  TALKDB_CONFIG   Config directory (default: ~/.talkdb)`)
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
