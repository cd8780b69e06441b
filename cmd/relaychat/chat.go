package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaychat/relaychat/internal/log"
	"github.com/relaychat/relaychat/pkg/client"
	"github.com/relaychat/relaychat/pkg/proto"
)

// newChatCmd runs a line-based terminal client against a running server.
func newChatCmd() *cobra.Command {
	var (
		url      string
		token    string
		room     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect to a chat server from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required (obtain one via POST /api/auth/login)")
			}

			logger := log.New(logLevel)
			events := make(chan proto.Outbound, 64)

			session := client.New(client.Options{
				URL:    url,
				Token:  token,
				Logger: logger,
				Handler: func(ev proto.Outbound) {
					select {
					case events <- ev:
					default:
					}
				},
			})

			go printEvents(session, events)

			session.Connect()
			defer session.Disconnect()
			if room != "" {
				session.SetActiveRoom(room)
			}

			fmt.Println("commands: /join <room-id>, /leave, /status, /who, /quit; anything else is sent as a message")
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit":
					return nil
				case line == "/leave":
					session.SetActiveRoom("")
				case line == "/status":
					fmt.Println("status:", session.Status())
				case line == "/who":
					fmt.Println("online:", strings.Join(session.State().OnlineUsers(), ", "))
				case strings.HasPrefix(line, "/join "):
					session.SetActiveRoom(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))
				default:
					if session.ActiveRoom() == "" {
						fmt.Println("join a room first: /join <room-id>")
						continue
					}
					session.InputChanged()
					session.SendMessage(session.ActiveRoom(), line, "")
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "server WebSocket URL")
	cmd.Flags().StringVar(&token, "token", "", "JWT access token")
	cmd.Flags().StringVar(&room, "room", "", "room id to join on connect")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	return cmd
}

func printEvents(session *client.Session, events <-chan proto.Outbound) {
	for ev := range events {
		switch ev.Type {
		case proto.TypeMessage:
			room := session.ActiveRoom()
			if room == "" {
				continue
			}
			msgs := session.State().Messages(room)
			if len(msgs) == 0 {
				continue
			}
			last := msgs[len(msgs)-1]
			fmt.Printf("[%s] %s: %s\n", last.CreatedAt.Format("15:04:05"), last.SenderUsername, last.Content)
		case proto.TypeTyping:
			if names := session.State().TypingUsers(session.ActiveRoom()); len(names) > 0 {
				fmt.Printf("(%s typing...)\n", strings.Join(names, ", "))
			}
		case proto.TypeUserOnline:
			fmt.Println("(a user came online)")
		case proto.TypeUserOffline:
			fmt.Println("(a user went offline)")
		}
	}
}
