// Command chat-client is a terminal client for the secure chat server: it
// dials, handshakes, logs in or signs up, and runs paired send/recv loops
// reading commands from stdin and printing incoming messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/duskline/securechat/chatclient"
	"github.com/duskline/securechat/chatproto"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chat-client:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("chat-client", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:8888", "chat server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	client, err := chatclient.DialWithRetry(ctx, *addr, nil, 0)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	fmt.Println("Secure channel established.")

	go recvLoop(client)

	return commandLoop(client)
}

func recvLoop(client *chatclient.Client) {
	for {
		env, err := client.Recv()
		if err != nil {
			fmt.Println("disconnected:", err)
			os.Exit(0)
		}
		switch env.Type {
		case chatproto.TypeNewMessage:
			fmt.Printf("[message] %s\n", string(env.Payload))
		case chatproto.TypeResponse:
			fmt.Printf("[response] %s\n", string(env.Payload))
		default:
			fmt.Printf("[%s] %s\n", env.Type, string(env.Payload))
		}
	}
}

func commandLoop(client *chatclient.Client) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: login <email> <password> | signup <name> <email> <password> | chat <recipient_id> <text> | whoisonline | logout")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		cmd := fields[0]
		if len(fields) == 1 {
			fields = append(fields, "")
		}
		switch cmd {
		case "login":
			parts := strings.SplitN(fields[1], " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: login <email> <password>")
				continue
			}
			resp, err := client.Login(parts[0], parts[1])
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
		case "signup":
			parts := strings.SplitN(fields[1], " ", 3)
			if len(parts) != 3 {
				fmt.Println("usage: signup <name> <email> <password>")
				continue
			}
			resp, err := client.SignUp(parts[0], parts[1], parts[2])
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
		case "chat":
			parts := strings.SplitN(fields[1], " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: chat <recipient_id> <text>")
				continue
			}
			if err := client.Chat(parts[0], parts[1]); err != nil {
				return err
			}
		case "whoisonline":
			resp, err := client.WhoIsOnline()
			if err != nil {
				return err
			}
			for _, u := range resp.Users {
				fmt.Printf("%s\t%s\n", u.ID, u.FullName)
			}
		case "logout":
			return client.Logout()
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
	return scanner.Err()
}
