package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/halaqah-id/halaqah-realtime/internal/api"
	"github.com/halaqah-id/halaqah-realtime/internal/client"
	"github.com/halaqah-id/halaqah-realtime/internal/config"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

const usage = `commands:
  join <conversation>
  leave <conversation>
  say <conversation> <recipient> <text...>
  typing <conversation>
  stop <conversation>
  read <conversation> <message id...>
  edit <conversation> <message id> <text...>
  delete <conversation> <message id>
  seen
  state
  quit`

var (
	url        string
	token      string
	signingKey string
	userId     string
	userName   string
	role       string
	heartbeat  time.Duration
	rooms      string
)

func main() {
	logger := log.New(os.Stderr, "[presencectl] ", log.LstdFlags)

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatal("dotenv:", err)
	}

	flag.StringVar(&url, "url", config.Getenv("HALAQAH_WS_URL", "ws://localhost:8000/ws"), "websocket endpoint")
	flag.StringVar(&token, "token", config.Getenv("HALAQAH_TOKEN", ""), "session token")
	flag.StringVar(&signingKey, "signing-key", config.Getenv("HALAQAH_SIGNING_KEY", ""),
		"base64 signing key used to mint a token when -token is empty")
	flag.StringVar(&userId, "user", "", "user id")
	flag.StringVar(&userName, "name", "", "display name")
	flag.StringVar(&role, "role", types.RoleMember, "role")
	flag.DurationVar(&heartbeat, "heartbeat",
		config.GetenvDuration("HALAQAH_HEARTBEAT_INTERVAL", config.DefaultHeartbeatInterval), "heartbeat interval")
	flag.StringVar(&rooms, "join", "", "comma-separated conversations to join on start")
	flag.Parse()

	if userId == "" {
		logger.Fatal("-user is required")
	}
	if userName == "" {
		userName = userId
	}

	if token == "" {
		key, err := base64.StdEncoding.DecodeString(signingKey)
		if err != nil || len(key) == 0 {
			logger.Fatal("either -token or a valid -signing-key is required")
		}
		token, err = api.NewSessionToken(key, userId, 24*time.Hour)
		if err != nil {
			logger.Fatal("mint token:", err)
		}
	}

	pc := client.NewPresenceContext(client.Options{
		URL:               url,
		Token:             token,
		User:              types.PresenceUser{UserId: userId, Name: userName, Role: role},
		HeartbeatInterval: heartbeat,
	}, logger)

	for _, id := range strings.Split(rooms, ",") {
		if id = strings.TrimSpace(id); id != "" {
			pc.JoinConversation(id)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- pc.Run(ctx)
	}()
	go watch(ctx, pc, os.Stdout)
	go func() {
		repl(pc, os.Stdin, os.Stdout)
		pc.Close()
	}()

	if err := <-done; err != nil {
		logger.Fatal(err)
	}
}

// watch prints the online set whenever it changes.
func watch(ctx context.Context, pc *client.PresenceContext, out io.Writer) {
	var last string
	for {
		select {
		case <-pc.Changes():
			s := pc.Snapshot()
			ids := make([]string, 0, len(s.OnlineUsers))
			for id := range s.OnlineUsers {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			line := fmt.Sprintf("connected=%t online=%s", s.Connected, strings.Join(ids, ","))
			if line != last {
				fmt.Fprintln(out, line)
				last = line
			}
		case <-ctx.Done():
			return
		}
	}
}

func repl(pc *client.PresenceContext, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			return
		}
		if err := runCommand(pc, fields, out); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func runCommand(pc *client.PresenceContext, fields []string, out io.Writer) error {
	args := fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d arguments\n%s", fields[0], n, usage)
		}
		return nil
	}

	switch fields[0] {
	case "join":
		if err := need(1); err != nil {
			return err
		}
		return pc.JoinConversation(args[0])
	case "leave":
		if err := need(1); err != nil {
			return err
		}
		return pc.LeaveConversation(args[0])
	case "say":
		if err := need(3); err != nil {
			return err
		}
		msg, err := pc.SendMessage(args[0], args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "sent", msg.MessageId)
		return nil
	case "typing":
		if err := need(1); err != nil {
			return err
		}
		return pc.StartTyping(args[0])
	case "stop":
		if err := need(1); err != nil {
			return err
		}
		return pc.StopTyping(args[0])
	case "read":
		if err := need(2); err != nil {
			return err
		}
		return pc.MarkRead(args[0], args[1:]...)
	case "edit":
		if err := need(3); err != nil {
			return err
		}
		return pc.EditMessage(args[0], args[1], strings.Join(args[2:], " "))
	case "delete":
		if err := need(2); err != nil {
			return err
		}
		return pc.DeleteMessage(args[0], args[1])
	case "seen":
		return pc.UpdateLastSeen()
	case "state":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(pc.Snapshot())
	default:
		return fmt.Errorf("unknown command %q\n%s", fields[0], usage)
	}
}
