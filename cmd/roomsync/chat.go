// ABOUTME: Interactive chat loop reading lines from stdin
// ABOUTME: Slash commands drive selection; plain lines are sent to the open conversation

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/2389/roomsync/internal/conversation"
	"github.com/2389/roomsync/internal/session"
)

const chatHelp = `Commands:
  /list                  refresh and show conversations
  /open <id>             open a conversation
  /seed <id> <topic>     open a conversation by topic
  /close                 close the open conversation
  /history               print the open conversation again
  /retry <client-id>     resend a message that was not delivered
  /stats                 show sync counters
  /quit                  exit
Lines starting with // are sent with one slash removed.`

var statKeys = []string{
	"pushes_applied",
	"echoes_reconciled",
	"stale_fetches",
	"send_failures",
	"reconnects",
	"room_joins",
}

type chat struct {
	sess *session.Session
	out  *printer
	raw  io.Writer
	in   io.Reader
}

func newChat(sess *session.Session, out io.Writer, in io.Reader) *chat {
	return &chat{
		sess: sess,
		out:  newPrinter(out, sess.UserID()),
		raw:  out,
		in:   in,
	}
}

// command is a parsed slash command.
type command struct {
	name string
	args []string
}

// parseLine splits input into a slash command or text to send.
func parseLine(line string) (cmd command, text string, isCommand bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "//") {
		return command{}, line[1:], false
	}
	if !strings.HasPrefix(line, "/") {
		return command{}, line, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, "", false
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, "", true
}

func (c *chat) run(ctx context.Context, initial, topic string) error {
	store := c.sess.Store()
	updates := store.Subscribe(ctx)
	go c.render(ctx, updates)

	switch {
	case initial != "" && topic != "":
		c.seed(ctx, initial, topic)
	case initial != "":
		store.LoadConversations(ctx)
		store.Select(ctx, initial)
	default:
		c.list(ctx)
	}

	c.out.Printf("Type a message and press Enter. /help for commands. Ctrl+C to quit.\n")

	inputCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case inputCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-inputCh:
			if c.handle(ctx, line) {
				return nil
			}
		}
	}
}

func (c *chat) render(ctx context.Context, updates <-chan conversation.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			c.out.Apply(u)
		}
	}
}

// handle processes one input line and reports whether the loop should end.
func (c *chat) handle(ctx context.Context, line string) bool {
	cmd, text, isCommand := parseLine(line)
	if !isCommand {
		if text != "" {
			c.send(ctx, text)
		}
		return false
	}

	store := c.sess.Store()
	switch cmd.name {
	case "quit", "exit", "q":
		return true
	case "help":
		c.out.Printf("%s\n", chatHelp)
	case "list", "ls":
		c.list(ctx)
	case "open":
		if len(cmd.args) != 1 {
			c.out.Printf("Usage: /open <id>\n")
			return false
		}
		store.Select(ctx, cmd.args[0])
	case "seed":
		if len(cmd.args) != 2 {
			c.out.Printf("Usage: /seed <id> <topic>\n")
			return false
		}
		c.seed(ctx, cmd.args[0], cmd.args[1])
	case "close":
		store.Select(ctx, "")
		c.out.Printf("Closed conversation\n")
	case "history":
		c.out.Replay(store.Snapshot())
	case "retry":
		if len(cmd.args) != 1 {
			c.out.Printf("Usage: /retry <client-id>\n")
			return false
		}
		if _, err := store.Resend(ctx, cmd.args[0]); err != nil {
			c.out.Printf("[error] %v\n", err)
		}
	case "stats":
		c.stats()
	default:
		c.out.Printf("Unknown command /%s. /help for commands.\n", cmd.name)
	}
	return false
}

func (c *chat) send(ctx context.Context, text string) {
	_, err := c.sess.Store().SendLocal(ctx, text, c.sess.UserID())
	switch {
	case errors.Is(err, conversation.ErrNoSelection):
		c.out.Printf("No conversation open. Use /open <id> first.\n")
	case err != nil:
		c.out.Printf("[error] %v\n", err)
	}
}

func (c *chat) list(ctx context.Context) {
	store := c.sess.Store()
	c.out.Printf("Loading conversations...\n")
	store.LoadConversations(ctx)
	snap := store.Snapshot()
	if snap.List.Err != nil {
		return
	}
	if len(snap.Conversations) == 0 {
		c.out.Printf("No conversations available.\n")
		return
	}
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	renderConversations(c.raw, snap, store.Unread)
}

func (c *chat) seed(ctx context.Context, id, topic string) {
	if err := c.sess.Store().OpenConversation(ctx, id, topic); err != nil {
		c.out.Printf("[error] %v\n", err)
	}
}

func (c *chat) stats() {
	counts := c.sess.Metrics().Counts()
	keys := slices.Clone(statKeys)
	for k := range counts {
		if strings.Contains(k, ":") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys[len(statKeys):])

	state := "disconnected"
	if c.sess.Connected() {
		state = "connected"
	}

	room := c.sess.Store().Snapshot().Room
	if room == "" {
		room = "none"
	}

	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	fmt.Fprintf(c.raw, "channel: %s, room: %s\n", state, room)
	renderStats(c.raw, counts, keys)
}
