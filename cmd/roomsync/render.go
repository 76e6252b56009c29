// ABOUTME: Terminal rendering of conversation snapshots and messages
// ABOUTME: Prints each message once and reports failed sends with a retry hint

package main

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/2389/roomsync/internal/conversation"
	"github.com/2389/roomsync/internal/model"
)

var (
	selfColor   = color.New(color.FgGreen, color.Bold)
	peerColor   = color.New(color.FgCyan, color.Bold)
	dimColor    = color.New(color.FgHiBlack)
	errorColor  = color.New(color.FgRed)
	headerColor = color.New(color.FgYellow, color.Bold)
)

// printer renders store updates for one terminal.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	selfID string
	now    func() time.Time

	selected string
	printed  map[string]bool
	failed   map[string]bool
}

func newPrinter(out io.Writer, selfID string) *printer {
	return &printer{
		out:     out,
		selfID:  selfID,
		now:     time.Now,
		printed: make(map[string]bool),
		failed:  make(map[string]bool),
	}
}

// messageKey identifies a message across echo reconciliation.
func messageKey(m model.Message) string {
	if m.ClientID != "" {
		return "c:" + m.ClientID
	}
	if m.ID != "" {
		return "i:" + m.ID
	}
	return fmt.Sprintf("t:%s:%d:%s", m.Sender, m.Timestamp, m.Text)
}

// Apply renders whatever changed in an update.
func (p *printer) Apply(u conversation.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch u.Kind {
	case conversation.UpdateSelection:
		p.resetLocked(u.Snapshot.SelectedID)
		if u.Snapshot.SelectedID != "" {
			p.headerLocked(u.Snapshot)
		}
	case conversation.UpdateMessages:
		if u.Snapshot.SelectedID != p.selected {
			p.resetLocked(u.Snapshot.SelectedID)
		}
		if err := u.Snapshot.History.Err; err != nil && !u.Snapshot.History.Loading {
			errorColor.Fprintf(p.out, "[error] loading history: %v\n", err)
		}
		p.messagesLocked(u.Snapshot)
	case conversation.UpdateUnread:
		title := u.ConversationID
		for _, c := range u.Snapshot.Conversations {
			if c.ID == u.ConversationID {
				title = c.Title()
				break
			}
		}
		dimColor.Fprintf(p.out, "* new message in %s\n", title)
	case conversation.UpdateList:
		if err := u.Snapshot.List.Err; err != nil {
			errorColor.Fprintf(p.out, "[error] loading conversations: %v\n", err)
		}
	}
}

// Replay prints the full history of the snapshot.
func (p *printer) Replay(s conversation.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(s.SelectedID)
	if s.SelectedID == "" {
		dimColor.Fprintln(p.out, "no conversation selected")
		return
	}
	p.headerLocked(s)
	p.messagesLocked(s)
}

// Printf writes a line without racing the update renderer.
func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) resetLocked(selected string) {
	p.selected = selected
	clear(p.printed)
	clear(p.failed)
}

func (p *printer) headerLocked(s conversation.Snapshot) {
	title := s.SelectedID
	if c, ok := s.Selected(); ok {
		title = c.Title()
	}
	headerColor.Fprintf(p.out, "-- %s --\n", title)
}

func (p *printer) messagesLocked(s conversation.Snapshot) {
	names := senderNames(s)
	for _, m := range s.Messages {
		key := messageKey(m)
		if !p.printed[key] {
			p.printed[key] = true
			fmt.Fprintln(p.out, p.formatMessage(m, names))
		}
		if m.Failed && !p.failed[key] {
			p.failed[key] = true
			errorColor.Fprintf(p.out, "  ! not delivered, /retry %s\n", m.ClientID)
		}
		if !m.Failed {
			delete(p.failed, key)
		}
	}
}

func (p *printer) formatMessage(m model.Message, names map[string]string) string {
	stamp := dimColor.Sprint(formatStamp(m.Timestamp.Time(), p.now()))
	if m.Sender == p.selfID {
		return fmt.Sprintf("%s %s %s", stamp, selfColor.Sprint("you:"), m.Text)
	}
	name := names[m.Sender]
	if name == "" {
		name = m.Sender
	}
	return fmt.Sprintf("%s %s %s", stamp, peerColor.Sprint(name+":"), m.Text)
}

// formatStamp shows a clock time for recent messages and a relative time
// for older ones.
func formatStamp(t, now time.Time) string {
	if now.Sub(t) < 24*time.Hour {
		return t.Format("15:04")
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func senderNames(s conversation.Snapshot) map[string]string {
	names := make(map[string]string)
	c, ok := s.Selected()
	if !ok {
		return names
	}
	for _, part := range c.Participants {
		names[part.ID] = part.Name
	}
	if c.Counterpart != nil {
		names[c.Counterpart.ID] = c.Counterpart.Name
	}
	return names
}

// renderConversations writes the directory as a table.
func renderConversations(w io.Writer, s conversation.Snapshot, unread func(string) int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Role", "Topic", "Unread"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, c := range s.Conversations {
		role := ""
		if c.Counterpart != nil {
			role = c.Counterpart.Role
		}
		marker := ""
		if c.ID == s.SelectedID {
			marker = "*"
		}
		table.Append([]string{
			marker + c.ID,
			c.Title(),
			role,
			c.TopicID,
			strconv.Itoa(unread(c.ID)),
		})
	}
	table.Render()
}

// renderStats writes sync counters as a table.
func renderStats(w io.Writer, counts map[string]float64, keys []string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Counter", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, k := range keys {
		table.Append([]string{k, humanize.Comma(int64(counts[k]))})
	}
	table.Render()
}
