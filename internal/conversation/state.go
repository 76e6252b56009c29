// ABOUTME: Store state types: list and history phases, snapshots and updates
// ABOUTME: Also the unread counter collaborator for pushes outside the selection

package conversation

import (
	"sync"

	"github.com/2389/roomsync/internal/model"
)

// ListPhase is the conversation list state.
type ListPhase int

const (
	ListIdle ListPhase = iota
	ListLoading
	ListReady
)

func (p ListPhase) String() string {
	switch p {
	case ListIdle:
		return "idle"
	case ListLoading:
		return "loading"
	case ListReady:
		return "ready"
	default:
		return "unknown"
	}
}

// HistoryPhase is the selected conversation's state.
type HistoryPhase int

const (
	HistoryUnselected HistoryPhase = iota
	HistoryLoading
	HistorySynced
)

func (p HistoryPhase) String() string {
	switch p {
	case HistoryUnselected:
		return "unselected"
	case HistoryLoading:
		return "loading"
	case HistorySynced:
		return "synced"
	default:
		return "unknown"
	}
}

// SyncState is the loading flag and last error of a fetch.
type SyncState struct {
	Loading bool
	Err     error
}

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Conversations []model.Conversation
	ListPhase     ListPhase
	List          SyncState

	SelectedID   string
	HistoryPhase HistoryPhase
	History      SyncState
	Messages     []model.Message

	// Room is the conversation the push channel is subscribed to.
	Room string
}

// Selected returns the directory entry of the selected conversation.
func (s Snapshot) Selected() (model.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == s.SelectedID {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// UpdateKind identifies what changed.
type UpdateKind int

const (
	UpdateList UpdateKind = iota
	UpdateSelection
	UpdateMessages
	UpdateUnread
	UpdateRoom
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateList:
		return "list"
	case UpdateSelection:
		return "selection"
	case UpdateMessages:
		return "messages"
	case UpdateUnread:
		return "unread"
	case UpdateRoom:
		return "room"
	default:
		return "unknown"
	}
}

// Update is published after every state change.
type Update struct {
	Kind     UpdateKind
	Snapshot Snapshot
	// ConversationID is set on UpdateUnread.
	ConversationID string
}

// UnreadCounter receives pushes for conversations other than the selected one.
type UnreadCounter interface {
	Increment(conversationID string)
}

// MemoryUnread counts unread pushes per conversation in memory.
type MemoryUnread struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryUnread creates an empty counter.
func NewMemoryUnread() *MemoryUnread {
	return &MemoryUnread{counts: make(map[string]int)}
}

func (u *MemoryUnread) Increment(conversationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[conversationID]++
}

func (u *MemoryUnread) Count(conversationID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[conversationID]
}

func (u *MemoryUnread) Reset(conversationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.counts, conversationID)
}
