// ABOUTME: Store owns the conversation directory and selected message sequence
// ABOUTME: Guards against stale fetches and reconciles optimistic sends with echoes

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/roomsync/internal/history"
	"github.com/2389/roomsync/internal/metrics"
	"github.com/2389/roomsync/internal/model"
	"github.com/2389/roomsync/internal/ordering"
)

// Store errors
var (
	ErrNoSelection   = errors.New("no conversation selected")
	ErrEmptyMessage  = errors.New("message text is empty")
	ErrNoSender      = errors.New("sender id required")
	ErrNotResendable = errors.New("no failed message with that client id")
)

// RoomSelector switches the push subscription. Implemented by rooms.Manager.
type RoomSelector interface {
	Select(ctx context.Context, conversationID string) error
}

// Sender transmits a message over the push channel.
type Sender interface {
	Send(ctx context.Context, msg model.Message) error
}

// Store is the client-side conversation state.
type Store struct {
	fetcher     history.Fetcher
	rooms       RoomSelector
	sender      Sender
	orderer     *ordering.Orderer
	unread      UnreadCounter
	broadcaster *Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	// selectMu orders selection changes with their room switch.
	selectMu sync.Mutex

	mu            sync.Mutex
	conversations []model.Conversation
	listPhase     ListPhase
	listErr       error
	listGen       uint64
	selected      string
	resolved      string
	room          string
	historyPhase  HistoryPhase
	historyErr    error
	messages      []model.Message
	gen           uint64
	lastLocal     map[string]model.Millis
}

// Option configures a Store.
type Option func(*Store)

// WithOrderer replaces the default orderer.
func WithOrderer(o *ordering.Orderer) Option {
	return func(s *Store) { s.orderer = o }
}

// WithUnreadCounter routes pushes for other conversations to c.
func WithUnreadCounter(c UnreadCounter) Option {
	return func(s *Store) { s.unread = c }
}

// WithMetrics records sync counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store.
func New(fetcher history.Fetcher, rooms RoomSelector, sender Sender, opts ...Option) *Store {
	s := &Store{
		fetcher:   fetcher,
		rooms:     rooms,
		sender:    sender,
		orderer:   ordering.New(ordering.DefaultTolerance),
		unread:    NewMemoryUnread(),
		logger:    slog.Default(),
		now:       time.Now,
		lastLocal: make(map[string]model.Millis),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "conversation")
	s.broadcaster = NewBroadcaster(s.logger)
	return s
}

// LoadConversations fetches the directory. Failures are recorded in the list
// state with an empty list.
func (s *Store) LoadConversations(ctx context.Context) {
	g := s.beginList()
	convs, err := s.fetcher.FetchConversations(ctx)
	s.finishList(g, convs, err)
}

// OpenConversation seeds the directory with the summary record of a known
// conversation and selects it.
func (s *Store) OpenConversation(ctx context.Context, conversationID, topicID string) error {
	if conversationID == "" {
		return fmt.Errorf("opening conversation: %w", ErrNoSelection)
	}

	g := s.beginList()
	conv, msgs, err := s.fetcher.FetchConversation(ctx, conversationID, topicID)
	if err != nil {
		s.failList(g, err)
		s.selectWith(ctx, conversationID, func(context.Context, model.Conversation, bool) ([]model.Message, error) {
			return nil, err
		})
		return nil
	}
	if conv.ID == "" {
		conv.ID = conversationID
	}
	s.finishList(g, []model.Conversation{conv}, nil)

	s.selectWith(ctx, conv.ID, func(context.Context, model.Conversation, bool) ([]model.Message, error) {
		return msgs, nil
	})
	return nil
}

func (s *Store) beginList() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listGen++
	s.listPhase = ListLoading
	s.listErr = nil
	s.publish(UpdateList, "")
	return s.listGen
}

func (s *Store) finishList(g uint64, convs []model.Conversation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g != s.listGen {
		return
	}

	switch {
	case err == nil:
		s.conversations = slices.Clone(convs)
	case errors.Is(err, model.ErrNotFound):
		s.conversations = nil
	default:
		s.conversations = nil
		s.listErr = err
		s.metrics.FetchError(err)
		s.logger.Warn("loading conversations failed", "error", err)
	}
	s.listPhase = ListReady
	s.publish(UpdateList, "")
}

// failList ends a list load that produced no directory, keeping the entries
// already loaded. The failure is counted by the history fetch that follows.
func (s *Store) failList(g uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g != s.listGen {
		return
	}
	if !errors.Is(err, model.ErrNotFound) {
		s.listErr = err
	}
	s.listPhase = ListReady
	s.publish(UpdateList, "")
}

// RoomChanged records the room the push channel is subscribed to. It is
// registered with rooms.Manager.OnChange.
func (s *Store) RoomChanged(previous, next string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.room = next
	if next == "" && s.selected != "" {
		s.logger.Warn("selected conversation has no room", "conversation_id", s.selected, "previous", previous)
	}
	s.publish(UpdateRoom, s.selected)
}

// Select makes conversationID the selected conversation and loads its
// history. It returns once the fetch has resolved. An empty ID clears the
// selection. Re-selecting the open conversation refetches its history and
// keeps local messages the server has not acknowledged.
func (s *Store) Select(ctx context.Context, conversationID string) {
	s.selectWith(ctx, conversationID, s.fetchHistory)
}

type historyFunc func(ctx context.Context, conv model.Conversation, known bool) ([]model.Message, error)

func (s *Store) selectWith(ctx context.Context, conversationID string, fetch historyFunc) {
	s.selectMu.Lock()
	s.mu.Lock()
	s.gen++
	g := s.gen
	if conversationID != "" && conversationID == s.selected {
		// Unacknowledged sends survive a refetch of the same conversation.
		s.messages = lo.Filter(s.messages, func(m model.Message, _ int) bool {
			return m.Optimistic()
		})
	} else {
		s.selected = conversationID
		s.resolved = ""
		s.messages = nil
	}
	s.historyErr = nil
	s.historyPhase = HistoryLoading
	if conversationID == "" {
		s.historyPhase = HistoryUnselected
	}
	conv, known := s.lookup(conversationID)
	s.resetUnread(conversationID)
	s.publish(UpdateSelection, conversationID)
	s.mu.Unlock()

	if err := s.rooms.Select(ctx, conversationID); err != nil {
		s.logger.Warn("switching room failed", "conversation_id", conversationID, "error", err)
	}
	s.selectMu.Unlock()

	if conversationID == "" {
		return
	}

	msgs, err := fetch(ctx, conv, known)
	s.applyHistory(g, conversationID, msgs, err)
}

// fetchHistory picks the endpoint for a directory entry. IDs not in the
// directory are treated as counterpart IDs.
func (s *Store) fetchHistory(ctx context.Context, conv model.Conversation, known bool) ([]model.Message, error) {
	switch {
	case !known:
		return s.fetcher.FetchHistoryByParticipant(ctx, conv.ID)
	case conv.CounterpartKeyed():
		return s.fetcher.FetchHistoryByParticipant(ctx, conv.Counterpart.ID)
	default:
		return s.fetcher.FetchHistory(ctx, conv.ID, conv.TopicID)
	}
}

func (s *Store) applyHistory(g uint64, conversationID string, msgs []model.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g != s.gen || s.selected != conversationID {
		s.metrics.StaleFetch()
		s.logger.Debug("discarding stale history", "conversation_id", conversationID)
		return
	}

	s.historyPhase = HistorySynced
	switch {
	case err == nil:
		msgs = s.normalize(msgs, conversationID)
		before := countOptimistic(s.messages)
		s.messages = s.orderer.Merge(s.messages, msgs, model.OriginFetch)
		s.metrics.EchoesReconciled(before - countOptimistic(s.messages))
	case errors.Is(err, model.ErrNotFound):
	default:
		s.historyErr = err
		s.metrics.FetchError(err)
		s.logger.Warn("loading history failed", "conversation_id", conversationID, "error", err)
	}
	s.publish(UpdateMessages, conversationID)
}

// normalize fills missing conversation IDs and learns the server-side ID of
// a conversation selected by counterpart.
func (s *Store) normalize(msgs []model.Message, conversationID string) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		} else if m.ConversationID != conversationID && s.resolved == "" {
			s.resolved = m.ConversationID
		}
		m.Origin = model.OriginFetch
		out[i] = m
	}
	return out
}

// ReceivePush applies a pushed message to the selected conversation. Pushes
// for other conversations are counted as unread and dropped.
func (s *Store) ReceivePush(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.matchesSelection(msg.ConversationID) {
		s.unread.Increment(msg.ConversationID)
		s.metrics.PushDropped(metrics.DropOtherConversation)
		s.logger.Debug("push for unselected conversation",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
		)
		s.publish(UpdateUnread, msg.ConversationID)
		return
	}

	before := countOptimistic(s.messages)
	s.messages = s.orderer.Merge(s.messages, []model.Message{msg}, model.OriginPush)
	s.metrics.EchoesReconciled(before - countOptimistic(s.messages))
	s.metrics.PushApplied()
	s.publish(UpdateMessages, s.selected)
}

func (s *Store) matchesSelection(conversationID string) bool {
	if s.selected == "" {
		return false
	}
	return conversationID == s.selected || (s.resolved != "" && conversationID == s.resolved)
}

// SendLocal appends an optimistic message from senderID and sends it. A
// channel failure marks the message Failed; the error return is reserved
// for invalid input.
func (s *Store) SendLocal(ctx context.Context, text, senderID string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}
	if senderID == "" {
		return model.Message{}, ErrNoSender
	}

	s.mu.Lock()
	if s.selected == "" {
		s.mu.Unlock()
		return model.Message{}, ErrNoSelection
	}

	ts := model.MillisFrom(s.now())
	if last, ok := s.lastLocal[senderID]; ok && ts <= last {
		ts = last + 1
	}
	s.lastLocal[senderID] = ts

	conversationID := s.selected
	if s.resolved != "" {
		conversationID = s.resolved
	}
	msg := model.Message{
		ConversationID: conversationID,
		Sender:         senderID,
		Text:           text,
		Timestamp:      ts,
		ClientID:       uuid.NewString(),
		Origin:         model.OriginLocal,
	}
	s.messages = s.orderer.Merge(s.messages, []model.Message{msg}, model.OriginLocal)
	s.publish(UpdateMessages, s.selected)
	s.mu.Unlock()

	return s.transmit(ctx, msg), nil
}

// Resend sends a failed local message again.
func (s *Store) Resend(ctx context.Context, clientID string) (model.Message, error) {
	s.mu.Lock()
	idx := slices.IndexFunc(s.messages, func(m model.Message) bool {
		return m.ClientID == clientID && m.Optimistic() && m.Failed
	})
	if clientID == "" || idx < 0 {
		s.mu.Unlock()
		return model.Message{}, ErrNotResendable
	}
	s.messages[idx].Failed = false
	msg := s.messages[idx]
	s.publish(UpdateMessages, s.selected)
	s.mu.Unlock()

	return s.transmit(ctx, msg), nil
}

func (s *Store) transmit(ctx context.Context, msg model.Message) model.Message {
	err := s.sender.Send(ctx, msg)
	if err == nil {
		return msg
	}

	s.metrics.SendFailure()
	s.logger.Warn("send failed",
		"conversation_id", msg.ConversationID,
		"client_id", msg.ClientID,
		"error", err,
	)
	msg.Failed = true

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ClientID == msg.ClientID && s.messages[i].Optimistic() {
			s.messages[i].Failed = true
			s.publish(UpdateMessages, s.selected)
			break
		}
	}
	return msg
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Subscribe streams updates until ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) <-chan Update {
	ch, _ := s.broadcaster.Subscribe(ctx, "")
	return ch
}

// SubscribeConversation streams updates concerning one conversation.
func (s *Store) SubscribeConversation(ctx context.Context, conversationID string) <-chan Update {
	ch, _ := s.broadcaster.Subscribe(ctx, conversationID)
	return ch
}

// Unread returns the pushes counted for conversationID while it was not
// selected. Zero when the counter does not report counts.
func (s *Store) Unread(conversationID string) int {
	if c, ok := s.unread.(interface{ Count(string) int }); ok {
		return c.Count(conversationID)
	}
	return 0
}

// Close ends all subscriptions.
func (s *Store) Close() {
	s.broadcaster.Close()
}

// lookup must be called with s.mu held.
func (s *Store) lookup(conversationID string) (model.Conversation, bool) {
	conv, ok := lo.Find(s.conversations, func(c model.Conversation) bool {
		return c.ID == conversationID
	})
	if !ok {
		return model.Conversation{ID: conversationID}, false
	}
	return conv, true
}

func (s *Store) resetUnread(conversationID string) {
	if r, ok := s.unread.(interface{ Reset(string) }); ok && conversationID != "" {
		r.Reset(conversationID)
	}
}

// publish must be called with s.mu held so updates keep state order.
func (s *Store) publish(kind UpdateKind, conversationID string) {
	s.broadcaster.Publish(conversationID, Update{
		Kind:           kind,
		Snapshot:       s.snapshot(),
		ConversationID: conversationID,
	})
}

func (s *Store) snapshot() Snapshot {
	return Snapshot{
		Conversations: slices.Clone(s.conversations),
		ListPhase:     s.listPhase,
		List:          SyncState{Loading: s.listPhase == ListLoading, Err: s.listErr},
		SelectedID:    s.selected,
		HistoryPhase:  s.historyPhase,
		History:       SyncState{Loading: s.historyPhase == HistoryLoading, Err: s.historyErr},
		Messages:      slices.Clone(s.messages),
		Room:          s.room,
	}
}

func countOptimistic(msgs []model.Message) int {
	return lo.CountBy(msgs, model.Message.Optimistic)
}
