// ABOUTME: Tests for the conversation store state machines
// ABOUTME: Covers stale fetches, echo reconciliation, failed sends and unread routing

package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/roomsync/internal/channel"
	"github.com/2389/roomsync/internal/history"
	"github.com/2389/roomsync/internal/metrics"
	"github.com/2389/roomsync/internal/model"
	"github.com/2389/roomsync/internal/rooms"
)

type harness struct {
	store   *Store
	fetcher *history.MockFetcher
	channel *channel.MockChannel
	rooms   *rooms.Manager
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fetcher: history.NewMockFetcher(),
		channel: channel.NewMockChannel(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.rooms = rooms.New(h.channel, nil, h.metrics)
	h.store = New(h.fetcher, h.rooms, h.channel, WithMetrics(h.metrics))
	h.rooms.OnChange(h.store.RoomChanged)
	t.Cleanup(h.store.Close)
	return h
}

func directory() []model.Conversation {
	return []model.Conversation{
		{ID: "u2", Counterpart: &model.Participant{ID: "u2", Name: "Ada"}},
		{ID: "c9", TopicID: "i1", Participants: []model.Participant{{ID: "u1"}, {ID: "u3"}}},
	}
}

func msg(id, conv, sender, text string, ts model.Millis) model.Message {
	return model.Message{ID: id, ConversationID: conv, Sender: sender, Text: text, Timestamp: ts}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadConversations(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetConversations(directory(), nil)

	assert.Equal(t, ListIdle, h.store.Snapshot().ListPhase)
	h.store.LoadConversations(t.Context())

	snap := h.store.Snapshot()
	assert.Equal(t, ListReady, snap.ListPhase)
	assert.False(t, snap.List.Loading)
	assert.NoError(t, snap.List.Err)
	assert.Len(t, snap.Conversations, 2)
}

func TestLoadConversations_ErrorYieldsEmptyList(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetConversations(directory(), nil)
	h.store.LoadConversations(t.Context())

	h.fetcher.SetConversations(nil, fmt.Errorf("GET: %w", model.ErrUnauthorized))
	h.store.LoadConversations(t.Context())

	snap := h.store.Snapshot()
	assert.Equal(t, ListReady, snap.ListPhase)
	assert.Empty(t, snap.Conversations)
	assert.ErrorIs(t, snap.List.Err, model.ErrUnauthorized)
	assert.Equal(t, 1.0, h.metrics.Counts()["fetch_errors:unauthorized"])
}

func TestLoadConversations_NotFoundIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetConversations(nil, model.ErrNotFound)
	h.store.LoadConversations(t.Context())

	snap := h.store.Snapshot()
	assert.Empty(t, snap.Conversations)
	assert.NoError(t, snap.List.Err)
}

func TestSelect_FetchesByParticipantForCounterpartEntries(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetConversations(directory(), nil)
	h.store.LoadConversations(t.Context())
	h.fetcher.SetHistory("u2", []model.Message{
		msg("m1", "u2", "u2", "late", 2000),
		msg("m2", "u2", "u1", "early", 1000),
	})

	h.store.Select(t.Context(), "u2")

	snap := h.store.Snapshot()
	assert.Equal(t, "u2", snap.SelectedID)
	assert.Equal(t, HistorySynced, snap.HistoryPhase)
	assert.Equal(t, []string{"m2", "m1"}, ids(snap.Messages))
	assert.Equal(t, []string{"conversations", "u2"}, h.fetcher.Calls())
	assert.Equal(t, "u2", h.rooms.Current())
}

func TestSelect_FetchesKnownConversation(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetConversations(directory(), nil)
	h.store.LoadConversations(t.Context())
	h.fetcher.SetHistory("c9", []model.Message{{ID: "m1", Sender: "u3", Text: "x", Timestamp: 1}})

	h.store.Select(t.Context(), "c9")

	snap := h.store.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "c9", snap.Messages[0].ConversationID)
	conv, ok := snap.Selected()
	require.True(t, ok)
	assert.Equal(t, "i1", conv.TopicID)
}

func TestSelect_ErrorBecomesState(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetError("c1", fmt.Errorf("GET: %w", model.ErrNetwork))

	h.store.Select(t.Context(), "c1")

	snap := h.store.Snapshot()
	assert.Equal(t, HistorySynced, snap.HistoryPhase)
	assert.ErrorIs(t, snap.History.Err, model.ErrNetwork)
	assert.True(t, model.Retryable(snap.History.Err))
	assert.Empty(t, snap.Messages)
}

func TestSelect_NotFoundIsEmptyHistory(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetError("c1", model.ErrNotFound)

	h.store.Select(t.Context(), "c1")

	snap := h.store.Snapshot()
	assert.Equal(t, HistorySynced, snap.HistoryPhase)
	assert.NoError(t, snap.History.Err)
	assert.Empty(t, snap.Messages)
}

func TestSelect_ClearsBeforeHistoryArrives(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetHistory("a", []model.Message{msg("a1", "a", "u2", "from a", 1)})
	h.fetcher.SetHistory("b", []model.Message{msg("b1", "b", "u3", "from b", 1)})
	h.store.Select(t.Context(), "a")
	require.Len(t, h.store.Snapshot().Messages, 1)

	updates := h.store.Subscribe(t.Context())
	release := h.fetcher.Block("b")
	done := make(chan struct{})
	go func() {
		h.store.Select(t.Context(), "b")
		close(done)
	}()

	select {
	case u := <-updates:
		assert.Equal(t, UpdateSelection, u.Kind)
		assert.Equal(t, "b", u.Snapshot.SelectedID)
		assert.Equal(t, HistoryLoading, u.Snapshot.HistoryPhase)
		assert.True(t, u.Snapshot.History.Loading)
		assert.Empty(t, u.Snapshot.Messages)
	case <-time.After(time.Second):
		t.Fatal("no selection update")
	}
	assert.Empty(t, h.store.Snapshot().Messages)

	release()
	<-done
	assert.Equal(t, []string{"b1"}, ids(h.store.Snapshot().Messages))
}

// A push that lands while history is loading is replaced by the fetched
// snapshot when no local sends are pending.
func TestSelect_SnapshotReplacesPushDuringLoad(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetHistory("c1", []model.Message{msg("m1", "c1", "u2", "old", 1)})

	release := h.fetcher.Block("c1")
	done := make(chan struct{})
	go func() {
		h.store.Select(t.Context(), "c1")
		close(done)
	}()
	require.Eventually(t, func() bool {
		return len(h.fetcher.Calls()) == 1
	}, time.Second, 5*time.Millisecond)

	h.store.ReceivePush(msg("m2", "c1", "u2", "early", 2))
	assert.Equal(t, []string{"m2"}, ids(h.store.Snapshot().Messages))

	release()
	<-done
	assert.Equal(t, []string{"m1"}, ids(h.store.Snapshot().Messages))
}

func TestSelect_StaleFetchIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetHistory("a", []model.Message{msg("a1", "a", "u2", "from a", 1)})
	h.fetcher.SetHistory("b", []model.Message{msg("b1", "b", "u3", "from b", 1)})

	release := h.fetcher.Block("a")
	doneA := make(chan struct{})
	go func() {
		h.store.Select(t.Context(), "a")
		close(doneA)
	}()
	require.Eventually(t, func() bool {
		return len(h.fetcher.Calls()) == 1
	}, time.Second, 5*time.Millisecond)

	h.store.Select(t.Context(), "b")
	before := h.store.Snapshot()

	release()
	<-doneA

	after := h.store.Snapshot()
	assert.Equal(t, "b", after.SelectedID)
	assert.Equal(t, before.Messages, after.Messages)
	assert.Equal(t, []string{"b1"}, ids(after.Messages))
	assert.Equal(t, 1.0, h.metrics.Counts()["stale_fetches"])
}

func TestSelect_SameConversationTwiceJoinsOnce(t *testing.T) {
	h := newHarness(t)

	h.store.Select(t.Context(), "c1")
	h.store.Select(t.Context(), "c1")

	var joins int
	for _, op := range h.channel.Ops() {
		if op.Kind == channel.OpJoin {
			joins++
		}
	}
	assert.Equal(t, 1, joins)
	assert.Equal(t, []string{"c1", "c1"}, h.fetcher.Calls())
}

func TestSelect_ReselectKeepsFailedSend(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetHistory("c1", []model.Message{msg("m1", "c1", "u2", "hi", 1)})
	h.store.Select(t.Context(), "c1")
	h.channel.Disconnect()

	sent, err := h.store.SendLocal(t.Context(), "hello", "u1")
	require.NoError(t, err)
	require.True(t, sent.Failed)

	h.store.Select(t.Context(), "c1")

	snap := h.store.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, sent.ClientID, snap.Messages[1].ClientID)
	assert.True(t, snap.Messages[1].Failed)
	assert.Equal(t, HistorySynced, snap.HistoryPhase)

	h.store.Select(t.Context(), "c2")
	h.store.Select(t.Context(), "c1")
	assert.Equal(t, []string{"m1"}, ids(h.store.Snapshot().Messages), "leaving the conversation drops unsent messages")
}

func TestRoomChanged_FollowsManager(t *testing.T) {
	h := newHarness(t)
	updates := h.store.Subscribe(t.Context())

	h.store.Select(t.Context(), "c1")
	assert.Equal(t, "c1", h.store.Snapshot().Room)

	h.store.Select(t.Context(), "")
	assert.Equal(t, "", h.store.Snapshot().Room)

	var rooms []string
	for len(updates) > 0 {
		if u := <-updates; u.Kind == UpdateRoom {
			rooms = append(rooms, u.Snapshot.Room)
		}
	}
	assert.Equal(t, []string{"c1", ""}, rooms)
}

func TestSelect_EmptyDeselects(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetHistory("c1", []model.Message{msg("m1", "c1", "u2", "x", 1)})
	h.store.Select(t.Context(), "c1")

	h.store.Select(t.Context(), "")

	snap := h.store.Snapshot()
	assert.Equal(t, HistoryUnselected, snap.HistoryPhase)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, "", h.rooms.Current())
}

func TestReceivePush_AppliesToSelection(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetHistory("c1", []model.Message{msg("m1", "c1", "u2", "first", 1000)})
	h.store.Select(t.Context(), "c1")

	h.store.ReceivePush(msg("m2", "c1", "u2", "second", 500))
	h.store.ReceivePush(msg("m3", "c1", "u2", "third", 3000))

	assert.Equal(t, []string{"m2", "m1", "m3"}, ids(h.store.Snapshot().Messages))
	assert.Equal(t, 2.0, h.metrics.Counts()["pushes_applied"])
}

func TestReceivePush_OtherConversationCountsUnread(t *testing.T) {
	h := newHarness(t)
	h.store.Select(t.Context(), "c1")

	h.store.ReceivePush(msg("x1", "c2", "u3", "elsewhere", 1))
	h.store.ReceivePush(msg("x2", "c2", "u3", "again", 2))

	assert.Empty(t, h.store.Snapshot().Messages)
	assert.Equal(t, 2, h.store.Unread("c2"))
	assert.Equal(t, 2.0, h.metrics.Counts()["pushes_dropped:other_conversation"])

	h.store.Select(t.Context(), "c2")
	assert.Equal(t, 0, h.store.Unread("c2"))
}

func TestReceivePush_NoSelection(t *testing.T) {
	h := newHarness(t)
	h.store.ReceivePush(msg("x1", "c2", "u3", "elsewhere", 1))
	assert.Empty(t, h.store.Snapshot().Messages)
	assert.Equal(t, 1, h.store.Unread("c2"))
}

func TestReceivePush_ResolvedConversationID(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetConversations(directory(), nil)
	h.store.LoadConversations(t.Context())
	h.fetcher.SetHistory("u2", []model.Message{msg("m1", "conv-77", "u2", "hi", 1)})
	h.store.Select(t.Context(), "u2")

	h.store.ReceivePush(msg("m2", "conv-77", "u2", "there", 2))
	assert.Equal(t, []string{"m1", "m2"}, ids(h.store.Snapshot().Messages))

	sent, err := h.store.SendLocal(t.Context(), "reply", "u1")
	require.NoError(t, err)
	assert.Equal(t, "conv-77", sent.ConversationID)
}

func TestSendLocal_EchoReconciles(t *testing.T) {
	h := newHarness(t)
	h.store.now = func() time.Time { return time.UnixMilli(1000) }
	h.store.Select(t.Context(), "c1")

	sent, err := h.store.SendLocal(t.Context(), "  hi  ", "u1")
	require.NoError(t, err)
	assert.Equal(t, "hi", sent.Text)
	assert.Equal(t, model.Millis(1000), sent.Timestamp)
	assert.Empty(t, sent.ID)
	assert.NotEmpty(t, sent.ClientID)
	assert.False(t, sent.Failed)

	snap := h.store.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].Optimistic())
	require.Len(t, h.channel.Sent(), 1)
	assert.Equal(t, sent.ClientID, h.channel.Sent()[0].ClientID)

	h.store.ReceivePush(msg("m1", "c1", "u1", "hi", 1000))

	snap = h.store.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "hi", snap.Messages[0].Text)
	assert.Equal(t, model.Millis(1000), snap.Messages[0].Timestamp)
	assert.False(t, snap.Messages[0].Optimistic())
	assert.Equal(t, 1.0, h.metrics.Counts()["echoes_reconciled"])
}

func TestSendLocal_FailedSendStaysVisible(t *testing.T) {
	h := newHarness(t)
	h.store.Select(t.Context(), "c1")
	h.channel.Disconnect()

	sent, err := h.store.SendLocal(t.Context(), "hello", "u1")
	require.NoError(t, err)
	assert.True(t, sent.Failed)

	snap := h.store.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].Failed)
	assert.True(t, snap.Messages[0].Optimistic())
	assert.Equal(t, 1.0, h.metrics.Counts()["send_failures"])
}

func TestResend(t *testing.T) {
	h := newHarness(t)
	h.store.Select(t.Context(), "c1")
	h.channel.SetSendError(errors.New("boom"))

	sent, err := h.store.SendLocal(t.Context(), "hello", "u1")
	require.NoError(t, err)
	require.True(t, sent.Failed)

	h.channel.SetSendError(nil)
	again, err := h.store.Resend(t.Context(), sent.ClientID)
	require.NoError(t, err)
	assert.False(t, again.Failed)
	assert.Equal(t, sent.ClientID, again.ClientID)

	snap := h.store.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.False(t, snap.Messages[0].Failed)
	assert.Len(t, h.channel.Sent(), 1)

	_, err = h.store.Resend(t.Context(), sent.ClientID)
	assert.ErrorIs(t, err, ErrNotResendable)
	_, err = h.store.Resend(t.Context(), "")
	assert.ErrorIs(t, err, ErrNotResendable)
}

func TestSendLocal_InvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.store.SendLocal(t.Context(), "hi", "u1")
	assert.ErrorIs(t, err, ErrNoSelection)

	h.store.Select(t.Context(), "c1")
	_, err = h.store.SendLocal(t.Context(), "   ", "u1")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = h.store.SendLocal(t.Context(), "hi", "")
	assert.ErrorIs(t, err, ErrNoSender)

	assert.Empty(t, h.store.Snapshot().Messages)
	assert.Empty(t, h.channel.Sent())
}

func TestSendLocal_TimestampsMonotonicPerSender(t *testing.T) {
	h := newHarness(t)
	h.store.now = func() time.Time { return time.UnixMilli(5000) }
	h.store.Select(t.Context(), "c1")

	var got []model.Millis
	for _, text := range []string{"a", "b", "c"} {
		m, err := h.store.SendLocal(t.Context(), text, "u1")
		require.NoError(t, err)
		got = append(got, m.Timestamp)
	}
	assert.Equal(t, []model.Millis{5000, 5001, 5002}, got)

	texts := make([]string, 0, 3)
	for _, m := range h.store.Snapshot().Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"a", "b", "c"}, texts)
}

func TestSendLocal_FetchKeepsOptimistic(t *testing.T) {
	h := newHarness(t)
	h.store.now = func() time.Time { return time.UnixMilli(9000) }
	h.fetcher.SetHistory("c1", []model.Message{msg("m1", "c1", "u2", "old", 1000)})
	release := h.fetcher.Block("c1")

	done := make(chan struct{})
	go func() {
		h.store.Select(t.Context(), "c1")
		close(done)
	}()
	require.Eventually(t, func() bool {
		return h.store.Snapshot().SelectedID == "c1"
	}, time.Second, 5*time.Millisecond)

	_, err := h.store.SendLocal(t.Context(), "new", "u1")
	require.NoError(t, err)
	release()
	<-done

	snap := h.store.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "new", snap.Messages[1].Text)
	assert.True(t, snap.Messages[1].Optimistic())
}

func TestOpenConversation(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetSummary(model.Conversation{
		ID:          "c1",
		TopicID:     "i1",
		Counterpart: &model.Participant{ID: "u5", Name: "Cy"},
	})
	h.fetcher.SetHistory("c1", []model.Message{msg("m1", "c1", "u5", "hello", 1)})

	require.NoError(t, h.store.OpenConversation(t.Context(), "c1", "i1"))

	snap := h.store.Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, "Cy", snap.Conversations[0].Title())
	assert.Equal(t, "c1", snap.SelectedID)
	assert.Equal(t, []string{"m1"}, ids(snap.Messages))
	assert.Equal(t, "c1", h.rooms.Current())
	assert.Equal(t, []string{"c1"}, h.fetcher.Calls())

	assert.ErrorIs(t, h.store.OpenConversation(t.Context(), "", "i1"), ErrNoSelection)
}

func TestOpenConversation_FailureKeepsDirectoryAndJoins(t *testing.T) {
	h := newHarness(t)
	h.fetcher.SetConversations(directory(), nil)
	h.store.LoadConversations(t.Context())
	h.fetcher.SetError("c1", model.ErrNetwork)

	require.NoError(t, h.store.OpenConversation(t.Context(), "c1", "i1"))

	snap := h.store.Snapshot()
	assert.ErrorIs(t, snap.List.Err, model.ErrNetwork)
	assert.Len(t, snap.Conversations, 2)
	assert.Equal(t, "c1", snap.SelectedID)
	assert.Equal(t, HistorySynced, snap.HistoryPhase)
	assert.ErrorIs(t, snap.History.Err, model.ErrNetwork)
	assert.Equal(t, "c1", h.rooms.Current())
	assert.Equal(t, 1.0, h.metrics.Counts()["fetch_errors:network"])

	h.store.ReceivePush(msg("m1", "c1", "u2", "still here", 5))
	assert.Equal(t, []string{"m1"}, ids(h.store.Snapshot().Messages))
}

func TestConcurrentSelectsEndConsistent(t *testing.T) {
	h := newHarness(t)
	for i := range 4 {
		id := fmt.Sprintf("c%d", i)
		h.fetcher.SetHistory(id, []model.Message{msg(id+"-m", id, "u", "x", 1)})
	}

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.store.Select(t.Context(), fmt.Sprintf("c%d", i%4))
		}()
	}
	wg.Wait()

	snap := h.store.Snapshot()
	assert.Equal(t, snap.SelectedID, h.rooms.Current())
	for _, m := range snap.Messages {
		assert.Equal(t, snap.SelectedID, m.ConversationID)
	}
}
