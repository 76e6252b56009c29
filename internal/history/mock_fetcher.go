// ABOUTME: In-memory Fetcher for tests
// ABOUTME: Supports holding calls open to reproduce slow responses

package history

import (
	"context"
	"sync"

	"github.com/2389/roomsync/internal/model"
)

// MockFetcher is an in-memory Fetcher. Responses are keyed by conversation
// or participant ID.
type MockFetcher struct {
	mu sync.Mutex

	conversations    []model.Conversation
	conversationsErr error
	summaries        map[string]model.Conversation
	histories        map[string][]model.Message
	errs             map[string]error
	gates            map[string]chan struct{}
	calls            []string
}

// NewMockFetcher creates an empty mock.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		summaries: make(map[string]model.Conversation),
		histories: make(map[string][]model.Message),
		errs:      make(map[string]error),
		gates:     make(map[string]chan struct{}),
	}
}

// SetConversations sets the directory response.
func (m *MockFetcher) SetConversations(convs []model.Conversation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = convs
	m.conversationsErr = err
}

// SetSummary sets the summary record returned for a conversation.
func (m *MockFetcher) SetSummary(conv model.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[conv.ID] = conv
}

// SetHistory sets the history returned for a conversation or participant ID.
func (m *MockFetcher) SetHistory(id string, msgs []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[id] = msgs
}

// SetError makes fetches for id fail with err.
func (m *MockFetcher) SetError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, id)
		return
	}
	m.errs[id] = err
}

// Block holds fetches for id open until the returned release is called.
func (m *MockFetcher) Block(id string) (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gates[id] = gate

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gates[id] == gate {
				delete(m.gates, id)
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns the IDs fetched so far in call order.
func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// FetchConversations implements Fetcher.
func (m *MockFetcher) FetchConversations(ctx context.Context) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "conversations")
	if m.conversationsErr != nil {
		return nil, m.conversationsErr
	}
	return append([]model.Conversation(nil), m.conversations...), nil
}

// FetchConversation implements Fetcher.
func (m *MockFetcher) FetchConversation(ctx context.Context, conversationID, topicID string) (model.Conversation, []model.Message, error) {
	msgs, err := m.fetch(ctx, conversationID)
	if err != nil {
		return model.Conversation{}, nil, err
	}

	m.mu.Lock()
	conv, ok := m.summaries[conversationID]
	m.mu.Unlock()
	if !ok {
		conv = model.Conversation{ID: conversationID, TopicID: topicID}
	}
	return conv, withConversation(msgs, conversationID), nil
}

// FetchHistory implements Fetcher.
func (m *MockFetcher) FetchHistory(ctx context.Context, conversationID, topicID string) ([]model.Message, error) {
	msgs, err := m.fetch(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return withConversation(msgs, conversationID), nil
}

// FetchHistoryByParticipant implements Fetcher.
func (m *MockFetcher) FetchHistoryByParticipant(ctx context.Context, participantID string) ([]model.Message, error) {
	msgs, err := m.fetch(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return withConversation(msgs, ""), nil
}

func (m *MockFetcher) fetch(ctx context.Context, id string) ([]model.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, id)
	gate := m.gates[id]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[id]; err != nil {
		return nil, err
	}
	return append([]model.Message(nil), m.histories[id]...), nil
}

var _ Fetcher = (*MockFetcher)(nil)
var _ Fetcher = (*Client)(nil)
