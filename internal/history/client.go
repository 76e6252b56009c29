// ABOUTME: REST client for the conversation directory and message history
// ABOUTME: Maps HTTP failures onto the shared sync error taxonomy

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/roomsync/internal/model"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// Fetcher retrieves directory and history data.
type Fetcher interface {
	FetchConversations(ctx context.Context) ([]model.Conversation, error)
	FetchConversation(ctx context.Context, conversationID, topicID string) (model.Conversation, []model.Message, error)
	FetchHistory(ctx context.Context, conversationID, topicID string) ([]model.Message, error)
	FetchHistoryByParticipant(ctx context.Context, participantID string) ([]model.Message, error)
}

// Client is the HTTP implementation of Fetcher.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends the token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "history")
	return c
}

// FetchConversations returns the user's conversation directory.
func (c *Client) FetchConversations(ctx context.Context) ([]model.Conversation, error) {
	var records []conversationRecord
	if err := c.getJSON(ctx, "/user/conversations", &records); err != nil {
		return nil, err
	}

	convs := make([]model.Conversation, 0, len(records))
	for _, r := range records {
		convs = append(convs, r.toConversation())
	}
	return convs, nil
}

// FetchConversation returns the summary record of a known conversation and
// any history embedded in it.
func (c *Client) FetchConversation(ctx context.Context, conversationID, topicID string) (model.Conversation, []model.Message, error) {
	if conversationID == "" {
		return model.Conversation{}, nil, fmt.Errorf("conversation id required")
	}

	var record conversationRecord
	path := "/fetch-messages/" + url.PathEscape(conversationID) + "/" + url.PathEscape(topicID)
	if err := c.getJSON(ctx, path, &record); err != nil {
		return model.Conversation{}, nil, err
	}

	if record.ConversationID == "" {
		record.ConversationID = conversationID
	}
	if record.IdeaID == "" {
		record.IdeaID = topicID
	}
	return record.toConversation(), withConversation(record.Messages, conversationID), nil
}

// FetchHistory returns the history of a known conversation.
func (c *Client) FetchHistory(ctx context.Context, conversationID, topicID string) ([]model.Message, error) {
	_, msgs, err := c.FetchConversation(ctx, conversationID, topicID)
	return msgs, err
}

// FetchHistoryByParticipant returns the direct history with a participant.
func (c *Client) FetchHistoryByParticipant(ctx context.Context, participantID string) ([]model.Message, error) {
	if participantID == "" {
		return nil, fmt.Errorf("participant id required")
	}

	var msgs []model.Message
	if err := c.getJSON(ctx, "/fetch-messages-for-user/"+url.PathEscape(participantID), &msgs); err != nil {
		return nil, err
	}
	return withConversation(msgs, ""), nil
}

// getJSON issues a GET and decodes a 200 response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("GET %s: %w", path, ctx.Err())
		}
		return fmt.Errorf("%w: GET %s: %v", model.ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("fetched",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// errorBody is the JSON error shape returned by the API.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleErrorResponse converts a non-200 response into a taxonomy error.
func handleErrorResponse(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	detail := strings.TrimSpace(string(body))
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Error != "" {
			detail = eb.Error
		} else if eb.Message != "" {
			detail = eb.Message
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: GET %s: %s", model.ErrUnauthorized, path, detail)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: GET %s", model.ErrNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: GET %s returned %d: %s", model.ErrNetwork, path, resp.StatusCode, detail)
	default:
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, detail)
	}
}
