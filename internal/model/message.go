// ABOUTME: Message entity, origin tracking and wire timestamp decoding
// ABOUTME: Validates inbound push payloads before they reach the store

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Origin records which source produced a message.
type Origin int

const (
	OriginFetch Origin = iota
	OriginPush
	OriginLocal
)

func (o Origin) String() string {
	switch o {
	case OriginFetch:
		return "fetch"
	case OriginPush:
		return "push"
	case OriginLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Millis is a timestamp in milliseconds since the Unix epoch.
type Millis int64

// MillisFrom converts a time.Time to Millis.
func MillisFrom(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time returns the timestamp as a time.Time.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}

// UnmarshalJSON accepts a number, a numeric string, or an RFC 3339 date string.
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding timestamp: %w", err)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*m = Millis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
		*m = MillisFrom(t)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	*m = Millis(int64(f))
	return nil
}

// Message is a single chat line in a conversation.
type Message struct {
	ID             string `json:"_id,omitempty"`
	ConversationID string `json:"conversationId" validate:"required"`
	Sender         string `json:"sender" validate:"required"`
	Text           string `json:"text" validate:"required"`
	Timestamp      Millis `json:"timestamp"`
	// ClientID correlates a local message with its server echo when the
	// server passes it through.
	ClientID string `json:"clientId,omitempty"`

	Origin Origin `json:"-"`
	Failed bool   `json:"-"`
}

// Optimistic reports whether the message has not been acknowledged by the server.
func (m Message) Optimistic() bool {
	return m.Origin == OriginLocal
}

var validate = validator.New()

// Validate checks the fields an inbound payload must carry.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}
