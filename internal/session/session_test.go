// ABOUTME: Tests for session assembly and the channel event pump
// ABOUTME: Uses the mock channel and fetcher plus httptest for the config path

package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/roomsync/internal/auth"
	"github.com/2389/roomsync/internal/channel"
	"github.com/2389/roomsync/internal/config"
	"github.com/2389/roomsync/internal/history"
	"github.com/2389/roomsync/internal/model"
)

func startPump(t *testing.T, s *Session) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return cancelFn, errc
}

func TestSession_PumpDeliversPushes(t *testing.T) {
	ch := channel.NewMockChannel()
	fetcher := history.NewMockFetcher()
	s := Assemble(ch, fetcher, Options{UserID: "u1"})
	t.Cleanup(func() { _ = s.Close() })

	s.Store().Select(t.Context(), "c1")
	cancel, done := startPump(t, s)
	defer cancel()

	ch.Push(model.Message{ID: "m1", ConversationID: "c1", Sender: "u2", Text: "hi", Timestamp: 1})

	require.Eventually(t, func() bool {
		return len(s.Store().Snapshot().Messages) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSession_ReconnectRejoinsRoom(t *testing.T) {
	ch := channel.NewMockChannel()
	s := Assemble(ch, history.NewMockFetcher(), Options{UserID: "u1"})
	t.Cleanup(func() { _ = s.Close() })

	s.Store().Select(t.Context(), "c1")
	cancel, _ := startPump(t, s)
	defer cancel()

	ch.Disconnect()
	require.Eventually(t, func() bool { return !s.Connected() }, time.Second, 5*time.Millisecond)
	ch.Reconnect()
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		var joins int
		for _, op := range ch.Ops() {
			if op.Kind == channel.OpJoin {
				joins++
			}
		}
		return joins == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSession_ReplayedJoinNotDuplicated(t *testing.T) {
	ch := channel.NewMockChannel()
	s := Assemble(ch, history.NewMockFetcher(), Options{UserID: "u1"})
	t.Cleanup(func() { _ = s.Close() })

	cancel, _ := startPump(t, s)
	defer cancel()

	ch.Disconnect()
	s.Store().Select(t.Context(), "c1")
	ch.Reconnect()
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	// Let the pump handle the reconnect before counting.
	time.Sleep(20 * time.Millisecond)
	ops := ch.Ops()
	require.Len(t, ops, 1)
	assert.True(t, ops[0].Replayed)
}

func TestSession_RunEndsWhenChannelCloses(t *testing.T) {
	ch := channel.NewMockChannel()
	s := Assemble(ch, history.NewMockFetcher(), Options{UserID: "u1"})

	_, done := startPump(t, s)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestNew_UserFromToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/conversations", r.URL.Path)
		_, _ = w.Write([]byte(`[{"_id":"u2","fullName":"Ada"}]`))
	}))
	t.Cleanup(srv.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	t.Setenv(auth.EnvToken, "")

	cfg := &config.Config{}
	cfg.Server.APIURL = srv.URL
	cfg.Server.PushURL = "ws://127.0.0.1:1"
	cfg.Server.RequestTimeout = time.Second
	cfg.User.Token = token
	cfg.Sync.DedupeTTL = time.Minute
	cfg.Sync.DedupeSize = 10

	s, err := New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, "u1", s.UserID())
	assert.NotNil(t, s.Metrics())

	s.Store().LoadConversations(t.Context())
	snap := s.Store().Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, "Ada", snap.Conversations[0].Title())
}

func TestNew_NoUser(t *testing.T) {
	t.Setenv(auth.EnvToken, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := &config.Config{}
	cfg.Server.APIURL = "http://127.0.0.1:1"
	cfg.Server.PushURL = "ws://127.0.0.1:1"

	_, err := New(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestSession_StoreTracksJoinedRoom(t *testing.T) {
	ch := channel.NewMockChannel()
	s := Assemble(ch, history.NewMockFetcher(), Options{UserID: "u1"})
	t.Cleanup(func() { _ = s.Close() })

	s.Store().Select(t.Context(), "c1")
	assert.Equal(t, "c1", s.Store().Snapshot().Room)

	s.Store().Select(t.Context(), "c2")
	assert.Equal(t, "c2", s.Store().Snapshot().Room)
	assert.Equal(t, s.Rooms().Current(), s.Store().Snapshot().Room)
}
