// ABOUTME: Process-scoped composition root for the sync components
// ABOUTME: Builds the push channel once and pumps its events into rooms and the store

// Package session assembles the history client, push channel, room manager
// and conversation store from configuration and owns their lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/roomsync/internal/auth"
	"github.com/2389/roomsync/internal/channel"
	"github.com/2389/roomsync/internal/config"
	"github.com/2389/roomsync/internal/conversation"
	"github.com/2389/roomsync/internal/dedupe"
	"github.com/2389/roomsync/internal/history"
	"github.com/2389/roomsync/internal/metrics"
	"github.com/2389/roomsync/internal/ordering"
	"github.com/2389/roomsync/internal/rooms"
)

// ErrNoUser is returned when no user ID is configured and the token does not
// carry one.
var ErrNoUser = errors.New("user id unknown: set user.id or use a token with a subject")

// Options configures Assemble.
type Options struct {
	UserID        string
	EchoTolerance time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Session owns one push channel and the components fed by it.
type Session struct {
	userID  string
	channel channel.Channel
	fetcher history.Fetcher
	rooms   *rooms.Manager
	store   *conversation.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	closers   []func()
	connected atomic.Bool
	closeOnce sync.Once
}

// New builds a session from configuration. reg may be nil.
func New(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	token, err := auth.LoadToken(cfg.User.Token, cfg.User.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}

	userID := cfg.User.ID
	if token != "" {
		claims, err := auth.Inspect(token)
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			logger.Warn("token expired", "expired_at", claims.ExpiresAt)
		case err != nil:
			logger.Debug("token carries no readable identity", "error", err)
		}
		if userID == "" {
			userID = claims.Subject
		}
	}
	if userID == "" {
		return nil, ErrNoUser
	}

	m := metrics.New(reg)
	cache := dedupe.New(cfg.Sync.DedupeTTL, cfg.Sync.DedupeSize)

	fetcher := history.NewClient(cfg.Server.APIURL,
		history.WithToken(token),
		history.WithTimeout(cfg.Server.RequestTimeout),
		history.WithLogger(logger),
	)

	ws := channel.New(channel.Config{
		URL:              cfg.Server.PushURL,
		Token:            token,
		ReconnectInitial: cfg.Channel.ReconnectInitial,
		ReconnectMax:     cfg.Channel.ReconnectMax,
		PingInterval:     cfg.Channel.PingInterval,
		SendBuffer:       cfg.Channel.SendBuffer,
		Dedupe:           cache,
		Metrics:          m,
		Logger:           logger,
	})

	s := Assemble(ws, fetcher, Options{
		UserID:        userID,
		EchoTolerance: cfg.Sync.EchoTolerance,
		Metrics:       m,
		Logger:        logger,
	})
	s.closers = append(s.closers, cache.Close)
	return s, nil
}

// Assemble wires a session around an existing channel and fetcher.
func Assemble(ch channel.Channel, fetcher history.Fetcher, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tolerance := opts.EchoTolerance
	if tolerance <= 0 {
		tolerance = ordering.DefaultTolerance
	}

	mgr := rooms.New(ch, logger, opts.Metrics)
	store := conversation.New(fetcher, mgr, ch,
		conversation.WithOrderer(ordering.New(tolerance)),
		conversation.WithMetrics(opts.Metrics),
		conversation.WithLogger(logger),
	)
	mgr.OnChange(store.RoomChanged)

	return &Session{
		userID:  opts.UserID,
		channel: ch,
		fetcher: fetcher,
		rooms:   mgr,
		store:   store,
		metrics: opts.Metrics,
		logger:  logger.With("component", "session"),
	}
}

// UserID returns the local user's ID.
func (s *Session) UserID() string { return s.userID }

// Store returns the conversation store.
func (s *Session) Store() *conversation.Store { return s.store }

// Rooms returns the room manager.
func (s *Session) Rooms() *rooms.Manager { return s.rooms }

// Metrics returns the session counters. May be nil.
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }

// Connected reports whether the push channel is currently connected.
func (s *Session) Connected() bool { return s.connected.Load() }

// Run starts the channel if needed and delivers its events until ctx is
// cancelled or the channel closes.
func (s *Session) Run(ctx context.Context) error {
	if starter, ok := s.channel.(interface{ Start(context.Context) }); ok {
		starter.Start(ctx)
	}

	events := s.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev channel.Event) {
	switch ev.Kind {
	case channel.EventMessage:
		s.store.ReceivePush(ev.Message)
	case channel.EventConnected, channel.EventReconnected:
		s.connected.Store(true)
		s.logger.Info("push channel up", "event", ev.Kind.String())
		if err := s.rooms.Reconnected(ctx); err != nil {
			s.logger.Warn("rejoining room failed", "error", err)
		}
	case channel.EventDisconnected:
		s.connected.Store(false)
		s.logger.Warn("push channel down", "error", ev.Err)
	}
}

// Close tears down the store subscriptions and the channel.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.store.Close()
		err = s.channel.Close()
		for _, fn := range s.closers {
			fn()
		}
	})
	return err
}
