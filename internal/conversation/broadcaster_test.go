// ABOUTME: Tests for the store update broadcaster
// ABOUTME: Covers keyed and wildcard delivery, slow consumers and cleanup

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func receive(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func assertSilent(t *testing.T, ch <-chan Update) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected update %s", u.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_KeyedAndWildcard(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), "")
	c1, _ := b.Subscribe(t.Context(), "c1")
	c2, _ := b.Subscribe(t.Context(), "c2")

	b.Publish("c1", Update{Kind: UpdateMessages, ConversationID: "c1"})

	assert.Equal(t, UpdateMessages, receive(t, all).Kind)
	assert.Equal(t, "c1", receive(t, c1).ConversationID)
	assertSilent(t, c2)

	b.Publish("", Update{Kind: UpdateList})
	assert.Equal(t, UpdateList, receive(t, all).Kind)
	assertSilent(t, c1)
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), "c1")
	fast, _ := b.Subscribe(t.Context(), "c1")

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 3 {
			b.Publish("c1", Update{Kind: UpdateMessages})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked")
	}
	assert.Equal(t, UpdateMessages, receive(t, fast).Kind)
}

func TestBroadcaster_ContextCancellationCloses(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, subID := b.Subscribe(ctx, "c1")
	cancel()

	assert.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		_, exists := b.subscribers["c1"][subID]
		return !exists
	}, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_UnsubscribeAndClose(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, id1 := b.Subscribe(t.Context(), "c1")
	ch2, _ := b.Subscribe(t.Context(), "")

	b.Unsubscribe("c1", id1)
	b.Unsubscribe("c1", id1)
	_, ok := <-ch1
	assert.False(t, ok)

	b.Close()
	_, ok = <-ch2
	assert.False(t, ok)

	b.Publish("c1", Update{})
}
