// ABOUTME: Tests for sync counters and error kind labels
// ABOUTME: Reads counter values back through prometheus testutil

package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/roomsync/internal/model"
)

func TestMetrics_CountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PushApplied()
	m.PushApplied()
	m.PushDropped(DropOtherConversation)
	m.EchoesReconciled(3)
	m.EchoesReconciled(0)
	m.StaleFetch()
	m.FetchError(fmt.Errorf("loading: %w", model.ErrNetwork))
	m.SendFailure()
	m.Reconnect()
	m.RoomJoin()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pushesApplied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushesDropped.WithLabelValues(DropOtherConversation)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.echoesReconciled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleFetches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roomJoins))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.PushApplied()
	m.PushDropped(DropInvalid)
	m.EchoesReconciled(1)
	m.StaleFetch()
	m.FetchError(model.ErrNotFound)
	m.SendFailure()
	m.Reconnect()
	m.RoomJoin()
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "network", ErrorKind(model.ErrNetwork))
	assert.Equal(t, "unauthorized", ErrorKind(fmt.Errorf("x: %w", model.ErrUnauthorized)))
	assert.Equal(t, "not_found", ErrorKind(model.ErrNotFound))
	assert.Equal(t, "other", ErrorKind(errors.New("boom")))
}

func TestMetrics_Counts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.PushDropped(DropDuplicate)
	m.PushDropped(DropDuplicate)
	m.FetchError(model.ErrUnauthorized)
	m.Reconnect()

	counts := m.Counts()
	assert.Equal(t, 2.0, counts["pushes_dropped:duplicate"])
	assert.Equal(t, 1.0, counts["fetch_errors:unauthorized"])
	assert.Equal(t, 1.0, counts["reconnects"])
	assert.Equal(t, 0.0, counts["pushes_applied"])

	var nilMetrics *Metrics
	assert.Nil(t, nilMetrics.Counts())
}
