// ABOUTME: Merges fetched, pushed and local messages into one ordered sequence
// ABOUTME: Reconciles optimistic local messages with their authoritative echo

package ordering

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/2389/roomsync/internal/model"
)

// DefaultTolerance is the echo matching window used when none is configured.
const DefaultTolerance = 5 * time.Second

// Orderer merges message batches for a single conversation.
type Orderer struct {
	tolerance model.Millis
}

// New creates an Orderer with the given echo tolerance. A non-positive
// tolerance only matches echoes with identical timestamps.
func New(tolerance time.Duration) *Orderer {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Orderer{tolerance: model.Millis(tolerance.Milliseconds())}
}

// Merge folds incoming messages of the given origin into existing and
// returns the resulting sequence.
func (o *Orderer) Merge(existing, incoming []model.Message, origin model.Origin) []model.Message {
	var out []model.Message

	switch origin {
	case model.OriginLocal:
		out = slices.Clone(existing)
		for _, m := range incoming {
			m.Origin = model.OriginLocal
			out = append(out, m)
		}

	case model.OriginFetch:
		if !lo.ContainsBy(existing, model.Message.Optimistic) {
			// Nothing unacknowledged to protect: the snapshot wins outright.
			out = make([]model.Message, 0, len(incoming))
			for _, m := range incoming {
				m.Origin = model.OriginFetch
				m.Failed = false
				out = append(out, m)
			}
			break
		}
		out = slices.Clone(existing)
		for _, m := range incoming {
			m.Origin = model.OriginFetch
			out = o.applyAuthoritative(out, m)
		}

	default:
		out = slices.Clone(existing)
		for _, m := range incoming {
			m.Origin = model.OriginPush
			out = o.applyAuthoritative(out, m)
		}
	}

	slices.SortStableFunc(out, func(a, b model.Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return out
}

// applyAuthoritative places an authoritative message into seq, replacing an
// entry with the same ID or promoting a matching optimistic entry.
// seq must be owned by the caller.
func (o *Orderer) applyAuthoritative(seq []model.Message, m model.Message) []model.Message {
	m.Failed = false

	if m.ID != "" {
		if _, i, ok := lo.FindIndexOf(seq, func(e model.Message) bool { return e.ID == m.ID }); ok {
			if m.ClientID == "" {
				m.ClientID = seq[i].ClientID
			}
			seq[i] = m
			return seq
		}
	}

	if i := o.echoIndex(seq, m); i >= 0 {
		if m.ClientID == "" {
			m.ClientID = seq[i].ClientID
		}
		seq[i] = m
		return seq
	}

	return append(seq, m)
}

// echoIndex returns the index of the optimistic entry that m acknowledges,
// or -1.
func (o *Orderer) echoIndex(seq []model.Message, m model.Message) int {
	if m.ClientID != "" {
		if _, i, ok := lo.FindIndexOf(seq, func(e model.Message) bool {
			return e.Optimistic() && e.ClientID == m.ClientID
		}); ok {
			return i
		}
	}

	_, i, ok := lo.FindIndexOf(seq, func(e model.Message) bool {
		if !e.Optimistic() {
			return false
		}
		// Two distinct client IDs are two distinct messages.
		if e.ClientID != "" && m.ClientID != "" && e.ClientID != m.ClientID {
			return false
		}
		return e.Sender == m.Sender && e.Text == m.Text && o.withinTolerance(e.Timestamp, m.Timestamp)
	})
	if !ok {
		return -1
	}
	return i
}

func (o *Orderer) withinTolerance(a, b model.Millis) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= o.tolerance
}
