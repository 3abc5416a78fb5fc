// Copyright 2025-2026 Quixote Systems

package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// sweepInterval is the cadence of the timeout sweep.
const sweepInterval = time.Second

// Tracker correlates outbound mesh sends that requested an
// acknowledgement with the delivery reports that come back, and logs a
// timeout for each that never does. Observability only: nothing is
// retried. A single mutex owns the pending table; registration, match
// and sweep all go through it.
type Tracker struct {
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[uint32]pendingAck
}

type pendingAck struct {
	dest   string
	text   string
	sentAt time.Time
}

// NewTracker builds a tracker with the given acknowledgement timeout.
func NewTracker(timeout time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		timeout: timeout,
		log:     log.With().Str("component", "acks").Logger(),
		pending: make(map[uint32]pendingAck),
	}
}

// Track registers an outstanding send under its packet id. At most one
// live entry exists per id; a reused id replaces the stale entry.
func (t *Tracker) Track(id uint32, dest, text string) {
	t.mu.Lock()
	t.pending[id] = pendingAck{dest: dest, text: text, sentAt: time.Now()}
	t.mu.Unlock()
}

// Confirm resolves a delivery report. It removes the entry and logs the
// latency; a report for an unknown or already-resolved id is ignored.
func (t *Tracker) Confirm(id uint32) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	t.log.Info().
		Uint32("packet_id", id).
		Str("dest", p.dest).
		Dur("latency", time.Since(p.sentAt)).
		Str("text", p.text).
		Msg("Delivery acknowledged")
	return true
}

// Pending is the number of outstanding entries.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// sweep removes every entry past its deadline, logging one timeout each.
func (t *Tracker) sweep(now time.Time) {
	type expired struct {
		id uint32
		p  pendingAck
	}
	var out []expired
	t.mu.Lock()
	for id, p := range t.pending {
		if now.Sub(p.sentAt) > t.timeout {
			out = append(out, expired{id: id, p: p})
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()
	for _, e := range out {
		t.log.Warn().
			Uint32("packet_id", e.id).
			Str("dest", e.p.dest).
			Dur("timeout", t.timeout).
			Str("text", e.p.text).
			Msg("Delivery acknowledgement timed out")
	}
}

// Run drives the timeout sweep until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}
