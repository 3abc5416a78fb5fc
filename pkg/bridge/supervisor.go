// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// State is the lifecycle of one supervised endpoint connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateDegraded means the link is up but the last liveness probe went
	// unanswered. Sends are best-effort, governed by the supervisor's
	// degraded-send policy.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// ErrNotConnected gates sends on a link that cannot carry them.
var ErrNotConnected = errors.New("link not connected")

// Endpoint is one physical or logical link the supervisor keeps alive.
type Endpoint interface {
	Connect(ctx context.Context) error
	// Probe checks liveness within ctx's deadline.
	Probe(ctx context.Context) error
	Close() error
	// Done reports loss of the current link. Valid after Connect returns.
	Done() <-chan error
}

const (
	backoffInitial = time.Second
	backoffMax     = 30 * time.Second

	// probeMissLimit consecutive unanswered probes drop the link.
	probeMissLimit = 2
)

// Supervisor keeps one Endpoint alive: reconnect with bounded exponential
// backoff, optional periodic liveness probing, and a state gate consulted
// by every send.
type Supervisor struct {
	name          string
	ep            Endpoint
	heartbeat     time.Duration // 0 disables probing
	allowDegraded bool
	log           zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewSupervisor wraps ep. heartbeat of 0 disables liveness probing;
// allowDegraded selects whether a Degraded link still accepts sends.
func NewSupervisor(name string, ep Endpoint, heartbeat time.Duration, allowDegraded bool, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		name:          name,
		ep:            ep,
		heartbeat:     heartbeat,
		allowDegraded: allowDegraded,
		log:           log.With().Str("component", "supervisor").Str("link", name).Logger(),
		state:         StateDisconnected,
	}
}

// State is the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState logs every transition; none are silent.
func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	s.log.Info().
		Stringer("from", prev).
		Stringer("to", next).
		Msg("Connection state changed")
}

// Ready reports whether the link accepts a send right now.
func (s *Supervisor) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		return nil
	case StateDegraded:
		if s.allowDegraded {
			return nil
		}
		return ErrNotConnected
	default:
		return ErrNotConnected
	}
}

// Do runs op if the link accepts sends, holding the state read and the
// operation together so a send never observes a stale state.
func (s *Supervisor) Do(ctx context.Context, op func(context.Context) error) error {
	if err := s.Ready(); err != nil {
		return err
	}
	if s.State() == StateDegraded {
		s.log.Warn().Msg("Sending on degraded link (best effort)")
	}
	return op(ctx)
}

// Run is the supervisor loop: connect with backoff, monitor until the
// link drops, reconnect. It returns when ctx is cancelled, closing the
// endpoint on the way out.
func (s *Supervisor) Run(ctx context.Context) {
	defer func() {
		_ = s.ep.Close()
		s.setState(StateDisconnected)
	}()
	for {
		s.setState(StateConnecting)
		if err := s.connectWithBackoff(ctx); err != nil {
			return // ctx cancelled
		}
		s.setState(StateConnected)

		s.monitor(ctx)

		_ = s.ep.Close()
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Supervisor) connectWithBackoff(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInitial
	bo.MaxInterval = backoffMax
	bo.MaxElapsedTime = 0 // retry until shutdown
	return backoff.RetryNotify(
		func() error { return s.ep.Connect(ctx) },
		backoff.WithContext(bo, ctx),
		func(err error, next time.Duration) {
			s.log.Warn().Err(err).Dur("retry_in", next).Msg("Connect failed")
		},
	)
}

// monitor waits on link loss, shutdown, or — when probing is enabled —
// the heartbeat cadence. It returns when the link should be considered
// down.
func (s *Supervisor) monitor(ctx context.Context) {
	var probeTick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		probeTick = ticker.C
	}

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.ep.Done():
			s.log.Warn().Err(err).Msg("Link lost")
			return
		case <-probeTick:
			probeCtx, cancel := context.WithTimeout(ctx, s.heartbeat)
			err := s.ep.Probe(probeCtx)
			cancel()
			if err == nil {
				if misses > 0 {
					misses = 0
					s.setState(StateConnected)
				}
				continue
			}
			misses++
			s.log.Warn().Err(err).Int("misses", misses).Msg("Liveness probe failed")
			if misses >= probeMissLimit {
				return
			}
			s.setState(StateDegraded)
		}
	}
}
