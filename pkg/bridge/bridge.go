// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge is the bidirectional JS8Call ⇄ Meshtastic forwarder: two
// supervised endpoint links, a router per direction, tag-based fan-out
// routing, self-origin loop suppression and delivery-acknowledgement
// tracking.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quixote-systems/js8tastic/pkg/js8"
	"github.com/quixote-systems/js8tastic/pkg/mesh"
)

// Bridge owns every component and their goroutines.
type Bridge struct {
	cfg *Config
	log zerolog.Logger

	js8c  *js8.Client
	meshc *mesh.Client

	js8Sup  *Supervisor
	meshSup *Supervisor

	tracker *Tracker
	j2m     *J2MRouter
	m2j     *M2JRouter
}

// New wires a bridge from a processed configuration.
func New(cfg *Config, log zerolog.Logger) (*Bridge, error) {
	if cfg.routingTable == nil {
		if err := cfg.PostProcess(); err != nil {
			return nil, err
		}
	}

	js8c, err := js8.NewClient(js8.Config{
		ListenTransport: cfg.JS8.ListenTransport,
		ListenAddr:      cfg.JS8.ListenAddr,
		SendAddr:        cfg.JS8.SendAddr,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("socket endpoint: %w", err)
	}
	meshc, err := mesh.NewClient(mesh.Config{
		TCPAddr:    cfg.Mesh.TCPAddr,
		SerialPort: cfg.Mesh.SerialPort,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("mesh endpoint: %w", err)
	}

	b := &Bridge{
		cfg:   cfg,
		log:   log.With().Str("component", "bridge").Logger(),
		js8c:  js8c,
		meshc: meshc,
		// The socket side bears the heartbeat; the mesh link reports its
		// own loss through read errors.
		js8Sup:  NewSupervisor("js8", js8c, cfg.HeartbeatInterval(), cfg.SendWhileDegraded(), log),
		meshSup: NewSupervisor("mesh", meshc, 0, true, log),
		tracker: NewTracker(cfg.AckTimeout(), log),
	}

	identity := NewIdentity(cfg.JS8.Callsigns...)

	b.j2m = NewJ2MRouter(
		J2MOptions{
			Prefix:   cfg.J2M.Prefix,
			StripTag: cfg.J2M.StripTag,
			OnlyTag:  cfg.J2M.OnlyTag,
			WantAck:  cfg.J2M.WantAck,
		},
		identity,
		cfg.routingTable,
		supervisedMesh{sup: b.meshSup, c: meshc},
		b.tracker,
		log,
	)

	b.m2j = NewM2JRouter(
		M2JOptions{
			DefaultTo:    cfg.M2J.To,
			Prefix:       cfg.M2J.Prefix,
			MaxLen:       cfg.M2J.MaxLen,
			AllowSelf:    cfg.M2J.AllowSelf,
			EscapeAt:     cfg.M2J.EscapeAt,
			IgnorePrefix: cfg.J2M.Prefix,
			RecentWindow: 20,
		},
		identity,
		NewSenderFilter(cfg.M2J.OnlyFrom, func(nodeID string) string {
			id, err := mesh.ParseNodeID(nodeID)
			if err != nil {
				return ""
			}
			return meshc.ShortName(id)
		}),
		meshc,
		supervisedJS8{sup: b.js8Sup, c: js8c},
		log,
	)

	return b, nil
}

// Run starts every goroutine and blocks until ctx is cancelled. The two
// directions share nothing but the supervised links, so an outage on one
// side never stalls the other.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info().
		Bool("j2m", b.cfg.J2MEnabled()).
		Bool("m2j", b.cfg.M2JEnabled()).
		Msg("Bridge starting")

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	run(b.js8Sup.Run)
	run(b.meshSup.Run)
	if b.cfg.J2M.WantAck {
		run(b.tracker.Run)
	}
	if b.cfg.J2MEnabled() {
		run(b.consumeJS8)
	}
	run(b.consumeMesh)

	wg.Wait()
	b.log.Info().Msg("Bridge stopped")
	return nil
}

// consumeJS8 feeds socket events to the J2M router in receipt order.
func (b *Bridge) consumeJS8(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.js8c.Events():
			b.j2m.HandleMessage(ctx, m)
		}
	}
}

// consumeMesh feeds mesh packets to the M2J router and delivery reports
// to the tracker.
func (b *Bridge) consumeMesh(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.meshc.Events():
			switch {
			case ev.Ack != nil:
				b.handleAck(*ev.Ack)
			case ev.Text != nil && b.cfg.M2JEnabled():
				b.m2j.HandleText(ctx, *ev.Text)
			}
		}
	}
}

func (b *Bridge) handleAck(ack mesh.AckEvent) {
	if ack.Error != mesh.RoutingErrorNone {
		b.log.Warn().
			Str("from", ack.From.String()).
			Uint32("packet_id", ack.RequestID).
			Int32("reason", int32(ack.Error)).
			Msg("Delivery failed")
		return
	}
	b.tracker.Confirm(ack.RequestID)
}

// supervisedMesh gates the mesh send surface through its link supervisor.
type supervisedMesh struct {
	sup *Supervisor
	c   *mesh.Client
}

func (s supervisedMesh) SendText(ctx context.Context, text string, dest mesh.NodeID, channel uint32, wantAck bool) (uint32, error) {
	var id uint32
	err := s.sup.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.c.SendText(ctx, text, dest, channel, wantAck)
		return err
	})
	return id, err
}

func (s supervisedMesh) ResolveNode(v string) (mesh.NodeID, bool) {
	return s.c.ResolveNode(v)
}

func (s supervisedMesh) ResolveChannel(name string) (uint32, bool) {
	return s.c.ResolveChannel(name)
}

// supervisedJS8 gates the socket send surface through its link
// supervisor.
type supervisedJS8 struct {
	sup *Supervisor
	c   *js8.Client
}

func (s supervisedJS8) SendDirected(ctx context.Context, to, body string) error {
	return s.sup.Do(ctx, func(ctx context.Context) error {
		return s.c.SendDirected(ctx, to, body)
	})
}

func (s supervisedJS8) SendFree(ctx context.Context, text string) error {
	return s.sup.Do(ctx, func(ctx context.Context) error {
		return s.c.SendFree(ctx, text)
	})
}
