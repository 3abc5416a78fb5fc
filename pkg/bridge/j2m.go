// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quixote-systems/js8tastic/pkg/js8"
	"github.com/quixote-systems/js8tastic/pkg/mesh"
)

// callPrefixRE matches the "CALL: " prefix JS8Call embeds at the start of
// directed message text, duplicating the event's own origin field.
var callPrefixRE = regexp.MustCompile(`^\s*([A-Z0-9/]{3,}):\s*`)

// tagStrictRE matches a message that is entirely "@TAG [body]";
// tagLooseRE finds the first tag anywhere in the text.
var (
	tagStrictRE = regexp.MustCompile(`^@(\S+)(?:\s+(.*))?$`)
	tagLooseRE  = regexp.MustCompile(`@(\S+)(?:\s+(.*))?`)
)

// MeshSender is the mesh-side send surface the J2M router needs. The
// production implementation gates every call through the mesh link's
// supervisor.
type MeshSender interface {
	SendText(ctx context.Context, text string, dest mesh.NodeID, channel uint32, wantAck bool) (uint32, error)
	ResolveNode(s string) (mesh.NodeID, bool)
	ResolveChannel(name string) (uint32, bool)
}

// AckRegistry registers outbound sends awaiting acknowledgement.
type AckRegistry interface {
	Track(id uint32, dest, text string)
}

// J2MOptions configures the JS8Call → mesh direction.
type J2MOptions struct {
	// Prefix goes in front of every forwarded message, and is what the
	// opposite direction recognizes as bridge echo.
	Prefix string
	// StripTag removes the routing tag from the forwarded text.
	StripTag bool
	// OnlyTag, when set, drops every envelope whose tag differs.
	OnlyTag string
	// WantAck requests delivery acknowledgement on node sends.
	WantAck bool
}

// J2MRouter consumes JS8Call events and forwards tagged traffic onto the
// mesh per the routing table.
type J2MRouter struct {
	opts     J2MOptions
	identity Identity
	table    *RoutingTable
	sender   MeshSender
	acks     AckRegistry
	log      zerolog.Logger
}

// NewJ2MRouter builds the router. acks may be nil when acknowledgement
// tracking is off.
func NewJ2MRouter(opts J2MOptions, identity Identity, table *RoutingTable, sender MeshSender, acks AckRegistry, log zerolog.Logger) *J2MRouter {
	return &J2MRouter{
		opts:     opts,
		identity: identity,
		table:    table,
		sender:   sender,
		acks:     acks,
		log:      log.With().Str("component", "j2m").Logger(),
	}
}

// HandleMessage processes one decoded JS8Call socket event. Non-RX and
// textless events are ignored.
func (r *J2MRouter) HandleMessage(ctx context.Context, m js8.Message) {
	from, _, text, ok := js8.ExtractText(m)
	if !ok {
		return
	}
	if from == "" {
		r.log.Debug().Str("text", text).Msg("Ignoring RX event without origin")
		return
	}
	env := newEnvelope(DirectionJ2M, from, text)
	r.handle(ctx, env)
}

func (r *J2MRouter) handle(ctx context.Context, env Envelope) {
	log := r.log.With().Stringer("envelope_id", env.ID).Str("origin", env.Origin).Logger()

	// Self-origin check comes before everything else: our own
	// transmissions heard back off the air must never loop.
	if r.identity.Contains(env.Origin) {
		log.Debug().Msg("Dropping own transmission")
		return
	}

	// The protocol embeds the origin a second time at the start of the
	// text. Recover it; the embedded one wins for display.
	origin, text := splitEmbeddedOrigin(env.Origin, env.Body)
	if r.identity.Contains(origin) {
		log.Debug().Str("embedded_origin", origin).Msg("Dropping own transmission")
		return
	}

	tag, body := extractTag(text)
	env.Tag = strings.ToLower(tag)

	if r.opts.OnlyTag != "" && !strings.EqualFold(tag, r.opts.OnlyTag) {
		log.Debug().Str("tag", tag).Str("only_tag", r.opts.OnlyTag).Msg("Tag filtered")
		return
	}

	out := body
	if tag != "" && !r.opts.StripTag {
		out = "@" + tag
		if body != "" {
			out += " " + body
		}
	}
	final := strings.TrimSpace(r.opts.Prefix + " " + origin + ": " + out)

	dests := r.table.Resolve(env.Tag)
	if len(dests) == 0 {
		log.Debug().Str("tag", tag).Msg("No destination for envelope")
		return
	}

	log.Info().
		Str("tag", tag).
		Int("destinations", len(dests)).
		Str("text", final).
		Msg("Forwarding to mesh")

	for _, dest := range dests {
		r.dispatch(ctx, log, dest, final)
	}
}

func (r *J2MRouter) dispatch(ctx context.Context, log zerolog.Logger, dest Destination, text string) {
	if dest.IsNode() {
		nodeID, ok := r.sender.ResolveNode(dest.Node)
		if !ok {
			log.Warn().Str("dest", dest.String()).Msg("Cannot resolve node destination")
			return
		}
		id, err := r.sender.SendText(ctx, text, nodeID, 0, r.opts.WantAck)
		if err != nil {
			log.Warn().Err(err).Str("dest", dest.String()).Msg("Mesh send failed")
			return
		}
		if r.opts.WantAck && r.acks != nil {
			r.acks.Track(id, dest.String(), text)
		}
		return
	}

	idx, ok := r.resolveChannel(dest.Channel)
	if !ok {
		log.Warn().Str("dest", dest.String()).Msg("Cannot resolve channel destination")
		return
	}
	// Channel traffic is broadcast; the radio has no end-to-end delivery
	// report for it, so no acknowledgement is requested.
	if _, err := r.sender.SendText(ctx, text, mesh.Broadcast, idx, false); err != nil {
		log.Warn().Err(err).Str("dest", dest.String()).Msg("Mesh send failed")
	}
}

func (r *J2MRouter) resolveChannel(s string) (uint32, bool) {
	if idx, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(idx), true
	}
	return r.sender.ResolveChannel(s)
}

// splitEmbeddedOrigin strips one leading "CALL: " prefix from text. When
// present, the embedded callsign replaces the event origin for display.
func splitEmbeddedOrigin(origin, text string) (string, string) {
	m := callPrefixRE.FindStringSubmatch(text)
	if m == nil {
		return origin, text
	}
	return m[1], text[len(m[0]):]
}

// extractTag finds the routing tag: a whole-message "@TAG [body]" match
// first, then the first "@TAG" anywhere (text before a mid-message tag is
// discarded, as the tag starts the routable content).
func extractTag(text string) (tag, body string) {
	text = strings.TrimSpace(text)
	if m := tagStrictRE.FindStringSubmatch(text); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}
	if m := tagLooseRE.FindStringSubmatch(text); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}
	return "", text
}
