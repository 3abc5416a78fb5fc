// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quixote-systems/js8tastic/pkg/js8"
	"github.com/quixote-systems/js8tastic/pkg/mesh"
)

// atCallRE matches a body that addresses a callsign: "@CALL rest".
var atCallRE = regexp.MustCompile(`^@([A-Za-z0-9/]+)\s*(.*)$`)

// ellipsis marks truncated text.
const ellipsis = "…"

// JS8Sender is the socket-side send surface the M2J router needs. The
// production implementation gates every call through the socket link's
// supervisor.
type JS8Sender interface {
	SendDirected(ctx context.Context, to, body string) error
	SendFree(ctx context.Context, text string) error
}

// MeshDirectory resolves node identity details for rendering and
// self-origin checks.
type MeshDirectory interface {
	ShortName(id mesh.NodeID) string
	MyNode() mesh.NodeID
}

// M2JOptions configures the mesh → JS8Call direction.
type M2JOptions struct {
	// DefaultTo is where untargeted traffic goes: "@ALLCALL" for a
	// free-text broadcast, anything else is a callsign for directed
	// sends.
	DefaultTo string
	// Prefix goes in front of default-target forwards.
	Prefix string
	// MaxLen caps the dispatched text length in runes; 0 disables.
	MaxLen int
	// AllowSelf forwards our own radio's packets instead of dropping
	// them.
	AllowSelf bool
	// EscapeAt enables the "@@" literal escape.
	EscapeAt bool
	// IgnorePrefix drops mesh text that starts with it; set to the J2M
	// prefix so bridge output is never reflected back.
	IgnorePrefix string
	// RecentWindow is how many (origin, text) pairs to remember for
	// duplicate suppression.
	RecentWindow int
}

// M2JRouter consumes mesh text packets and forwards them to JS8Call.
type M2JRouter struct {
	opts     M2JOptions
	identity Identity
	filter   *SenderFilter
	dir      MeshDirectory
	sender   JS8Sender
	recent   *recentWindow
	log      zerolog.Logger
}

// NewM2JRouter builds the router. filter may be nil to admit every
// sender.
func NewM2JRouter(opts M2JOptions, identity Identity, filter *SenderFilter, dir MeshDirectory, sender JS8Sender, log zerolog.Logger) *M2JRouter {
	if opts.DefaultTo == "" {
		opts.DefaultTo = "@ALLCALL"
	}
	return &M2JRouter{
		opts:     opts,
		identity: identity,
		filter:   filter,
		dir:      dir,
		sender:   sender,
		recent:   newRecentWindow(opts.RecentWindow),
		log:      log.With().Str("component", "m2j").Logger(),
	}
}

// HandleText processes one inbound mesh text packet.
func (r *M2JRouter) HandleText(ctx context.Context, ev mesh.TextEvent) {
	text := js8.NormalizeText(ev.Body)
	if text == "" {
		return
	}
	origin := ev.From.String()
	env := newEnvelope(DirectionM2J, origin, text)
	log := r.log.With().Stringer("envelope_id", env.ID).Str("origin", origin).Logger()

	// Bridge echo: J2M output carries its prefix, never reflect it.
	if r.opts.IgnorePrefix != "" && strings.HasPrefix(text, r.opts.IgnorePrefix) {
		log.Debug().Msg("Dropping bridge echo")
		return
	}

	if r.filter != nil && !r.filter.Allows(origin) {
		log.Debug().Msg("Sender not on allow-list")
		return
	}

	if !r.opts.AllowSelf && r.isSelf(ev.From) {
		log.Debug().Msg("Dropping own packet")
		return
	}

	if r.recent.Seen(origin, text) {
		log.Debug().Msg("Dropping duplicate delivery")
		return
	}

	// "@@X rest" is the one way to send literal text that starts with
	// "@": restore the single "@" and never treat it as addressing.
	if r.opts.EscapeAt && strings.HasPrefix(strings.TrimSpace(text), "@@") {
		literal := strings.Replace(text, "@@", "@", 1)
		literal = truncate(literal, r.opts.MaxLen)
		if err := r.sender.SendFree(ctx, literal); err != nil {
			log.Warn().Err(err).Msg("Free-text send failed")
			return
		}
		log.Info().Int("len", len(literal)).Msg("Forwarded escaped literal as free text")
		return
	}

	if m := atCallRE.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		call := strings.ToUpper(m[1])
		body := truncate(strings.TrimSpace(m[2]), r.opts.MaxLen)
		if err := r.sender.SendDirected(ctx, call, body); err != nil {
			log.Warn().Err(err).Str("to", call).Msg("Directed send failed")
			return
		}
		log.Info().Str("to", call).Int("len", len(body)).Msg("Forwarded as directed message")
		return
	}

	r.dispatchDefault(ctx, log, ev, text)
}

func (r *M2JRouter) dispatchDefault(ctx context.Context, log zerolog.Logger, ev mesh.TextEvent, text string) {
	core := ev.From.String() + ": " + text
	if short := r.dir.ShortName(ev.From); short != "" {
		core = "[" + short + "] " + core
	}
	// Prefix first, truncate after: the prefix is never sacrificed to
	// the length limit.
	out := truncate(strings.TrimSpace(r.opts.Prefix+core), r.opts.MaxLen)

	dest := strings.TrimSpace(r.opts.DefaultTo)
	if up := strings.ToUpper(dest); up == "@ALLCALL" || up == "ALLCALL" {
		if err := r.sender.SendFree(ctx, out); err != nil {
			log.Warn().Err(err).Msg("Free-text send failed")
			return
		}
		log.Info().Int("len", len(out)).Msg("Forwarded as free text")
		return
	}
	call := strings.ToUpper(strings.TrimPrefix(dest, "@"))
	if err := r.sender.SendDirected(ctx, call, out); err != nil {
		log.Warn().Err(err).Str("to", call).Msg("Directed send failed")
		return
	}
	log.Info().Str("to", call).Int("len", len(out)).Msg("Forwarded to default callsign")
}

func (r *M2JRouter) isSelf(from mesh.NodeID) bool {
	if my := r.dir.MyNode(); my != 0 && from == my {
		return true
	}
	return r.identity.Contains(from.String())
}

// truncate caps s at max runes, marking the cut with an ellipsis. The
// result never exceeds max runes.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + ellipsis
}
