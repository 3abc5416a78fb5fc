// Copyright 2025-2026 Quixote Systems

package bridge

import (
	"regexp"
	"strings"
	"sync"
)

// Identity is the set of names that mean "us" on one side of the bridge:
// callsigns, node ids, node short names. Immutable after construction;
// the self-origin check runs before any routing logic.
type Identity struct {
	values map[string]struct{}
}

// NewIdentity builds an identity set. Comparison is case-insensitive;
// empty values are dropped.
func NewIdentity(values ...string) Identity {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return Identity{values: set}
}

// Contains reports whether origin is one of our own identities.
func (id Identity) Contains(origin string) bool {
	_, ok := id.values[strings.ToLower(strings.TrimSpace(origin))]
	return ok
}

// hexSuffixRE recognizes allow-list tokens that address a node by the
// trailing hex digits of its id.
var hexSuffixRE = regexp.MustCompile(`^[0-9A-Fa-f]{3,}$`)

// SenderFilter is the mesh-side allow-list: a sender passes when any
// token matches its node id exactly ("!hex"), as a hex suffix, or as its
// short name. An empty token list admits everyone.
type SenderFilter struct {
	tokens []string
	// shortName resolves a node id string to its current short name;
	// may return "" while the directory is still warming up.
	shortName func(nodeID string) string
}

// NewSenderFilter builds the allow-list. shortName may be nil when no
// short-name resolution is available.
func NewSenderFilter(tokens []string, shortName func(string) string) *SenderFilter {
	var cleaned []string
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			cleaned = append(cleaned, tok)
		}
	}
	return &SenderFilter{tokens: cleaned, shortName: shortName}
}

// Allows reports whether the sender passes the list.
func (f *SenderFilter) Allows(fromID string) bool {
	if len(f.tokens) == 0 {
		return true
	}
	fromID = strings.TrimSpace(fromID)
	if fromID == "" {
		return false
	}
	for _, tok := range f.tokens {
		if f.matches(tok, fromID) {
			return true
		}
	}
	return false
}

func (f *SenderFilter) matches(tok, fromID string) bool {
	if strings.HasPrefix(tok, "!") {
		return strings.EqualFold(fromID, tok)
	}
	if hexSuffixRE.MatchString(tok) {
		return strings.HasSuffix(strings.ToLower(fromID), strings.ToLower(tok))
	}
	if f.shortName == nil {
		return false
	}
	return strings.EqualFold(f.shortName(fromID), tok)
}

// recentWindow remembers the last few (origin, text) pairs so duplicate
// deliveries of the same packet are dropped. A size of 0 disables it.
type recentWindow struct {
	mu      sync.Mutex
	max     int
	entries []recentKey
}

type recentKey struct {
	origin string
	text   string
}

func newRecentWindow(max int) *recentWindow {
	return &recentWindow{max: max}
}

// Seen records the pair and reports whether it was already present.
func (w *recentWindow) Seen(origin, text string) bool {
	if w.max <= 0 {
		return false
	}
	key := recentKey{origin: origin, text: text}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		if e == key {
			return true
		}
	}
	w.entries = append(w.entries, key)
	if len(w.entries) > w.max {
		w.entries = w.entries[len(w.entries)-w.max:]
	}
	return false
}
