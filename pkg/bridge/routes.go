// Copyright 2025-2026 Quixote Systems

package bridge

import (
	"fmt"
	"strings"
)

// Destination is one routing target on the mesh side. Exactly one of Node
// and Channel is set: Node is a "!hex" id or a short name, Channel is a
// numeric index or a channel name.
type Destination struct {
	Node    string
	Channel string
}

// IsNode reports whether this is a node (directed) destination.
func (d Destination) IsNode() bool {
	return d.Node != ""
}

func (d Destination) String() string {
	if d.IsNode() {
		return "node:" + d.Node
	}
	return "channel:" + d.Channel
}

// RoutingTable maps tags to destinations. Built once at startup,
// read-only afterwards; fan-out is the union of every node and channel
// rule matching a tag, with a single optional default applied only when
// that union is empty.
type RoutingTable struct {
	nodes    map[string][]Destination
	channels map[string][]Destination
	def      *Destination
}

// NewRoutingTable parses repeatable "TAG=value" rules. Node rule values
// are node ids or short names; channel rule values are channel indexes or
// names. Malformed rules are configuration errors.
func NewRoutingTable(nodeRules, channelRules []string, def *Destination) (*RoutingTable, error) {
	t := &RoutingTable{
		nodes:    make(map[string][]Destination),
		channels: make(map[string][]Destination),
		def:      def,
	}
	for _, rule := range nodeRules {
		tag, value, err := splitRule(rule)
		if err != nil {
			return nil, fmt.Errorf("node route: %w", err)
		}
		t.nodes[tag] = append(t.nodes[tag], Destination{Node: value})
	}
	for _, rule := range channelRules {
		tag, value, err := splitRule(rule)
		if err != nil {
			return nil, fmt.Errorf("channel route: %w", err)
		}
		t.channels[tag] = append(t.channels[tag], Destination{Channel: value})
	}
	return t, nil
}

func splitRule(rule string) (tag, value string, err error) {
	tag, value, ok := strings.Cut(rule, "=")
	if !ok {
		return "", "", fmt.Errorf("rule %q is not TAG=value", rule)
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	value = strings.TrimSpace(value)
	if tag == "" || value == "" {
		return "", "", fmt.Errorf("rule %q has an empty side", rule)
	}
	return tag, value, nil
}

// Resolve returns every destination for a tag: the union of matching node
// and channel rules, or the default when nothing matched and one is
// configured. An empty result means the envelope has nowhere to go.
func (t *RoutingTable) Resolve(tag string) []Destination {
	tag = strings.ToLower(tag)
	var out []Destination
	out = append(out, t.nodes[tag]...)
	out = append(out, t.channels[tag]...)
	if len(out) == 0 && t.def != nil {
		out = append(out, *t.def)
	}
	return out
}

// HasRules reports whether any explicit rule is configured.
func (t *RoutingTable) HasRules() bool {
	return len(t.nodes) > 0 || len(t.channels) > 0
}
