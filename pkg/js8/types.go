// Copyright 2025-2026 Quixote Systems

// Package js8 speaks the JS8Call JSON socket API: newline-delimited JSON
// objects over TCP or UDP, each with a type, a free-form value and a
// params map. The same protocol backs all the Quixote station tools
// (bridge, beacon, scheduler), so the send primitives here cover their
// combined surface.
package js8

import (
	"fmt"
	"strings"
)

// API message types used by this package.
const (
	TypeRxDirected  = "RX.DIRECTED"
	TypeRxText      = "RX.TEXT"
	TypeRxSpot      = "RX.SPOT"
	TypeTxSend      = "TX.SEND"
	TypeTxSendMsg   = "TX.SEND_MESSAGE"
	TypeTxSetText   = "TX.SET_TEXT"
	TypeGetCallsign = "STATION.GET_CALLSIGN"
	TypeSetFreq     = "RIG.SET_FREQ"
)

// Message is one JSON API event or request.
type Message struct {
	Type   string         `json:"type"`
	Value  string         `json:"value"`
	Params map[string]any `json:"params"`
}

// Param returns the first non-empty string value among the given keys.
// JS8Call emits upper-case keys but older builds used lower case.
func (m Message) Param(keys ...string) string {
	for _, k := range keys {
		if v, ok := m.Params[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// NormalizeText cleans radio text: NBSP becomes a plain space, zero-width
// characters are dropped, surrounding whitespace is trimmed.
func NormalizeText(s string) string {
	r := strings.NewReplacer(
		" ", " ",
		"​", "",
		"‌", "",
		"‍", "",
	)
	return strings.TrimSpace(r.Replace(s))
}

// ExtractText pulls origin, addressee and body out of an RX event.
// Non-RX messages and events without text report ok=false.
func ExtractText(m Message) (from, to, text string, ok bool) {
	if !strings.HasPrefix(strings.ToUpper(m.Type), "RX") {
		return "", "", "", false
	}
	from = m.Param("FROM", "from")
	to = m.Param("TO", "to")
	text = NormalizeText(m.Param("TEXT", "text"))
	if text == "" {
		text = NormalizeText(m.Value)
	}
	if text == "" {
		return "", "", "", false
	}
	return from, to, text, true
}

// directedValue builds the value field of a directed TX.SEND_MESSAGE:
// "CALL body" with any caller-supplied "@" stripped and the callsign
// upper-cased.
func directedValue(to, body string) (string, error) {
	call := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(to), "@"))
	if call == "" {
		return "", fmt.Errorf("empty destination callsign")
	}
	return call + " " + strings.TrimSpace(body), nil
}
