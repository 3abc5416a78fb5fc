// Copyright 2025-2026 Quixote Systems

package js8

import "testing"

func TestNormalizeText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"nbsp", "a b", "a b"},
		{"zero-width", "a​b‌c‍d", "abcd"},
		{"trim", "  spaced \r", "spaced"},
		{"empty", "​", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeText(tc.in); got != tc.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		msg      Message
		wantFrom string
		wantText string
		wantOK   bool
	}{
		{
			name: "directed with params",
			msg: Message{
				Type:   TypeRxDirected,
				Value:  "EA1ABC: @ops turn on repeater",
				Params: map[string]any{"FROM": "EA1ABC", "TO": "@OPS", "TEXT": "EA1ABC: @ops turn on repeater"},
			},
			wantFrom: "EA1ABC",
			wantText: "EA1ABC: @ops turn on repeater",
			wantOK:   true,
		},
		{
			name: "lower-case keys",
			msg: Message{
				Type:   TypeRxText,
				Params: map[string]any{"from": "EA1ABC", "text": "hi"},
			},
			wantFrom: "EA1ABC",
			wantText: "hi",
			wantOK:   true,
		},
		{
			name:     "value fallback",
			msg:      Message{Type: TypeRxSpot, Value: "spotted"},
			wantFrom: "",
			wantText: "spotted",
			wantOK:   true,
		},
		{
			name:   "non-rx message",
			msg:    Message{Type: TypeTxSendMsg, Value: "x"},
			wantOK: false,
		},
		{
			name:   "rx without text",
			msg:    Message{Type: TypeRxDirected, Params: map[string]any{"FROM": "EA1ABC"}},
			wantOK: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			from, _, text, ok := ExtractText(tc.msg)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if from != tc.wantFrom {
				t.Errorf("from = %q, want %q", from, tc.wantFrom)
			}
			if text != tc.wantText {
				t.Errorf("text = %q, want %q", text, tc.wantText)
			}
		})
	}
}

func TestDirectedValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		to, body string
		want     string
		wantErr  bool
	}{
		{"EA2XYZ", "hello", "EA2XYZ hello", false},
		{"@ea2xyz", " hello ", "EA2XYZ hello", false},
		{"30qxt02", "msg", "30QXT02 msg", false},
		{"", "msg", "", true},
		{"@", "msg", "", true},
	}
	for _, tc := range tests {
		got, err := directedValue(tc.to, tc.body)
		if (err != nil) != tc.wantErr {
			t.Errorf("directedValue(%q, %q) err=%v wantErr=%v", tc.to, tc.body, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("directedValue(%q, %q) = %q, want %q", tc.to, tc.body, got, tc.want)
		}
	}
}

func TestParam(t *testing.T) {
	t.Parallel()
	m := Message{Params: map[string]any{"FROM": "EA1ABC", "SNR": 12}}
	if got := m.Param("FROM"); got != "EA1ABC" {
		t.Errorf("Param(FROM) = %q", got)
	}
	if got := m.Param("SNR"); got != "" {
		t.Errorf("non-string param should be empty, got %q", got)
	}
	if got := m.Param("MISSING", "FROM"); got != "EA1ABC" {
		t.Errorf("fallback key: got %q", got)
	}
}
