// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package js8

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the JS8Call socket endpoints.
type Config struct {
	// ListenTransport is "tcp" or "udp" for the receive stream.
	ListenTransport string
	// ListenAddr is the host:port the receive stream connects (tcp) or
	// binds (udp) to.
	ListenAddr string
	// SendAddr is the host:port of the TCP send link. Defaults to
	// ListenAddr.
	SendAddr string
	// ProbeWindow is how recent inbound traffic must be for the liveness
	// probe to pass without poking the application. Defaults to 10s.
	ProbeWindow time.Duration
}

const (
	defaultProbeWindow = 10 * time.Second
	writeTimeout       = 5 * time.Second
	udpBufferSize      = 65535
)

// zwsPad cycles through invisible characters appended to repeated
// free-text sends so JS8Call's duplicate suppression doesn't swallow them.
var zwsPad = []string{"⁠", " ", "⁢", " "}

// Client owns the socket-side link pair: a TCP send connection with a
// background drain pump, and a TCP or UDP receive stream whose decoded
// events surface on Events. Reconnection is the supervisor's job.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	sendConn   net.Conn
	listenConn io.Closer
	done       chan error

	// lastSeen is the unix-nano time of the most recent inbound byte on
	// either link; the liveness probe reads it.
	lastSeen atomic.Int64

	sendMu       sync.Mutex
	lastFreeBase string
	zwsIdx       int

	events chan Message
}

// NewClient validates the transport selection and returns an unconnected
// client.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	switch cfg.ListenTransport {
	case "tcp", "udp":
	default:
		return nil, fmt.Errorf("js8: listen transport must be tcp or udp, got %q", cfg.ListenTransport)
	}
	if cfg.ListenAddr == "" {
		return nil, errors.New("js8: listen_addr is required")
	}
	if cfg.SendAddr == "" {
		cfg.SendAddr = cfg.ListenAddr
	}
	if cfg.ProbeWindow <= 0 {
		cfg.ProbeWindow = defaultProbeWindow
	}
	return &Client{
		cfg:    cfg,
		log:    log.With().Str("component", "js8").Logger(),
		events: make(chan Message, 64),
	}, nil
}

// Events is the decoded receive stream. The channel stays valid across
// reconnects.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Connect establishes the send link and the receive stream.
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer
	sendConn, err := d.DialContext(ctx, "tcp", c.cfg.SendAddr)
	if err != nil {
		return fmt.Errorf("dial JS8Call send link at %s: %w", c.cfg.SendAddr, err)
	}
	if tc, ok := sendConn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}

	done := make(chan error, 2)

	var listenConn io.Closer
	switch c.cfg.ListenTransport {
	case "tcp":
		conn, err := d.DialContext(ctx, "tcp", c.cfg.ListenAddr)
		if err != nil {
			_ = sendConn.Close()
			return fmt.Errorf("dial JS8Call receive link at %s: %w", c.cfg.ListenAddr, err)
		}
		listenConn = conn
		go c.readLines(conn, done, true)
	case "udp":
		pc, err := net.ListenPacket("udp", c.cfg.ListenAddr)
		if err != nil {
			_ = sendConn.Close()
			return fmt.Errorf("bind JS8Call UDP listener at %s: %w", c.cfg.ListenAddr, err)
		}
		listenConn = pc
		go c.readPackets(pc, done)
	}

	// Pump: drain asynchronous responses on the send link so it never
	// backs up, and timestamp them for the liveness probe.
	go c.readLines(sendConn, done, false)

	c.mu.Lock()
	c.sendConn = sendConn
	c.listenConn = listenConn
	c.done = done
	c.mu.Unlock()

	c.lastSeen.Store(time.Now().UnixNano())
	c.log.Info().
		Str("send_addr", c.cfg.SendAddr).
		Str("listen_addr", c.cfg.ListenAddr).
		Str("listen_transport", c.cfg.ListenTransport).
		Msg("JS8Call links established")
	return nil
}

// Done reports loss of the current link pair. Valid after Connect.
func (c *Client) Done() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Close tears down both links. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.sendConn != nil {
		err = c.sendConn.Close()
		c.sendConn = nil
	}
	if c.listenConn != nil {
		if cerr := c.listenConn.Close(); err == nil {
			err = cerr
		}
		c.listenConn = nil
	}
	return err
}

// Probe checks JS8Call liveness: recent inbound traffic passes outright,
// otherwise a callsign query is issued and the probe waits for any
// response until ctx expires.
func (c *Client) Probe(ctx context.Context) error {
	start := time.Now()
	if start.Sub(time.Unix(0, c.lastSeen.Load())) < c.cfg.ProbeWindow {
		return nil
	}
	if err := c.send(Message{Type: TypeGetCallsign}); err != nil {
		return fmt.Errorf("liveness query: %w", err)
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no response to liveness query: %w", ctx.Err())
		case <-ticker.C:
			if time.Unix(0, c.lastSeen.Load()).After(start) {
				return nil
			}
		}
	}
}

// send marshals and writes one API message on the send link.
func (c *Client) send(m Message) error {
	if m.Params == nil {
		m.Params = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.mu.Lock()
	conn := c.sendConn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("js8: not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(data)
	return err
}

// SendDirected transmits a directed message: "CALL body" through the API,
// never touching the compose box.
func (c *Client) SendDirected(_ context.Context, to, body string) error {
	value, err := directedValue(to, body)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.send(Message{Type: TypeTxSendMsg, Value: value}); err != nil {
		return err
	}
	c.log.Debug().Str("to", to).Int("len", len(body)).Msg("Directed message sent")
	return nil
}

// SendFree transmits visible free text. The API path addresses @ALLCALL;
// if that write fails the compose-box fallback (SET_TEXT + SEND) is tried
// once, padded against JS8Call's duplicate suppression when the exact
// same text repeats.
func (c *Client) SendFree(_ context.Context, text string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	err := c.send(Message{
		Type:   TypeTxSendMsg,
		Value:  text,
		Params: map[string]any{"TO": "@ALLCALL"},
	})
	if err == nil {
		c.log.Debug().Int("len", len(text)).Msg("Free text sent")
		return nil
	}
	c.log.Warn().Err(err).Msg("API free-text send failed, trying compose box")

	payload := c.dedupePad(text)
	if err := c.send(Message{Type: TypeTxSetText, Value: payload}); err != nil {
		return err
	}
	if err := c.send(Message{Type: TypeTxSend}); err != nil {
		return err
	}
	c.lastFreeBase = text
	return nil
}

// dedupePad appends a rotating invisible character when text repeats the
// previous free-text send verbatim. Callers must hold sendMu.
func (c *Client) dedupePad(text string) string {
	if text != c.lastFreeBase {
		return text
	}
	pad := zwsPad[c.zwsIdx%len(zwsPad)]
	c.zwsIdx++
	return text + pad
}

// SetFrequency tunes the rig: dial frequency in Hz plus audio offset.
// Used by the frequency-scheduler tool.
func (c *Client) SetFrequency(_ context.Context, dialHz, offsetHz int) error {
	return c.send(Message{
		Type:   TypeSetFreq,
		Params: map[string]any{"DIAL": dialHz, "OFFSET": offsetHz},
	})
}

// RequestCallsign asks the application for its configured callsign. The
// answer arrives asynchronously on the send-link pump.
func (c *Client) RequestCallsign(_ context.Context) error {
	return c.send(Message{Type: TypeGetCallsign})
}

// readLines consumes newline-delimited JSON from a TCP link. Lines from
// the receive stream feed Events; send-link responses are drained for
// liveness only.
func (c *Client) readLines(conn net.Conn, done chan error, emit bool) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, udpBufferSize), udpBufferSize)
	for scanner.Scan() {
		c.lastSeen.Store(time.Now().UnixNano())
		if emit {
			c.handleLine(scanner.Bytes())
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	done <- err
}

// readPackets consumes UDP datagrams, each holding one or more
// newline-delimited JSON events.
func (c *Client) readPackets(pc net.PacketConn, done chan error) {
	buf := make([]byte, udpBufferSize)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			done <- err
			return
		}
		c.lastSeen.Store(time.Now().UnixNano())
		for _, line := range bytes.Split(buf[:n], []byte{'\n'}) {
			c.handleLine(line)
		}
	}
}

func (c *Client) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		// Not JSON; JS8Call intermixes the occasional junk line.
		c.log.Debug().Err(err).Int("len", len(line)).Msg("Dropping unparseable line")
		return
	}
	select {
	case c.events <- m:
	default:
		c.log.Warn().Str("type", m.Type).Msg("Event queue full, dropping inbound event")
	}
}
