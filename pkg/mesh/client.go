// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mesh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Config selects the radio transport. Exactly one of TCPAddr and
// SerialPort must be set.
type Config struct {
	// TCPAddr is "host" or "host:port" of a radio reachable over IP.
	TCPAddr string
	// SerialPort is the device path of a directly attached radio.
	SerialPort string
}

// Client owns one link to a Meshtastic radio. Inbound text and delivery
// reports surface on Events; node and channel records from the radio feed
// a directory used to resolve short names and channel names. The client
// performs no reconnection itself; the supervisor drives Connect/Close.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu   sync.Mutex
	tr   transport
	done chan error

	dirMu    sync.RWMutex
	nodes    map[NodeID]NodeRecord
	channels map[string]uint32
	myNode   NodeID

	events chan Event
}

// NewClient validates the transport selection and returns an unconnected
// client.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if (cfg.TCPAddr == "") == (cfg.SerialPort == "") {
		return nil, errors.New("mesh: exactly one of tcp_addr and serial_port must be set")
	}
	return &Client{
		cfg:      cfg,
		log:      log.With().Str("component", "mesh").Logger(),
		nodes:    make(map[NodeID]NodeRecord),
		channels: make(map[string]uint32),
		events:   make(chan Event, 64),
	}, nil
}

// Events is the inbound event stream. The channel stays valid across
// reconnects.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect opens the transport, starts the read loop and asks the radio to
// replay its configuration so the node directory fills.
func (c *Client) Connect(ctx context.Context) error {
	var (
		tr  transport
		err error
	)
	if c.cfg.TCPAddr != "" {
		tr, err = dialTCP(ctx, c.cfg.TCPAddr)
	} else {
		tr, err = openSerial(c.cfg.SerialPort)
	}
	if err != nil {
		return err
	}

	nonce := rand.Uint32()
	if err := writeFrame(tr, encodeWantConfig(nonce)); err != nil {
		_ = tr.Close()
		return fmt.Errorf("want-config handshake: %w", err)
	}

	done := make(chan error, 1)
	c.mu.Lock()
	c.tr = tr
	c.done = done
	c.mu.Unlock()

	go c.readLoop(tr, done)
	c.log.Info().Uint32("config_nonce", nonce).Msg("Radio link established")
	return nil
}

// Done reports loss of the current link. Valid after Connect.
func (c *Client) Done() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Probe sends a heartbeat frame. The radio drops idle TCP sessions, so
// this doubles as a keepalive.
func (c *Client) Probe(_ context.Context) error {
	return c.write(encodeHeartbeat())
}

// Close tears down the transport. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	return err
}

func (c *Client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return errors.New("mesh: not connected")
	}
	return writeFrame(c.tr, payload)
}

// SendText transmits a text packet to a node or a channel. dest should be
// Broadcast for channel traffic. The returned packet id correlates any
// later delivery report.
func (c *Client) SendText(_ context.Context, text string, dest NodeID, channel uint32, wantAck bool) (uint32, error) {
	id := rand.Uint32()
	for id == 0 {
		id = rand.Uint32()
	}
	if err := c.write(encodeTextPacket(text, dest, channel, id, wantAck)); err != nil {
		return 0, err
	}
	c.log.Debug().
		Str("dest", dest.String()).
		Uint32("channel", channel).
		Uint32("packet_id", id).
		Bool("want_ack", wantAck).
		Int("len", len(text)).
		Msg("Text packet sent")
	return id, nil
}

func (c *Client) readLoop(tr transport, done chan error) {
	r := bufio.NewReader(tr)
	for {
		payload, err := readFrame(r)
		if err != nil {
			done <- err
			return
		}
		f, err := decodeFromRadio(payload)
		if err != nil {
			// One malformed frame; the stream keeps its framing.
			c.log.Debug().Err(err).Int("len", len(payload)).Msg("Dropping undecodable frame")
			continue
		}
		c.apply(f)
	}
}

func (c *Client) apply(f frame) {
	switch {
	case f.Node != nil:
		c.dirMu.Lock()
		c.nodes[f.Node.Num] = *f.Node
		c.dirMu.Unlock()
	case f.HasChannel:
		if f.ChannelName != "" {
			c.dirMu.Lock()
			c.channels[strings.ToLower(f.ChannelName)] = uint32(f.ChannelIndex)
			c.dirMu.Unlock()
		}
	case f.HasMyInfo:
		c.dirMu.Lock()
		c.myNode = f.MyNodeNum
		c.dirMu.Unlock()
		c.log.Info().Str("node_id", f.MyNodeNum.String()).Msg("Radio identity received")
	case f.HasConfigDone:
		c.dirMu.RLock()
		n := len(c.nodes)
		c.dirMu.RUnlock()
		c.log.Info().Int("nodes", n).Msg("Radio config replay complete")
	case f.Text != nil:
		c.emit(Event{Text: f.Text})
	case f.Ack != nil:
		c.emit(Event{Ack: f.Ack})
	}
}

// emit never blocks the read loop: if the consumer has fallen this far
// behind (or has shut down), dropping the event beats stalling framing.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn().Msg("Event queue full, dropping inbound event")
	}
}

// MyNode is this radio's node id, zero until the config replay delivers it.
func (c *Client) MyNode() NodeID {
	c.dirMu.RLock()
	defer c.dirMu.RUnlock()
	return c.myNode
}

// ShortName resolves a node id to its short name, empty when unknown.
func (c *Client) ShortName(id NodeID) string {
	c.dirMu.RLock()
	defer c.dirMu.RUnlock()
	return c.nodes[id].ShortName
}

// ResolveNode maps a "!hex" id or a short name to a node id.
func (c *Client) ResolveNode(s string) (NodeID, bool) {
	if strings.HasPrefix(s, "!") {
		id, err := ParseNodeID(s)
		return id, err == nil
	}
	c.dirMu.RLock()
	defer c.dirMu.RUnlock()
	for _, rec := range c.nodes {
		if strings.EqualFold(rec.ShortName, s) {
			return rec.Num, true
		}
	}
	return 0, false
}

// ResolveChannel maps a channel name to its index.
func (c *Client) ResolveChannel(name string) (uint32, bool) {
	c.dirMu.RLock()
	defer c.dirMu.RUnlock()
	idx, ok := c.channels[strings.ToLower(name)]
	return idx, ok
}
