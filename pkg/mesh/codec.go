// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Protobuf wire codec for the subset of the Meshtastic device protocol the
// bridge exchanges: ToRadio text packets plus the want-config handshake and
// heartbeat, and the FromRadio variants that carry text, delivery reports
// and the node/channel directory. Field numbers follow the firmware's
// mesh.proto and channel.proto.

package mesh

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ToRadio field numbers.
const (
	toRadioPacket       = 1
	toRadioWantConfigID = 3
	toRadioHeartbeat    = 7
)

// FromRadio field numbers.
const (
	fromRadioPacket         = 2
	fromRadioMyInfo         = 3
	fromRadioNodeInfo       = 4
	fromRadioConfigComplete = 7
	fromRadioChannel        = 10
)

// MeshPacket field numbers.
const (
	packetFrom     = 1
	packetTo       = 2
	packetChannel  = 3
	packetDecoded  = 4
	packetID       = 6
	packetHopLimit = 9
	packetWantAck  = 10
)

// Data field numbers.
const (
	dataPortnum   = 1
	dataPayload   = 2
	dataRequestID = 6
)

// Routing field numbers.
const routingErrorReason = 3

// NodeInfo / User / MyNodeInfo / Channel field numbers.
const (
	nodeInfoNum  = 1
	nodeInfoUser = 2

	userLongName  = 2
	userShortName = 3

	myInfoNodeNum = 1

	channelIndex    = 1
	channelSettings = 2

	channelSettingsName = 3
)

// defaultHopLimit matches the firmware default for locally originated
// packets.
const defaultHopLimit = 3

// encodeWantConfig builds the ToRadio handshake that makes the radio replay
// its node database, channels and my-info.
func encodeWantConfig(nonce uint32) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, toRadioWantConfigID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(nonce))
	return buf
}

// encodeHeartbeat builds the keepalive ToRadio frame.
func encodeHeartbeat() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, toRadioHeartbeat, protowire.BytesType)
	buf = protowire.AppendBytes(buf, nil)
	return buf
}

// encodeTextPacket builds a ToRadio carrying a text payload. id must be
// non-zero when an acknowledgement is wanted, since routing replies
// correlate by it.
func encodeTextPacket(text string, dest NodeID, channel uint32, id uint32, wantAck bool) []byte {
	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(PortText))
	data = protowire.AppendTag(data, dataPayload, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte(text))

	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetTo, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, uint32(dest))
	if channel != 0 {
		pkt = protowire.AppendTag(pkt, packetChannel, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, uint64(channel))
	}
	pkt = protowire.AppendTag(pkt, packetDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)
	pkt = protowire.AppendTag(pkt, packetID, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, id)
	pkt = protowire.AppendTag(pkt, packetHopLimit, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, defaultHopLimit)
	if wantAck {
		pkt = protowire.AppendTag(pkt, packetWantAck, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, 1)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, toRadioPacket, protowire.BytesType)
	buf = protowire.AppendBytes(buf, pkt)
	return buf
}

// decodeFromRadio parses one FromRadio payload into a frame. Variants the
// bridge has no use for decode to an empty frame rather than an error.
func decodeFromRadio(b []byte) (frame, error) {
	var f frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, fmt.Errorf("bad FromRadio tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fromRadioPacket && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, protowire.ParseError(n)
			}
			b = b[n:]
			if err := decodeMeshPacket(v, &f); err != nil {
				return f, err
			}
		case num == fromRadioMyInfo && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, protowire.ParseError(n)
			}
			b = b[n:]
			if num, ok := varintField(v, myInfoNodeNum); ok {
				f.MyNodeNum = NodeID(num)
				f.HasMyInfo = true
			}
		case num == fromRadioNodeInfo && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, protowire.ParseError(n)
			}
			b = b[n:]
			rec, err := decodeNodeInfo(v)
			if err != nil {
				return f, err
			}
			f.Node = &rec
		case num == fromRadioChannel && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, protowire.ParseError(n)
			}
			b = b[n:]
			if err := decodeChannel(v, &f); err != nil {
				return f, err
			}
		case num == fromRadioConfigComplete && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, protowire.ParseError(n)
			}
			b = b[n:]
			f.ConfigComplete = uint32(v)
			f.HasConfigDone = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return f, nil
}

func decodeMeshPacket(b []byte, f *frame) error {
	var (
		from, to     uint32
		channel      uint32
		decoded      []byte
		decodedFound bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bad MeshPacket tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == packetFrom && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			from = v
		case num == packetTo && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			to = v
		case num == packetChannel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			channel = uint32(v)
		case num == packetDecoded && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			decoded = v
			decodedFound = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if !decodedFound {
		// Encrypted packet for a channel we don't hold the key to.
		return nil
	}

	var (
		port      PortNum
		payload   []byte
		requestID uint32
	)
	for len(decoded) > 0 {
		num, typ, n := protowire.ConsumeTag(decoded)
		if n < 0 {
			return fmt.Errorf("bad Data tag: %w", protowire.ParseError(n))
		}
		decoded = decoded[n:]
		switch {
		case num == dataPortnum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(decoded)
			if n < 0 {
				return protowire.ParseError(n)
			}
			decoded = decoded[n:]
			port = PortNum(v)
		case num == dataPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(decoded)
			if n < 0 {
				return protowire.ParseError(n)
			}
			decoded = decoded[n:]
			payload = v
		case num == dataRequestID && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(decoded)
			if n < 0 {
				return protowire.ParseError(n)
			}
			decoded = decoded[n:]
			requestID = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, decoded)
			if n < 0 {
				return protowire.ParseError(n)
			}
			decoded = decoded[n:]
		}
	}

	switch port {
	case PortText:
		f.Text = &TextEvent{
			From:    NodeID(from),
			To:      NodeID(to),
			Channel: channel,
			Body:    string(payload),
		}
	case PortRouting:
		if requestID == 0 {
			return nil
		}
		reason, _ := varintField(payload, routingErrorReason)
		f.Ack = &AckEvent{
			From:      NodeID(from),
			RequestID: requestID,
			Error:     RoutingError(reason),
		}
	}
	return nil
}

func decodeNodeInfo(b []byte) (NodeRecord, error) {
	var rec NodeRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rec, fmt.Errorf("bad NodeInfo tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == nodeInfoNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rec, protowire.ParseError(n)
			}
			b = b[n:]
			rec.Num = NodeID(v)
		case num == nodeInfoUser && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return rec, protowire.ParseError(n)
			}
			b = b[n:]
			if s, ok := stringField(v, userLongName); ok {
				rec.LongName = s
			}
			if s, ok := stringField(v, userShortName); ok {
				rec.ShortName = s
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rec, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return rec, nil
}

func decodeChannel(b []byte, f *frame) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bad Channel tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == channelIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			f.ChannelIndex = int32(v)
			f.HasChannel = true
		case num == channelSettings && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if s, ok := stringField(v, channelSettingsName); ok {
				f.ChannelName = s
			}
			f.HasChannel = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// varintField returns the last occurrence of a varint field in a raw
// message, skipping everything else.
func varintField(b []byte, field protowire.Number) (uint64, bool) {
	var out uint64
	var found bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, false
		}
		b = b[n:]
		if num == field && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, false
			}
			b = b[n:]
			out, found = v, true
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, false
		}
		b = b[n:]
	}
	return out, found
}

// stringField returns the last occurrence of a length-delimited field in a
// raw message, skipping everything else.
func stringField(b []byte, field protowire.Number) (string, bool) {
	var out string
	var found bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", false
		}
		b = b[n:]
		if num == field && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", false
			}
			b = b[n:]
			out, found = string(v), true
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return "", false
		}
		b = b[n:]
	}
	return out, found
}
