// Copyright 2025-2026 Quixote Systems

package mesh

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// buildFromRadio wraps an encoded MeshPacket in a FromRadio envelope.
func buildFromRadio(t *testing.T, field protowire.Number, msg []byte) []byte {
	t.Helper()
	var buf []byte
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	buf = protowire.AppendBytes(buf, msg)
	return buf
}

func buildTextPacket(t *testing.T, from, to uint32, channel uint32, body string) []byte {
	t.Helper()
	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(PortText))
	data = protowire.AppendTag(data, dataPayload, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte(body))

	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetFrom, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, from)
	pkt = protowire.AppendTag(pkt, packetTo, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, to)
	if channel != 0 {
		pkt = protowire.AppendTag(pkt, packetChannel, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, uint64(channel))
	}
	pkt = protowire.AppendTag(pkt, packetDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)
	return pkt
}

func TestDecodeTextPacket(t *testing.T) {
	t.Parallel()
	raw := buildFromRadio(t, fromRadioPacket, buildTextPacket(t, 0xabcd1234, uint32(Broadcast), 2, "hello mesh"))

	f, err := decodeFromRadio(raw)
	if err != nil {
		t.Fatalf("decodeFromRadio: %v", err)
	}
	if f.Text == nil {
		t.Fatal("expected text event")
	}
	if got, want := f.Text.From.String(), "!abcd1234"; got != want {
		t.Errorf("From: got %s, want %s", got, want)
	}
	if f.Text.Channel != 2 {
		t.Errorf("Channel: got %d, want 2", f.Text.Channel)
	}
	if f.Text.Body != "hello mesh" {
		t.Errorf("Body: got %q", f.Text.Body)
	}
}

func TestDecodeRoutingAck(t *testing.T) {
	t.Parallel()
	// Routing payload with error_reason NONE (omitted, it is the zero enum).
	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(PortRouting))
	data = protowire.AppendTag(data, dataPayload, protowire.BytesType)
	data = protowire.AppendBytes(data, nil)
	data = protowire.AppendTag(data, dataRequestID, protowire.Fixed32Type)
	data = protowire.AppendFixed32(data, 0xdeadbeef)

	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetFrom, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, 0x11223344)
	pkt = protowire.AppendTag(pkt, packetDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)

	f, err := decodeFromRadio(buildFromRadio(t, fromRadioPacket, pkt))
	if err != nil {
		t.Fatalf("decodeFromRadio: %v", err)
	}
	if f.Ack == nil {
		t.Fatal("expected ack event")
	}
	if f.Ack.RequestID != 0xdeadbeef {
		t.Errorf("RequestID: got %#x", f.Ack.RequestID)
	}
	if f.Ack.Error != RoutingErrorNone {
		t.Errorf("Error: got %d, want NONE", f.Ack.Error)
	}
}

func TestDecodeRoutingWithoutRequestIDIsIgnored(t *testing.T) {
	t.Parallel()
	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(PortRouting))

	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)

	f, err := decodeFromRadio(buildFromRadio(t, fromRadioPacket, pkt))
	if err != nil {
		t.Fatalf("decodeFromRadio: %v", err)
	}
	if f.Ack != nil || f.Text != nil {
		t.Error("routing packet without request id should decode to nothing")
	}
}

func TestDecodeNodeInfo(t *testing.T) {
	t.Parallel()
	var user []byte
	user = protowire.AppendTag(user, userLongName, protowire.BytesType)
	user = protowire.AppendBytes(user, []byte("Quixote Node 6"))
	user = protowire.AppendTag(user, userShortName, protowire.BytesType)
	user = protowire.AppendBytes(user, []byte("QXT6"))

	var ni []byte
	ni = protowire.AppendTag(ni, nodeInfoNum, protowire.VarintType)
	ni = protowire.AppendVarint(ni, 0xabcd1234)
	ni = protowire.AppendTag(ni, nodeInfoUser, protowire.BytesType)
	ni = protowire.AppendBytes(ni, user)

	f, err := decodeFromRadio(buildFromRadio(t, fromRadioNodeInfo, ni))
	if err != nil {
		t.Fatalf("decodeFromRadio: %v", err)
	}
	if f.Node == nil {
		t.Fatal("expected node record")
	}
	if f.Node.Num != NodeID(0xabcd1234) || f.Node.ShortName != "QXT6" || f.Node.LongName != "Quixote Node 6" {
		t.Errorf("unexpected record: %+v", f.Node)
	}
}

func TestDecodeChannel(t *testing.T) {
	t.Parallel()
	var settings []byte
	settings = protowire.AppendTag(settings, channelSettingsName, protowire.BytesType)
	settings = protowire.AppendBytes(settings, []byte("Operations"))

	var ch []byte
	ch = protowire.AppendTag(ch, channelIndex, protowire.VarintType)
	ch = protowire.AppendVarint(ch, 3)
	ch = protowire.AppendTag(ch, channelSettings, protowire.BytesType)
	ch = protowire.AppendBytes(ch, settings)

	f, err := decodeFromRadio(buildFromRadio(t, fromRadioChannel, ch))
	if err != nil {
		t.Fatalf("decodeFromRadio: %v", err)
	}
	if !f.HasChannel || f.ChannelIndex != 3 || f.ChannelName != "Operations" {
		t.Errorf("unexpected channel frame: %+v", f)
	}
}

func TestDecodeEncryptedPacketIsSkipped(t *testing.T) {
	t.Parallel()
	// A packet without a decoded Data field (foreign channel key).
	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetFrom, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, 1)

	f, err := decodeFromRadio(buildFromRadio(t, fromRadioPacket, pkt))
	if err != nil {
		t.Fatalf("decodeFromRadio: %v", err)
	}
	if f.Text != nil || f.Ack != nil {
		t.Error("encrypted packet should produce no event")
	}
}

func TestDecodeTruncatedFrameFails(t *testing.T) {
	t.Parallel()
	raw := buildFromRadio(t, fromRadioPacket, buildTextPacket(t, 1, 2, 0, "body"))
	if _, err := decodeFromRadio(raw[:len(raw)-3]); err == nil {
		t.Error("truncated frame should not decode")
	}
}

func TestEncodeTextPacketFields(t *testing.T) {
	t.Parallel()
	raw := encodeTextPacket("turn on repeater", 0x0000d134, 0, 42, true)

	num, typ, n := protowire.ConsumeTag(raw)
	if n < 0 || num != toRadioPacket || typ != protowire.BytesType {
		t.Fatalf("outer tag: num=%d typ=%d", num, typ)
	}
	pkt, n := protowire.ConsumeBytes(raw[n:])
	if n < 0 {
		t.Fatal("bad packet bytes")
	}

	var (
		to, id   uint32
		wantAck  uint64
		haveData bool
	)
	for len(pkt) > 0 {
		num, typ, n := protowire.ConsumeTag(pkt)
		if n < 0 {
			t.Fatal("bad inner tag")
		}
		pkt = pkt[n:]
		switch num {
		case packetTo:
			to, n = consumeFixed32(t, pkt)
		case packetID:
			id, n = consumeFixed32(t, pkt)
		case packetWantAck:
			wantAck, n = consumeVarint(t, pkt)
		case packetDecoded:
			var data []byte
			data, n = consumeBytes(t, pkt)
			if body, ok := stringField(data, dataPayload); !ok || body != "turn on repeater" {
				t.Errorf("payload: got %q", body)
			}
			haveData = true
		default:
			n = protowire.ConsumeFieldValue(num, typ, pkt)
			if n < 0 {
				t.Fatal("bad field")
			}
		}
		pkt = pkt[n:]
	}
	if to != 0x0000d134 {
		t.Errorf("to: got %#x", to)
	}
	if id != 42 {
		t.Errorf("id: got %d", id)
	}
	if wantAck != 1 {
		t.Errorf("want_ack: got %d", wantAck)
	}
	if !haveData {
		t.Error("missing decoded data")
	}
}

func TestEncodeWantConfigRoundTrip(t *testing.T) {
	t.Parallel()
	raw := encodeWantConfig(77)
	if v, ok := varintField(raw, toRadioWantConfigID); !ok || v != 77 {
		t.Errorf("want_config_id: got %d ok=%v", v, ok)
	}
}

func consumeFixed32(t *testing.T, b []byte) (uint32, int) {
	t.Helper()
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		t.Fatal("bad fixed32")
	}
	return v, n
}

func consumeVarint(t *testing.T, b []byte) (uint64, int) {
	t.Helper()
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		t.Fatal("bad varint")
	}
	return v, n
}

func consumeBytes(t *testing.T, b []byte) ([]byte, int) {
	t.Helper()
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		t.Fatal("bad bytes")
	}
	return v, n
}
