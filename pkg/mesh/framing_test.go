// Copyright 2025-2026 Quixote Systems

package mesh

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	payload := []byte{0x10, 0x20, 0x30}
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload: got %x, want %x", got, payload)
	}
}

func TestReadFrameSkipsGarbage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.WriteString("boot log noise\r\n")
	buf.WriteByte(frameStart1) // stray magic without its pair
	buf.WriteString("more noise")
	if err := writeFrame(&buf, []byte("payload")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("payload: got %q", got)
	}
}

func TestReadFrameResyncsAfterBogusLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	// A magic pair followed by an impossible length, then a valid frame.
	buf.Write([]byte{frameStart1, frameStart2, 0xff, 0xff})
	if err := writeFrame(&buf, []byte("ok")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("payload: got %q", got)
	}
}

func TestReadFrameEOF(t *testing.T) {
	t.Parallel()
	if _, err := readFrame(bufio.NewReader(bytes.NewReader(nil))); err != io.EOF {
		t.Errorf("err: got %v, want io.EOF", err)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	t.Parallel()
	if err := writeFrame(io.Discard, make([]byte, maxFrameLen+1)); err == nil {
		t.Error("oversized payload should fail")
	}
}

func TestEmptyFrame(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := writeFrame(&buf, nil); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("payload: got %x, want empty", got)
	}
}
