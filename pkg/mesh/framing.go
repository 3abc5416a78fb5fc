// Copyright 2025-2026 Quixote Systems

package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Stream framing used by the radio over TCP and serial: two magic bytes,
// a big-endian length, then the protobuf payload. Anything between frames
// (boot logs on serial, line noise) is skipped until the next magic pair.
const (
	frameStart1 = 0x94
	frameStart2 = 0xc3

	maxFrameLen = 512
)

// writeFrame writes one framed payload.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameLen {
		return fmt.Errorf("frame payload %d bytes exceeds %d", len(payload), maxFrameLen)
	}
	header := []byte{frameStart1, frameStart2, 0, 0}
	binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame scans the stream for the next frame and returns its payload.
// A length over maxFrameLen means we lost sync; the frame is skipped and
// scanning resumes.
func readFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != frameStart1 {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != frameStart2 {
			continue
		}
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n > maxFrameLen {
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}
