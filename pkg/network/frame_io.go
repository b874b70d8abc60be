package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameKind tags the three message classes of spec.md §4.2, plus the
// handshake frames (Announce/Ready/Error) that precede them on a
// connection.
type FrameKind uint8

const (
	FrameAnnounce FrameKind = iota + 1
	FrameReady
	FrameError
	FrameData
	FrameEvent
	FrameEOS
)

// maxFrameBytes bounds a single frame body to guard against a corrupted
// length prefix turning into an unbounded allocation.
const maxFrameBytes = 64 << 20

// writeFrame writes a length-prefixed frame: 4-byte big-endian body
// length, 1-byte kind, body.
func writeFrame(w io.Writer, kind FrameKind, body []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)))
	header[4] = byte(kind)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("network: write frame header: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("network: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader) (FrameKind, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > maxFrameBytes {
		return 0, nil, fmt.Errorf("network: frame body %d bytes exceeds limit", size)
	}
	kind := FrameKind(header[4])
	if size == 0 {
		return kind, nil, nil
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("network: read frame body: %w", err)
	}
	return kind, body, nil
}
