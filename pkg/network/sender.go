package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fluxmesh/fluxmesh/pkg/types"
	"github.com/fluxmesh/fluxmesh/pkg/wire"
)

// SenderConfig configures a Sender's connection and retry policy
// (spec.md §4.2: "senders retry with exponential backoff until ready or
// a retry budget expires").
type SenderConfig struct {
	Addr        string
	Partition   types.Partition
	MaxRetries  int
	BackoffBase time.Duration
}

// Sender is the upstream side of a network exchange channel: it dials a
// receiver's Transport, announces a Partition, and streams data, event,
// and EOS frames once the receiver replies Ready.
type Sender struct {
	cfg  SenderConfig
	conn net.Conn
}

// Dial connects to the receiver, announces cfg.Partition, and retries
// with exponential backoff (base, 2*base, 4*base, ...) until the
// receiver answers Ready or the retry budget is exhausted. An Error
// reply counts as a failed attempt and is retried like any other.
func Dial(ctx context.Context, cfg SenderConfig) (*Sender, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}

	var lastErr error
	backoff := cfg.BackoffBase
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("network: dial %s canceled: %w", cfg.Addr, ctx.Err())
			}
			backoff *= 2
		}

		s, err := tryAnnounce(ctx, cfg)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("network: exhausted %d retries dialing %s: %w", cfg.MaxRetries, cfg.Addr, lastErr)
}

func tryAnnounce(ctx context.Context, cfg SenderConfig) (*Sender, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("network: connect %s: %w", cfg.Addr, err)
	}

	if err := writeFrame(conn, FrameAnnounce, encodeJSON(announceMsg{Partition: cfg.Partition})); err != nil {
		conn.Close()
		return nil, err
	}

	kind, body, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("network: await handshake reply: %w", err)
	}
	switch kind {
	case FrameReady:
		return &Sender{cfg: cfg, conn: conn}, nil
	case FrameError:
		conn.Close()
		return nil, fmt.Errorf("network: receiver rejected announce: %s", string(body))
	default:
		conn.Close()
		return nil, fmt.Errorf("network: unexpected handshake reply kind %d", kind)
	}
}

// SendData writes a Data frame carrying header, payload, and children.
func (s *Sender) SendData(header types.BufferHeader, payload []byte, children [][]byte) error {
	return writeFrame(s.conn, FrameData, wire.EncodeDataFrame(header, payload, children))
}

// SendEvent writes a custom Event frame.
func (s *Sender) SendEvent(name string, payload []byte) error {
	msg := EventMsg{Partition: s.cfg.Partition, Name: name, Payload: payload}
	return writeFrame(s.conn, FrameEvent, encodeJSON(msg))
}

// SendEOS writes an EndOfStream frame with the given termination class.
func (s *Sender) SendEOS(termination types.TerminationType) error {
	msg := EOSMsg{Partition: s.cfg.Partition, Termination: termination}
	return writeFrame(s.conn, FrameEOS, encodeJSON(msg))
}

// Close closes the underlying connection.
func (s *Sender) Close() error {
	return s.conn.Close()
}
