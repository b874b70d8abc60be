package network

import "github.com/fluxmesh/fluxmesh/pkg/types"

// announceMsg is the client-announcement handshake frame of spec.md §4.2:
// a downstream receiver's upstream sender names the Partition it intends
// to push data for.
type announceMsg struct {
	Partition types.Partition `json:"partition"`
}

// errorMsg carries the reason a handshake or channel was rejected.
type errorMsg struct {
	Reason string `json:"reason"`
}

// EventMsg carries a custom control event, source-start notifications
// among them (spec.md §4.2 "Event / EndOfStream").
type EventMsg struct {
	Partition types.Partition `json:"partition"`
	Name      string          `json:"name"`
	Payload   []byte          `json:"payload,omitempty"`
}

// EOSMsg signals end-of-stream on a partition with a termination class.
type EOSMsg struct {
	Partition   types.Partition      `json:"partition"`
	Termination types.TerminationType `json:"termination"`
}

// Delivery is what a registered partition receives from the transport's
// handler pool: exactly one of Buffer, Event, or EOS is set, matching
// Kind.
type Delivery struct {
	Kind   types.MsgType
	Buffer *DataBuffer
	Event  *EventMsg
	EOS    *EOSMsg
}

// DataBuffer is the decoded payload of a Data frame: a pooled buffer plus
// its attached children, ready to hand to the destination pipeline.
type DataBuffer struct {
	Header   types.BufferHeader
	Payload  []byte
	Children [][]byte
}
