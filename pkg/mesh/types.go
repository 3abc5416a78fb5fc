// Copyright 2025-2026 Quixote Systems

package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID is a Meshtastic node number. The canonical text form is the
// "!"-prefixed lower-case hex used by the radio firmware, e.g. "!abcd1234".
type NodeID uint32

// Broadcast is the destination for channel (non-directed) traffic.
const Broadcast NodeID = 0xffffffff

func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// ParseNodeID parses the "!hex" text form of a node id.
func ParseNodeID(s string) (NodeID, error) {
	raw, ok := strings.CutPrefix(s, "!")
	if !ok {
		return 0, fmt.Errorf("node id %q missing '!' prefix", s)
	}
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("node id %q: %w", s, err)
	}
	return NodeID(v), nil
}

// PortNum identifies the application payload type inside a data packet.
type PortNum int32

const (
	PortUnknown  PortNum = 0
	PortText     PortNum = 1
	PortNodeInfo PortNum = 4
	PortRouting  PortNum = 5
)

// RoutingError is the delivery result carried in a routing packet.
// Zero means the packet was delivered (an ack).
type RoutingError int32

const RoutingErrorNone RoutingError = 0

// NodeRecord is a directory entry learned from the radio's node database.
type NodeRecord struct {
	Num       NodeID
	LongName  string
	ShortName string
}

// TextEvent is an inbound text message from the mesh.
type TextEvent struct {
	From    NodeID
	To      NodeID
	Channel uint32
	Body    string
}

// AckEvent is an inbound delivery report correlated to a previously sent
// packet id.
type AckEvent struct {
	From      NodeID
	RequestID uint32
	Error     RoutingError
}

// Event is an inbound event from the radio. Exactly one payload field is
// set per event.
type Event struct {
	Text *TextEvent
	Ack  *AckEvent
}

// frame is a decoded FromRadio record. Most variants only feed the node
// and channel directories; Text and Ack surface as Events.
type frame struct {
	Text           *TextEvent
	Ack            *AckEvent
	Node           *NodeRecord
	ChannelIndex   int32
	ChannelName    string
	HasChannel     bool
	MyNodeNum      NodeID
	HasMyInfo      bool
	ConfigComplete uint32
	HasConfigDone  bool
}
