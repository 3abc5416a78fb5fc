// Copyright 2025-2026 Quixote Systems

package bridge

import (
	"time"

	"github.com/google/uuid"
)

// Direction is which way through the bridge an envelope travels.
type Direction int

const (
	DirectionJ2M Direction = iota // JS8Call → mesh
	DirectionM2J                  // mesh → JS8Call
)

func (d Direction) String() string {
	if d == DirectionJ2M {
		return "j2m"
	}
	return "m2j"
}

// Envelope is the normalized unit passed from ingress to dispatch. It is
// created when a message enters the bridge and discarded after the sends
// it resolves to are issued; nothing persists it.
type Envelope struct {
	// ID correlates the log records of one envelope's processing.
	ID uuid.UUID
	// Origin is the sender identity on the ingress side: a callsign for
	// J2M, a node id string for M2J.
	Origin string
	// Body is the normalized message text.
	Body string
	// Tag is the extracted routing tag, lower-cased, empty when none.
	Tag string
	// Direction the envelope travels.
	Direction Direction
	// Received is the ingress timestamp.
	Received time.Time
}

func newEnvelope(dir Direction, origin, body string) Envelope {
	return Envelope{
		ID:        uuid.New(),
		Origin:    origin,
		Body:      body,
		Direction: dir,
		Received:  time.Now(),
	}
}
