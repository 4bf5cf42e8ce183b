package domain

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Sign returns +1 for inbound and -1 for outbound movements.
func (d Direction) Sign() int {
	if d == DirectionOutbound {
		return -1
	}
	return 1
}

// Movement is one append-only ledger entry.
type Movement struct {
	ID          int64
	ProductID   int64
	ProductName string // filled by listings, empty when the product is gone
	Direction   Direction
	Magnitude   int
	ActorID     string
	CreatedAt   time.Time
}

// Signed returns the magnitude with the direction applied.
func (m Movement) Signed() int {
	return m.Direction.Sign() * m.Magnitude
}

// MovementForDelta builds the ledger entry for a non-zero quantity delta.
func MovementForDelta(productID int64, delta int, actorID string, at time.Time) Movement {
	m := Movement{
		ProductID: productID,
		Direction: DirectionInbound,
		Magnitude: delta,
		ActorID:   actorID,
		CreatedAt: at,
	}
	if delta < 0 {
		m.Direction = DirectionOutbound
		m.Magnitude = -delta
	}
	return m
}

func ValidateAdjustment(direction Direction, magnitude int) error {
	if !direction.Valid() {
		return fmt.Errorf("%w: direction must be %q or %q", ErrValidation, DirectionInbound, DirectionOutbound)
	}
	if magnitude <= 0 {
		return fmt.Errorf("%w: magnitude must be positive", ErrValidation)
	}
	if magnitude > MaxQuantity {
		return fmt.Errorf("%w: magnitude must not exceed %d", ErrValidation, MaxQuantity)
	}
	return nil
}

// MovementFilter narrows a movement listing. A zero ProductID lists the whole ledger.
type MovementFilter struct {
	ProductID int64
}
