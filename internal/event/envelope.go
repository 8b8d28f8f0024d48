package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for vault event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeLiquidityDeposited
	TypeLiquidityWithdrawn
	TypeAccountFunded
	TypeAccountWithdrawal
	TypeMarginSwapped
	TypePositionOpened
	TypeMarginAdded
	TypeMarginRemoved
	TypePositionReduced
	TypePositionClosed
	TypePositionLiquidated
	TypeBadDebtRecognized
	TypeBadDebtRepaid
	TypeInterestAccrued
	TypeFeeDistributed
)

// Envelope wraps every event emitted by the engine.
type Envelope struct {
	// Monotonic sequence assigned at emit time
	Sequence int64 `json:"sequence"`

	// Unique event id
	EventID uuid.UUID `json:"event_id"`

	// Event type discriminator
	Type Type `json:"type"`

	// Account context (uuid.Nil for system events like accrual)
	Account uuid.UUID `json:"account,omitempty"`

	// Asset context (empty for multi-asset events)
	Token string `json:"token,omitempty"`

	// Engine clock at commit time
	Timestamp time.Time `json:"timestamp"`

	// Event-specific payload, JSON-encoded for the log and the stream
	Payload interface{} `json:"payload"`
}

func (t Type) String() string {
	switch t {
	case TypeLiquidityDeposited:
		return "LiquidityDeposited"
	case TypeLiquidityWithdrawn:
		return "LiquidityWithdrawn"
	case TypeAccountFunded:
		return "AccountFunded"
	case TypeAccountWithdrawal:
		return "AccountWithdrawal"
	case TypeMarginSwapped:
		return "MarginSwapped"
	case TypePositionOpened:
		return "PositionOpened"
	case TypeMarginAdded:
		return "MarginAdded"
	case TypeMarginRemoved:
		return "MarginRemoved"
	case TypePositionReduced:
		return "PositionReduced"
	case TypePositionClosed:
		return "PositionClosed"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	case TypeBadDebtRecognized:
		return "BadDebtRecognized"
	case TypeBadDebtRepaid:
		return "BadDebtRepaid"
	case TypeInterestAccrued:
		return "InterestAccrued"
	case TypeFeeDistributed:
		return "FeeDistributed"
	default:
		return "Unknown"
	}
}

// Sink receives committed events. Implementations must not block the engine;
// slow consumers buffer or drop downstream.
type Sink interface {
	Publish(Envelope)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Envelope)

func (f SinkFunc) Publish(e Envelope) { f(e) }
