package vault

import (
	stdmath "math"
	"time"

	"MarginVault/internal/asset"
	vmath "MarginVault/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Position is one leveraged position. MarginAmount and DebtShares are
// denominated against DebtToken; PositionAmount is the holding in
// PositionToken bought at open. A zeroed PositionAmount means the position is
// closed and the record is gone.
type Position struct {
	UID            uuid.UUID
	Account        uuid.UUID
	DebtToken      asset.Token
	MarginAmount   *uint256.Int
	DebtShares     *uint256.Int
	PositionToken  asset.Token
	PositionAmount *uint256.Int
	OpenedAt       time.Time
}

func (p *Position) clone() *Position {
	return &Position{
		UID:            p.UID,
		Account:        p.Account,
		DebtToken:      p.DebtToken,
		MarginAmount:   new(uint256.Int).Set(p.MarginAmount),
		DebtShares:     new(uint256.Int).Set(p.DebtShares),
		PositionToken:  p.PositionToken,
		PositionAmount: new(uint256.Int).Set(p.PositionAmount),
		OpenedAt:       p.OpenedAt,
	}
}

// Leverage is positionValue / marginValue with flooring, all three values in
// the same unit (USD at PriceScale in practice). A nil marginValue defaults
// to positionValue - debtValue. A position with no equity left reports the
// maximum leverage so it always trips the liquidation gate.
func Leverage(positionValue, debtValue, marginValue *uint256.Int) uint64 {
	if marginValue == nil {
		marginValue = vmath.SubClamp(positionValue, debtValue)
	}
	if marginValue.IsZero() {
		return stdmath.MaxUint64
	}
	q := new(uint256.Int).Div(positionValue, marginValue)
	if !q.IsUint64() {
		return stdmath.MaxUint64
	}
	return q.Uint64()
}
