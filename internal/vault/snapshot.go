package vault

import (
	"fmt"
	"sort"
	"time"

	"MarginVault/internal/asset"
	"MarginVault/internal/ledger"
	"MarginVault/internal/pool"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SnapshotData is the full recoverable engine state. Admin configuration is
// not part of it; operators re-apply configuration at startup.
type SnapshotData struct {
	Sequence           int64                 `json:"sequence"`
	TakenAt            int64                 `json:"taken_at"` // unix seconds
	AcceptingNewOrders bool                  `json:"accepting_new_orders"`
	Pools              []pool.AssetPoolState `json:"pools"`
	Margin             []ledger.BalanceEntry `json:"margin"`
	Positions          []PositionState       `json:"positions"`
}

// PositionState is one open position in snapshot form.
type PositionState struct {
	UID            string `json:"uid"`
	Account        string `json:"account"`
	DebtToken      string `json:"debt_token"`
	MarginAmount   string `json:"margin_amount"`
	DebtShares     string `json:"debt_shares"`
	PositionToken  string `json:"position_token"`
	PositionAmount string `json:"position_amount"`
	OpenedAt       int64  `json:"opened_at"`
}

// Snapshot captures the engine state for persistence.
func (e *Engine) Snapshot() SnapshotData {
	positions := make([]PositionState, 0, len(e.positions))
	for _, uid := range e.positionUIDs() {
		pos := e.positions[uid]
		positions = append(positions, PositionState{
			UID:            pos.UID.String(),
			Account:        pos.Account.String(),
			DebtToken:      string(pos.DebtToken),
			MarginAmount:   pos.MarginAmount.Dec(),
			DebtShares:     pos.DebtShares.Dec(),
			PositionToken:  string(pos.PositionToken),
			PositionAmount: pos.PositionAmount.Dec(),
			OpenedAt:       pos.OpenedAt.Unix(),
		})
	}

	return SnapshotData{
		Sequence:           e.seq,
		TakenAt:            e.now().Unix(),
		AcceptingNewOrders: e.cfg.AcceptingNewOrders(),
		Pools:              e.pools.Snapshot(),
		Margin:             e.margin.Snapshot(),
		Positions:          positions,
	}
}

// Restore replaces the engine state from a snapshot.
func (e *Engine) Restore(s SnapshotData) error {
	if err := e.pools.Restore(s.Pools); err != nil {
		return fmt.Errorf("restore pools: %w", err)
	}
	if err := e.margin.Restore(s.Margin); err != nil {
		return fmt.Errorf("restore margin: %w", err)
	}

	positions := make(map[uuid.UUID]*Position, len(s.Positions))
	for _, ps := range s.Positions {
		pos, err := restorePosition(ps)
		if err != nil {
			return fmt.Errorf("restore position %s: %w", ps.UID, err)
		}
		positions[pos.UID] = pos
	}
	e.positions = positions
	e.seq = s.Sequence
	e.cfg.SetAcceptingNewOrders(s.AcceptingNewOrders)

	if e.metrics != nil {
		e.metrics.EventSeq.Set(float64(e.seq))
		e.metrics.OpenPositions.Set(float64(len(e.positions)))
	}
	for _, tok := range e.pools.Tokens() {
		e.updatePoolMetrics(tok)
	}
	return nil
}

func restorePosition(ps PositionState) (*Position, error) {
	uid, err := uuid.Parse(ps.UID)
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	account, err := uuid.Parse(ps.Account)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	marginAmount, err := uint256.FromDecimal(ps.MarginAmount)
	if err != nil {
		return nil, fmt.Errorf("margin_amount: %w", err)
	}
	debtShares, err := uint256.FromDecimal(ps.DebtShares)
	if err != nil {
		return nil, fmt.Errorf("debt_shares: %w", err)
	}
	positionAmount, err := uint256.FromDecimal(ps.PositionAmount)
	if err != nil {
		return nil, fmt.Errorf("position_amount: %w", err)
	}
	return &Position{
		UID:            uid,
		Account:        account,
		DebtToken:      asset.Token(ps.DebtToken),
		MarginAmount:   marginAmount,
		DebtShares:     debtShares,
		PositionToken:  asset.Token(ps.PositionToken),
		PositionAmount: positionAmount,
		OpenedAt:       time.Unix(ps.OpenedAt, 0).UTC(),
	}, nil
}

func (e *Engine) positionUIDs() []uuid.UUID {
	uids := make([]uuid.UUID, 0, len(e.positions))
	for uid := range e.positions {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i].String() < uids[j].String() })
	return uids
}
