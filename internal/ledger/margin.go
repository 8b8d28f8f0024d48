package ledger

import (
	"sort"

	"MarginVault/internal/asset"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MarginLedger tracks per-account, per-asset free margin: collateral held in
// the vault but not locked in any open position. Position margin is tracked
// on the position itself; the ledger only sees the debit at open and the
// credit at close.
type MarginLedger struct {
	balances map[balanceKey]*uint256.Int
}

type balanceKey struct {
	Account uuid.UUID
	Token   asset.Token
}

func NewMarginLedger() *MarginLedger {
	return &MarginLedger{balances: make(map[balanceKey]*uint256.Int)}
}

// Balance returns the account's free margin in the asset.
func (l *MarginLedger) Balance(account uuid.UUID, token asset.Token) *uint256.Int {
	if b, ok := l.balances[balanceKey{account, token}]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// Credit adds to the account's free margin.
func (l *MarginLedger) Credit(account uuid.UUID, token asset.Token, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	key := balanceKey{account, token}
	b, ok := l.balances[key]
	if !ok {
		b = new(uint256.Int)
		l.balances[key] = b
	}
	b.Add(b, amount)
}

// Debit removes from the account's free margin. Returns false, mutating
// nothing, when the balance is short.
func (l *MarginLedger) Debit(account uuid.UUID, token asset.Token, amount *uint256.Int) bool {
	key := balanceKey{account, token}
	b, ok := l.balances[key]
	if !ok || b.Lt(amount) {
		return false
	}
	b.Sub(b, amount)
	return true
}

// BalanceEntry is one non-zero ledger row, used for snapshots and queries.
type BalanceEntry struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// Snapshot returns all non-zero balances in deterministic order.
func (l *MarginLedger) Snapshot() []BalanceEntry {
	out := make([]BalanceEntry, 0, len(l.balances))
	for key, b := range l.balances {
		if b.IsZero() {
			continue
		}
		out = append(out, BalanceEntry{
			Account: key.Account.String(),
			Token:   string(key.Token),
			Amount:  b.Dec(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Restore replaces the ledger contents from a snapshot.
func (l *MarginLedger) Restore(entries []BalanceEntry) error {
	balances := make(map[balanceKey]*uint256.Int, len(entries))
	for _, e := range entries {
		acct, err := uuid.Parse(e.Account)
		if err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(e.Amount)
		if err != nil {
			return err
		}
		balances[balanceKey{acct, asset.Token(e.Token)}] = amount
	}
	l.balances = balances
	return nil
}
