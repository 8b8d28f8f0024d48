package asset

import (
	"fmt"
	"sort"
)

// Token identifies an asset by symbol. All vault state is keyed by Token.
type Token string

// Info describes a whitelisted token: number of decimals the token's amounts
// carry and the oracle feed its USD price comes from.
type Info struct {
	Symbol   Token
	Decimals uint8
	FeedID   string
}

// Registry holds the set of whitelisted tokens. Only whitelisted tokens can
// be deposited, borrowed, or held as margin; whitelisting binds a token to
// its oracle feed.
type Registry struct {
	tokens map[Token]Info
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[Token]Info)}
}

// Whitelist registers or updates a token. Decimals above 18 are rejected;
// fixed-point conversions assume token amounts fit the share precision.
func (r *Registry) Whitelist(symbol Token, decimals uint8, feedID string) error {
	if symbol == "" {
		return fmt.Errorf("empty token symbol")
	}
	if decimals > 18 {
		return fmt.Errorf("token %s: decimals %d exceeds 18", symbol, decimals)
	}
	if feedID == "" {
		return fmt.Errorf("token %s: empty feed id", symbol)
	}
	r.tokens[symbol] = Info{Symbol: symbol, Decimals: decimals, FeedID: feedID}
	return nil
}

// Remove delists a token. Existing positions and pool balances are untouched;
// the engine rejects new operations on delisted tokens.
func (r *Registry) Remove(symbol Token) {
	delete(r.tokens, symbol)
}

// Get returns the token info and whether the token is whitelisted.
func (r *Registry) Get(symbol Token) (Info, bool) {
	info, ok := r.tokens[symbol]
	return info, ok
}

// IsWhitelisted reports whether the token is registered.
func (r *Registry) IsWhitelisted(symbol Token) bool {
	_, ok := r.tokens[symbol]
	return ok
}

// List returns all whitelisted tokens in symbol order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.tokens))
	for _, info := range r.tokens {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
