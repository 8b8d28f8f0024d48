package pool

import (
	"sort"

	"MarginVault/internal/asset"
)

// Manager owns one AssetPool per asset, created lazily on first touch.
type Manager struct {
	pools map[asset.Token]*AssetPool
}

func NewManager() *Manager {
	return &Manager{pools: make(map[asset.Token]*AssetPool)}
}

// Pool returns the asset's pool, creating an empty book on first use.
func (m *Manager) Pool(token asset.Token) *AssetPool {
	p, ok := m.pools[token]
	if !ok {
		p = newAssetPool(token)
		m.pools[token] = p
	}
	return p
}

// Tokens returns the assets with an existing pool, in symbol order.
func (m *Manager) Tokens() []asset.Token {
	out := make([]asset.Token, 0, len(m.pools))
	for tok := range m.pools {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
