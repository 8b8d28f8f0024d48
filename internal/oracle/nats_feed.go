package oracle

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"MarginVault/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// PriceSubjectPrefix is where upstream publishers post readings. The feed id
// is the final subject token: vault.prices.{feed_id}.
const PriceSubjectPrefix = "vault.prices."

// PriceUpdate is the wire form of one oracle reading.
type PriceUpdate struct {
	FeedID    string    `json:"feed_id"`
	Price     int64     `json:"price"` // 8-decimal USD
	Timestamp time.Time `json:"timestamp"`
}

// NATSFeed caches the latest reading per feed from a NATS price subject.
// It satisfies PriceFeed for the adapter; staleness is judged by the adapter,
// not here.
type NATSFeed struct {
	mu     sync.RWMutex
	latest map[string]Price
	sub    *nats.Subscription
	log    zerolog.Logger
}

func NewNATSFeed() *NATSFeed {
	return &NATSFeed{
		latest: make(map[string]Price),
		log:    observability.NewLogger("oracle_feed"),
	}
}

// Subscribe starts consuming price updates. Malformed messages are logged
// and dropped; readings never go backwards in time.
func (f *NATSFeed) Subscribe(nc *nats.Conn) error {
	sub, err := nc.Subscribe(PriceSubjectPrefix+">", f.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s>: %w", PriceSubjectPrefix, err)
	}
	f.sub = sub
	f.log.Info().Str("subject", PriceSubjectPrefix+">").Msg("price feed subscribed")
	return nil
}

func (f *NATSFeed) handle(msg *nats.Msg) {
	var upd PriceUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		f.log.Warn().Err(err).Str("subject", msg.Subject).Msg("drop malformed price update")
		return
	}
	if upd.FeedID == "" || upd.Price <= 0 {
		f.log.Warn().Str("feed", upd.FeedID).Int64("price", upd.Price).Msg("drop invalid price update")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.latest[upd.FeedID]; ok && upd.Timestamp.Before(prev.Timestamp) {
		return
	}
	f.latest[upd.FeedID] = Price{Value: upd.Price, Timestamp: upd.Timestamp}
}

// Price returns the latest cached reading for the feed.
func (f *NATSFeed) Price(feedID string) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.latest[feedID]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrNoPrice, feedID)
	}
	return p, nil
}

// Set injects a reading directly, bypassing NATS. Used at startup seeding
// and by tests.
func (f *NATSFeed) Set(feedID string, price int64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest[feedID] = Price{Value: price, Timestamp: ts}
}

// Unsubscribe stops the feed.
func (f *NATSFeed) Unsubscribe() {
	if f.sub != nil {
		f.sub.Unsubscribe()
	}
}
