package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"MarginVault/internal/observability"
	"MarginVault/internal/vault"

	"github.com/google/uuid"
)

// SnapshotStore persists full engine state to vault_log.snapshots. Recovery
// restores the latest snapshot; events emitted after it are observable in the
// log but the engine does not replay them.
type SnapshotStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewSnapshotStore(db *sql.DB, metrics *observability.Metrics) *SnapshotStore {
	return &SnapshotStore{db: db, metrics: metrics}
}

// Save writes one snapshot. A snapshot at an already-stored sequence replaces
// the stored copy.
func (s *SnapshotStore) Save(ctx context.Context, snap vault.SnapshotData) error {
	start := time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_log.snapshots (snapshot_id, sequence, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), snap.Sequence, data, len(data), snap.TakenAt)
	if err != nil {
		return fmt.Errorf("write snapshot seq=%d: %w", snap.Sequence, err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}

// LoadLatest returns the newest snapshot, or nil on a cold start.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*vault.SnapshotData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM vault_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap vault.SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Prune deletes all but the newest keep snapshots.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM vault_log.snapshots
		WHERE sequence NOT IN (
			SELECT sequence FROM vault_log.snapshots ORDER BY sequence DESC LIMIT $1
		)
	`, keep)
	return err
}
