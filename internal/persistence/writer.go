package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MarginVault/internal/event"

	"github.com/google/uuid"
)

// EventRow is one row of vault_log.events.
type EventRow struct {
	Sequence  int64
	EventID   uuid.UUID
	EventType string
	AccountID uuid.UUID
	Token     string
	Payload   []byte
	Timestamp time.Time
}

// RowFromEnvelope flattens an engine event for the log. The payload is stored
// as JSON so the log stays queryable without a decoder.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload seq=%d: %w", env.Sequence, err)
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID,
		EventType: env.Type.String(),
		AccountID: env.Account,
		Token:     env.Token,
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// EventLogWriter appends event batches to Postgres with multi-row INSERT.
// Re-delivered sequences are ignored, so replays after a crash are safe.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// DB exposes the handle for transaction control by the worker.
func (w *EventLogWriter) DB() *sql.DB { return w.db }

// WriteBatch inserts the rows inside the given transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault_log.events
		(sequence, event_id, event_type, account_id, token, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Sequence, r.EventID, r.EventType, r.AccountID,
			r.Token, r.Payload, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest persisted sequence, 0 for an empty log.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM vault_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// LoadEventsFrom reads events at or after the sequence, oldest first. Used by
// operational tooling to inspect what happened after a snapshot.
func (w *EventLogWriter) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, account_id, token, payload, timestamp
		FROM vault_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(
			&r.Sequence, &r.EventID, &r.EventType, &r.AccountID,
			&r.Token, &r.Payload, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
