package eventlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists events in a single gateway_event table. Selected over the
// in-memory store when DATABASE_URL is configured.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the event table if it does not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_event (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL,
			kind        TEXT NOT NULL,
			from_bridge TEXT NOT NULL,
			to_bridge   TEXT NOT NULL,
			status      TEXT NOT NULL,
			details     JSONB,
			ts          TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate gateway_event: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS gateway_event_bridge_idx
		 ON gateway_event (from_bridge, to_bridge, ts DESC)`)
	if err != nil {
		return fmt.Errorf("index gateway_event: %w", err)
	}
	return nil
}

func (s *PGStore) Append(ctx context.Context, ev *Event) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO gateway_event (id, kind, from_bridge, to_bridge, status, details, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		ev.ID, ev.Kind, ev.FromBridge, ev.ToBridge, ev.Status, ev.Details, ev.Timestamp)
	if err := row.Scan(&ev.Seq); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *PGStore) ByBridge(ctx context.Context, bridgeID string) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, kind, from_bridge, to_bridge, status, details, ts
		FROM gateway_event
		WHERE from_bridge = $1 OR to_bridge = $1
		ORDER BY ts DESC, seq ASC`, bridgeID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Kind, &ev.FromBridge, &ev.ToBridge,
			&ev.Status, &ev.Details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
