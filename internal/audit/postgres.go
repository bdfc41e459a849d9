package audit

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresSink inserts events into the audit_events table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and creates the schema if needed.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[audit] connected to PostgreSQL")
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// Write inserts evt. Replays of the same event ID are ignored.
func (s *PostgresSink) Write(ctx context.Context, evt *Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events
			(event_id, event_type, batch_id, namespace, occurred_at, prev_event_hash, event_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`,
		evt.EventID,
		evt.EventType,
		evt.Batch.ID,
		evt.Batch.Namespace,
		evt.Timestamp,
		evt.Chain.PrevEventHash,
		evt.Chain.EventHash,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", evt.EventID, err)
	}
	return nil
}

// Events returns stored events of one type, oldest first.
func (s *PostgresSink) Events(ctx context.Context, eventType string) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM audit_events
		WHERE event_type = $1
		ORDER BY occurred_at, created_at
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var evt Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Close closes the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
