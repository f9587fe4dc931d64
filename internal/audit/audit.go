// Package audit records structured events for job lifecycle changes.
// Sinks are best-effort: a failed audit write is logged by the caller
// and never aborts the operation being audited.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one structured audit record.
type Event struct {
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Noop discards all events. Used in tests and when auditing is off.
type Noop struct{}

func (Noop) Record(context.Context, Event) error { return nil }

// PostgresSink appends events to the audit_events table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a Postgres-backed audit sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, entity_type, entity_id, user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New().String(), event.Action, event.EntityType, event.EntityID,
		nullIfEmpty(event.UserID), metadata, time.Now())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
