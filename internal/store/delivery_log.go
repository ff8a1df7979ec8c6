// Package store persists delivery accounting for operators. It records call
// outcomes, not message content; the engine itself keeps no state across
// restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultDeliveryListLimit = 100
	maxDeliveryListLimit     = 500
)

// DeliveryLogStore writes one row per completed transport call.
type DeliveryLogStore struct {
	db *sql.DB
}

func NewDeliveryLogStore(db *sql.DB) *DeliveryLogStore {
	return &DeliveryLogStore{db: db}
}

// DeliveryRecord is one completed transport call outcome.
type DeliveryRecord struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	MessageID *string   `json:"message_id,omitempty"`
	Op        string    `json:"op"`
	Outcome   string    `json:"outcome"`
	ErrorKind *string   `json:"error_kind,omitempty"`
	Attempts  int       `json:"attempts"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertDeliveryInput carries the fields for one delivery row.
type InsertDeliveryInput struct {
	Channel   string
	MessageID string
	Op        string
	Outcome   string
	ErrorKind string
	Attempts  int
	Latency   time.Duration
	At        time.Time
}

// Insert records one delivery outcome.
func (s *DeliveryLogStore) Insert(ctx context.Context, input InsertDeliveryInput) error {
	if s == nil || s.db == nil {
		return errors.New("delivery log store requires a database connection")
	}
	if strings.TrimSpace(input.Channel) == "" {
		return errors.New("delivery channel is required")
	}
	if strings.TrimSpace(input.Op) == "" || strings.TrimSpace(input.Outcome) == "" {
		return errors.New("delivery op and outcome are required")
	}

	at := input.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_log (channel, message_id, op, outcome, error_kind, attempts, latency_ms, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		input.Channel,
		input.MessageID,
		input.Op,
		input.Outcome,
		input.ErrorKind,
		input.Attempts,
		input.Latency.Milliseconds(),
		at,
	)
	if err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// ListByChannel returns the most recent delivery rows for a channel, newest
// first.
func (s *DeliveryLogStore) ListByChannel(ctx context.Context, channel string, limit int) ([]DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("delivery log store requires a database connection")
	}
	if limit <= 0 {
		limit = defaultDeliveryListLimit
	}
	if limit > maxDeliveryListLimit {
		limit = maxDeliveryListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, message_id, op, outcome, error_kind, attempts, latency_ms, created_at
		FROM delivery_log
		WHERE channel = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		channel,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	var records []DeliveryRecord
	for rows.Next() {
		var record DeliveryRecord
		var messageID sql.NullString
		var errorKind sql.NullString
		if err := rows.Scan(
			&record.ID,
			&record.Channel,
			&messageID,
			&record.Op,
			&record.Outcome,
			&errorKind,
			&record.Attempts,
			&record.LatencyMS,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		if messageID.Valid {
			record.MessageID = &messageID.String
		}
		if errorKind.Valid {
			record.ErrorKind = &errorKind.String
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
