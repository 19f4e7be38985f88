package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// AuditEntry is one row of the append-only audit log. Entries are never
// mutated or deleted; the id is monotonic.
type AuditEntry struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    *string         `json:"user_id,omitempty"`
}

// Audit event types appended by the store and the engine.
const (
	EventRecipientAdded        = "recipient_added"
	EventFingerprintStored     = "fingerprint_stored"
	EventFingerprintIdentified = "fingerprint_identified"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendAuditEvent(ctx context.Context, ex execer, eventType string, eventData any, userID string) error {
	data, err := json.Marshal(eventData)
	if err != nil {
		return storageErr("encoding audit event", err)
	}
	var uid *string
	if userID != "" {
		uid = &userID
	}
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, event_data, user_id)
		VALUES (?, ?, ?)`, eventType, string(data), uid); err != nil {
		return storageErr("appending audit event", err)
	}
	return nil
}

// AppendAuditEvent appends one event outside any transaction. An error
// here is returned to the caller of the triggering operation, never
// swallowed.
func (db *DB) AppendAuditEvent(ctx context.Context, eventType string, eventData any, userID string) error {
	return appendAuditEvent(ctx, db.DB, eventType, eventData, userID)
}

// ListAuditEvents returns the most recent entries, newest first,
// optionally filtered by event type. limit <= 0 defaults to 100.
func (db *DB) ListAuditEvents(ctx context.Context, limit int, eventType string) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, event_type, event_data, timestamp, user_id FROM audit_log`
	var args []any
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("listing audit events", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var data string
		var userID sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &data, &e.Timestamp, &userID); err != nil {
			return nil, storageErr("scanning audit event", err)
		}
		e.EventData = json.RawMessage(data)
		if userID.Valid {
			e.UserID = &userID.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listing audit events", err)
	}
	return entries, nil
}
