package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recipient binds a caller-supplied recipient identifier to its stable,
// once-generated identity token.
type Recipient struct {
	ID            string    `json:"id"`
	RecipientID   string    `json:"recipient_id"`
	IdentityToken uuid.UUID `json:"identity_token"`
	CreatedAt     time.Time `json:"created_at"`
	Metadata      string    `json:"metadata"`
}

// ResolveOrCreate returns the identity token for recipientID, generating
// and persisting a fresh one on first sight. The insert-or-ignore and the
// follow-up read run in one transaction, so concurrent first-time callers
// for the same recipientID all observe the single token that won the
// insert. Re-resolving never changes an existing token.
func (db *DB) ResolveOrCreate(ctx context.Context, recipientID, metadata string) (uuid.UUID, error) {
	if recipientID == "" {
		return uuid.Nil, fmt.Errorf("recipient id is required")
	}
	if metadata == "" {
		metadata = "{}"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	fresh := uuid.New()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO recipients (id, recipient_id, identity_token, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(recipient_id) DO NOTHING`,
		NewID(), recipientID, fresh.String(), metadata)
	if err != nil {
		return uuid.Nil, storageErr("inserting recipient", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return uuid.Nil, storageErr("inserting recipient", err)
	}

	var tokenText string
	if err := tx.QueryRowContext(ctx, `
		SELECT identity_token FROM recipients WHERE recipient_id = ?`,
		recipientID).Scan(&tokenText); err != nil {
		return uuid.Nil, storageErr("reading identity token", err)
	}

	if inserted > 0 {
		err := appendAuditEvent(ctx, tx, EventRecipientAdded,
			map[string]any{"recipient_id": recipientID}, "")
		if err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, storageErr("committing recipient", err)
	}

	token, err := uuid.Parse(tokenText)
	if err != nil {
		return uuid.Nil, storageErr("parsing stored identity token", err)
	}
	return token, nil
}

// GetRecipient returns the recipient for recipientID, or nil when none
// exists.
func (db *DB) GetRecipient(ctx context.Context, recipientID string) (*Recipient, error) {
	r, err := scanRecipient(db.QueryRowContext(ctx, `
		SELECT id, recipient_id, identity_token, created_at, metadata
		FROM recipients WHERE recipient_id = ?`, recipientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("reading recipient", err)
	}
	return r, nil
}

// ListRecipients returns every recipient, oldest first. No implicit
// filtering; callers paginate.
func (db *DB) ListRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, recipient_id, identity_token, created_at, metadata
		FROM recipients ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("listing recipients", err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, storageErr("scanning recipient", err)
		}
		recipients = append(recipients, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listing recipients", err)
	}
	return recipients, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*Recipient, error) {
	r := &Recipient{}
	var tokenText string
	if err := row.Scan(&r.ID, &r.RecipientID, &tokenText, &r.CreatedAt, &r.Metadata); err != nil {
		return nil, err
	}
	token, err := uuid.Parse(tokenText)
	if err != nil {
		return nil, err
	}
	r.IdentityToken = token
	return r, nil
}
