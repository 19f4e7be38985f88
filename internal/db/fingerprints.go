package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/whisperprint/internal/codec"
)

// FingerprintRecord is one persisted embedding of a recipient's identity
// token. A recipient may own many records, one per fingerprinting call.
type FingerprintRecord struct {
	ID               string    `json:"id"`
	RecipientID      string    `json:"recipient_id"`
	IdentityToken    uuid.UUID `json:"identity_token"`
	SymbolSequence   string    `json:"symbol_sequence"`
	CreatedAt        time.Time `json:"created_at"`
	DocumentHash     *string   `json:"document_hash,omitempty"`
	DocumentMetadata string    `json:"document_metadata,omitempty"`
}

// Document is a content-addressed carrier text.
type Document struct {
	DocumentHash string    `json:"document_hash"`
	OriginalText string    `json:"original_text"`
	CreatedAt    time.Time `json:"created_at"`
	Metadata     string    `json:"metadata"`
}

// ContentAddress derives a document's storage key from its original text.
// Identical text always yields the same address.
func ContentAddress(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SequenceHash is the indexed lookup key for a symbol sequence.
func SequenceHash(seq string) string {
	sum := sha256.Sum256([]byte(seq))
	return hex.EncodeToString(sum[:])
}

// StoreFingerprintParams are the inputs to StoreFingerprint. DocumentText
// and DocumentMetadata are optional; UserID attributes the audit event.
type StoreFingerprintParams struct {
	RecipientID      string
	IdentityToken    uuid.UUID
	SymbolSequence   string
	DocumentText     string
	DocumentMetadata string
	UserID           string
}

// StoreFingerprint persists one fingerprinting call as a single unit:
// recipient upsert, document dedup-insert (when text is supplied), record
// insert and audit event all commit together or not at all. A duplicate
// document hash is a no-op, not an error.
func (db *DB) StoreFingerprint(ctx context.Context, p StoreFingerprintParams) (*FingerprintRecord, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recipients (id, recipient_id, identity_token)
		VALUES (?, ?, ?)
		ON CONFLICT(recipient_id) DO NOTHING`,
		NewID(), p.RecipientID, p.IdentityToken.String()); err != nil {
		return nil, storageErr("ensuring recipient", err)
	}

	var docHash *string
	if p.DocumentText != "" {
		h := ContentAddress(p.DocumentText)
		metadata := p.DocumentMetadata
		if metadata == "" {
			metadata = "{}"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (document_hash, original_text, metadata)
			VALUES (?, ?, ?)
			ON CONFLICT(document_hash) DO NOTHING`,
			h, p.DocumentText, metadata); err != nil {
			return nil, storageErr("inserting document", err)
		}
		docHash = &h
	}

	rec := &FingerprintRecord{
		ID:               NewID(),
		RecipientID:      p.RecipientID,
		IdentityToken:    p.IdentityToken,
		SymbolSequence:   p.SymbolSequence,
		DocumentHash:     docHash,
		DocumentMetadata: p.DocumentMetadata,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO fingerprints (id, recipient_id, identity_token, symbol_sequence,
			sequence_hash, document_hash, document_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING created_at`,
		rec.ID, rec.RecipientID, rec.IdentityToken.String(), rec.SymbolSequence,
		SequenceHash(rec.SymbolSequence), docHash, rec.DocumentMetadata).Scan(&rec.CreatedAt); err != nil {
		return nil, storageErr("inserting fingerprint", err)
	}

	err = appendAuditEvent(ctx, tx, EventFingerprintStored, map[string]any{
		"recipient_id":   p.RecipientID,
		"fingerprint_id": rec.ID,
		"document_hash":  docHash,
	}, p.UserID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("committing fingerprint", err)
	}
	return rec, nil
}

// GetByFingerprint finds a stored record whose symbol sequence is
// contained in candidate. Stored sequences are always exactly
// codec.SequenceLength symbols, so containment is tested by hashing every
// full-length window of the candidate and probing the sequence_hash index
// with them — sublinear in the number of stored records. Equal-length
// containment is equality, so one stored sequence can never shadow
// another as a proper substring. When several records match, the most
// recently created wins (ties broken by id, descending).
func (db *DB) GetByFingerprint(ctx context.Context, candidate string) (*FingerprintRecord, error) {
	runes := []rune(candidate)
	if len(runes) < codec.SequenceLength {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var hashes []any
	for i := 0; i+codec.SequenceLength <= len(runes); i++ {
		h := SequenceHash(string(runes[i : i+codec.SequenceLength]))
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}

	// Stay under SQLite's bound-variable limit for very long candidates.
	const chunkSize = 500
	var best *FingerprintRecord
	for start := 0; start < len(hashes); start += chunkSize {
		end := start + chunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[start:end]
		query := `
			SELECT id, recipient_id, identity_token, symbol_sequence, created_at,
				document_hash, document_metadata
			FROM fingerprints
			WHERE sequence_hash IN (?` + strings.Repeat(",?", len(chunk)-1) + `)
			ORDER BY created_at DESC, id DESC`
		rows, err := db.QueryContext(ctx, query, chunk...)
		if err != nil {
			return nil, storageErr("querying fingerprints", err)
		}
		for rows.Next() {
			rec, err := scanFingerprint(rows)
			if err != nil {
				rows.Close()
				return nil, storageErr("scanning fingerprint", err)
			}
			if !strings.Contains(candidate, rec.SymbolSequence) {
				continue
			}
			if best == nil || rec.CreatedAt.After(best.CreatedAt) ||
				(rec.CreatedAt.Equal(best.CreatedAt) && rec.ID > best.ID) {
				best = rec
			}
			break
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storageErr("querying fingerprints", err)
		}
		rows.Close()
	}
	return best, nil
}

// ListFingerprintsByRecipient returns every record owned by recipientID,
// newest first.
func (db *DB) ListFingerprintsByRecipient(ctx context.Context, recipientID string) ([]FingerprintRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, recipient_id, identity_token, symbol_sequence, created_at,
			document_hash, document_metadata
		FROM fingerprints
		WHERE recipient_id = ?
		ORDER BY created_at DESC, id DESC`, recipientID)
	if err != nil {
		return nil, storageErr("listing fingerprints", err)
	}
	defer rows.Close()

	var records []FingerprintRecord
	for rows.Next() {
		rec, err := scanFingerprint(rows)
		if err != nil {
			return nil, storageErr("scanning fingerprint", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listing fingerprints", err)
	}
	return records, nil
}

// GetDocument returns the document stored under hash, or nil when none
// exists.
func (db *DB) GetDocument(ctx context.Context, hash string) (*Document, error) {
	d := &Document{}
	err := db.QueryRowContext(ctx, `
		SELECT document_hash, original_text, created_at, metadata
		FROM documents WHERE document_hash = ?`, hash).
		Scan(&d.DocumentHash, &d.OriginalText, &d.CreatedAt, &d.Metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("reading document", err)
	}
	return d, nil
}

func scanFingerprint(row rowScanner) (*FingerprintRecord, error) {
	rec := &FingerprintRecord{}
	var tokenText string
	var docHash, docMeta sql.NullString
	if err := row.Scan(&rec.ID, &rec.RecipientID, &tokenText, &rec.SymbolSequence,
		&rec.CreatedAt, &docHash, &docMeta); err != nil {
		return nil, err
	}
	token, err := uuid.Parse(tokenText)
	if err != nil {
		return nil, err
	}
	rec.IdentityToken = token
	if docHash.Valid {
		rec.DocumentHash = &docHash.String
	}
	if docMeta.Valid {
		rec.DocumentMetadata = docMeta.String
	}
	return rec, nil
}
