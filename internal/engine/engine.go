// Package engine is the fingerprinting core: it resolves recipients to
// identity tokens, encodes and embeds fingerprints into carrier text, and
// resolves leaked excerpts back to the owning recipient. The engine owns
// its store handle and an explicit read-through token cache; the SQLite
// database is the single source of truth.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hazyhaar/whisperprint/internal/codec"
	"github.com/hazyhaar/whisperprint/internal/db"
	"github.com/hazyhaar/whisperprint/internal/mark"
)

// Paraphraser is the external text-rewriting collaborator. Implementations
// return variants in preference order; the engine uses the first one and
// falls back to the original text on error or an empty result.
type Paraphraser interface {
	Paraphrase(ctx context.Context, text string, n int) ([]string, error)
}

type Engine struct {
	db         *db.DB
	paraphrase Paraphraser // nil disables paraphrasing
	variants   int

	mu     sync.RWMutex
	tokens map[string]uuid.UUID // read-through cache: recipient_id -> token
}

// Option configures an Engine.
type Option func(*Engine)

// WithParaphraser wires the external rewriting collaborator.
func WithParaphraser(p Paraphraser) Option {
	return func(e *Engine) { e.paraphrase = p }
}

// WithVariantCount sets how many paraphrase variants are requested.
func WithVariantCount(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.variants = n
		}
	}
}

func New(database *db.DB, opts ...Option) *Engine {
	e := &Engine{
		db:       database,
		variants: 3,
		tokens:   make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveOrCreate returns the stable identity token for recipientID. The
// cache is read-through over the store; misses go to the store's atomic
// insert-or-read, and the winning token is cached write-through, so the
// cache can never disagree with the store.
func (e *Engine) ResolveOrCreate(ctx context.Context, recipientID string) (uuid.UUID, error) {
	e.mu.RLock()
	token, ok := e.tokens[recipientID]
	e.mu.RUnlock()
	if ok {
		return token, nil
	}

	token, err := e.db.ResolveOrCreate(ctx, recipientID, "")
	if err != nil {
		return uuid.Nil, err
	}

	e.mu.Lock()
	e.tokens[recipientID] = token
	e.mu.Unlock()
	return token, nil
}

// FingerprintedDocument is the result of one fingerprinting call. Record
// is nil when persistence failed; MarkedText and IdentityToken are still
// populated in that case so the caller can decide whether to proceed.
type FingerprintedDocument struct {
	MarkedText    string                `json:"marked_text"`
	IdentityToken uuid.UUID             `json:"identity_token"`
	Record        *db.FingerprintRecord `json:"record,omitempty"`
}

// CreateFingerprintedDocument produces a recipient-specific copy of text:
// the carrier (first paraphrase variant, or text itself when the
// collaborator yields none) with the recipient's encoded identity token
// embedded invisibly, persisted as a fingerprint record with an audit
// event. On a storage failure the marked text is returned together with
// the non-nil error; errors.Is(err, db.ErrStorage) distinguishes that
// case from a failure to resolve the recipient at all.
func (e *Engine) CreateFingerprintedDocument(ctx context.Context, text, recipientID, documentMetadata, userID string) (*FingerprintedDocument, error) {
	carrier := text
	if e.paraphrase != nil {
		variants, err := e.paraphrase.Paraphrase(ctx, text, e.variants)
		if err != nil {
			slog.Warn("paraphrase failed, using original text", "error", err)
		} else if len(variants) > 0 {
			carrier = variants[0]
		}
	}

	token, err := e.ResolveOrCreate(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	seq := codec.Encode(token)
	doc := &FingerprintedDocument{
		MarkedText:    mark.Embed(carrier, seq),
		IdentityToken: token,
	}

	rec, err := e.db.StoreFingerprint(ctx, db.StoreFingerprintParams{
		RecipientID:      recipientID,
		IdentityToken:    token,
		SymbolSequence:   seq,
		DocumentText:     text,
		DocumentMetadata: documentMetadata,
		UserID:           userID,
	})
	if err != nil {
		return doc, err
	}
	doc.Record = rec
	return doc, nil
}

// Match is a resolved identification. Via is "store" when a persisted
// record matched and "registry" when the match came from re-encoding a
// known recipient's token.
type Match struct {
	RecipientID   string                `json:"recipient_id"`
	IdentityToken uuid.UUID             `json:"identity_token"`
	Via           string                `json:"via"`
	Record        *db.FingerprintRecord `json:"record,omitempty"`
}

// IdentifyLeakedDocument recovers the owning recipient of leakedText. A
// nil Match with a nil error means unknown: no invisible characters, or
// no stored or recomputed sequence contained in the extraction. Every
// successful identification appends an audit event; a failure to append
// it is returned as the error.
func (e *Engine) IdentifyLeakedDocument(ctx context.Context, leakedText, userID string) (*Match, error) {
	candidate := mark.Extract(leakedText)
	if candidate == "" {
		return nil, nil
	}

	rec, err := e.db.GetByFingerprint(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		m := &Match{
			RecipientID:   rec.RecipientID,
			IdentityToken: rec.IdentityToken,
			Via:           "store",
			Record:        rec,
		}
		if err := e.auditIdentified(ctx, m, userID); err != nil {
			return nil, err
		}
		return m, nil
	}

	// No stored record matched; re-encode every registered token and test
	// containment in the candidate.
	recipients, err := e.db.ListRecipients(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range recipients {
		if strings.Contains(candidate, codec.Encode(r.IdentityToken)) {
			m := &Match{
				RecipientID:   r.RecipientID,
				IdentityToken: r.IdentityToken,
				Via:           "registry",
			}
			if err := e.auditIdentified(ctx, m, userID); err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return nil, nil
}

func (e *Engine) auditIdentified(ctx context.Context, m *Match, userID string) error {
	return e.db.AppendAuditEvent(ctx, db.EventFingerprintIdentified, map[string]any{
		"recipient_id": m.RecipientID,
		"via":          m.Via,
	}, userID)
}

// ListRecipients returns every registered recipient.
func (e *Engine) ListRecipients(ctx context.Context) ([]db.Recipient, error) {
	return e.db.ListRecipients(ctx)
}

// AuditLogs returns the most recent audit entries, optionally filtered by
// event type.
func (e *Engine) AuditLogs(ctx context.Context, limit int, eventType string) ([]db.AuditEntry, error) {
	return e.db.ListAuditEvents(ctx, limit, eventType)
}
