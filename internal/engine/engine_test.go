package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/whisperprint/internal/codec"
	"github.com/hazyhaar/whisperprint/internal/db"
	"github.com/hazyhaar/whisperprint/internal/mark"
)

func testEngine(t *testing.T, opts ...Option) (*Engine, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database, opts...), database
}

const sampleDoc = "The merger closes next quarter. Legal review is complete. Do not distribute.\nBoard approval is expected by Friday."

func TestFingerprintAndIdentify(t *testing.T) {
	eng, database := testEngine(t)
	ctx := context.Background()

	doc, err := eng.CreateFingerprintedDocument(ctx, sampleDoc, "alice@example.com", "", "op1")
	if err != nil {
		t.Fatalf("CreateFingerprintedDocument: %v", err)
	}
	if doc.Record == nil {
		t.Fatal("record not persisted")
	}
	if mark.Strip(doc.MarkedText) != sampleDoc {
		t.Error("marked text does not strip back to the original")
	}
	if doc.MarkedText == sampleDoc {
		t.Error("marked text carries no mark")
	}

	match, err := eng.IdentifyLeakedDocument(ctx, doc.MarkedText, "op1")
	if err != nil {
		t.Fatalf("IdentifyLeakedDocument: %v", err)
	}
	if match == nil {
		t.Fatal("fingerprinted copy not identified")
	}
	if match.RecipientID != "alice@example.com" {
		t.Errorf("recipient = %s, want alice@example.com", match.RecipientID)
	}
	if match.Via != "store" {
		t.Errorf("via = %s, want store", match.Via)
	}
	if match.IdentityToken != doc.IdentityToken {
		t.Error("matched token differs from the issued one")
	}

	entries, err := database.ListAuditEvents(ctx, 10, db.EventFingerprintIdentified)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("fingerprint_identified events = %d, want 1", len(entries))
	}
}

func TestIdentifyDistinguishesRecipients(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	aliceDoc, err := eng.CreateFingerprintedDocument(ctx, sampleDoc, "alice@example.com", "", "")
	if err != nil {
		t.Fatalf("fingerprinting for alice: %v", err)
	}
	bobDoc, err := eng.CreateFingerprintedDocument(ctx, sampleDoc, "bob@example.com", "", "")
	if err != nil {
		t.Fatalf("fingerprinting for bob: %v", err)
	}

	match, err := eng.IdentifyLeakedDocument(ctx, bobDoc.MarkedText, "")
	if err != nil {
		t.Fatalf("IdentifyLeakedDocument: %v", err)
	}
	if match == nil || match.RecipientID != "bob@example.com" {
		t.Fatal("bob's copy not attributed to bob")
	}

	match, err = eng.IdentifyLeakedDocument(ctx, aliceDoc.MarkedText, "")
	if err != nil {
		t.Fatalf("IdentifyLeakedDocument: %v", err)
	}
	if match == nil || match.RecipientID != "alice@example.com" {
		t.Fatal("alice's copy not attributed to alice")
	}
}

func TestIdentifyCleanText(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateFingerprintedDocument(ctx, sampleDoc, "alice@example.com", "", ""); err != nil {
		t.Fatalf("CreateFingerprintedDocument: %v", err)
	}

	match, err := eng.IdentifyLeakedDocument(ctx, "An unrelated clean document. Nothing hidden.", "")
	if err != nil {
		t.Fatalf("IdentifyLeakedDocument: %v", err)
	}
	if match != nil {
		t.Errorf("clean text identified as %s, want no match", match.RecipientID)
	}
}

func TestIdentifyRegistryFallback(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	// Recipient known to the registry but with no stored record, as after
	// a persistence failure on the fingerprinting call.
	token, err := eng.ResolveOrCreate(ctx, "eve@example.com")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}

	leaked := mark.Embed("Reconstructed copy. Same hidden token.", codec.Encode(token))
	match, err := eng.IdentifyLeakedDocument(ctx, leaked, "")
	if err != nil {
		t.Fatalf("IdentifyLeakedDocument: %v", err)
	}
	if match == nil {
		t.Fatal("registry fallback found no match")
	}
	if match.Via != "registry" {
		t.Errorf("via = %s, want registry", match.Via)
	}
	if match.RecipientID != "eve@example.com" {
		t.Errorf("recipient = %s, want eve@example.com", match.RecipientID)
	}
}

func TestStorageFailureStillReturnsMarkedText(t *testing.T) {
	eng, database := testEngine(t)
	ctx := context.Background()

	// Recipient resolved up front so a later persistence failure is the
	// only thing that can go wrong.
	token, err := eng.ResolveOrCreate(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}

	if _, err := database.ExecContext(ctx, `DROP TABLE audit_log`); err != nil {
		t.Fatalf("dropping audit_log: %v", err)
	}

	doc, err := eng.CreateFingerprintedDocument(ctx, sampleDoc, "alice@example.com", "", "")
	if err == nil {
		t.Fatal("expected a storage error")
	}
	if !errors.Is(err, db.ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
	if doc == nil {
		t.Fatal("marked document dropped on storage failure")
	}
	if doc.Record != nil {
		t.Error("record reported despite the failed persistence")
	}
	if doc.IdentityToken != token {
		t.Error("returned token differs from the resolved one")
	}
	if mark.Strip(doc.MarkedText) != sampleDoc {
		t.Error("marked text does not strip back to the original")
	}
	if doc.MarkedText == sampleDoc {
		t.Error("marked text carries no mark")
	}
}

func TestTokenStableAcrossDocuments(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	first, err := eng.CreateFingerprintedDocument(ctx, "Document one. Short.", "carol@example.com", "", "")
	if err != nil {
		t.Fatalf("first document: %v", err)
	}
	second, err := eng.CreateFingerprintedDocument(ctx, "Document two. Different carrier.", "carol@example.com", "", "")
	if err != nil {
		t.Fatalf("second document: %v", err)
	}
	if first.IdentityToken != second.IdentityToken {
		t.Error("recipient token changed between documents")
	}
}

type fakeParaphraser struct {
	variants []string
	err      error
	calls    int
}

func (f *fakeParaphraser) Paraphrase(ctx context.Context, text string, n int) ([]string, error) {
	f.calls++
	return f.variants, f.err
}

func TestParaphraserCarrier(t *testing.T) {
	fake := &fakeParaphraser{variants: []string{"A rewritten carrier. Same meaning.", "Another take."}}
	eng, _ := testEngine(t, WithParaphraser(fake))

	doc, err := eng.CreateFingerprintedDocument(context.Background(), sampleDoc, "alice@example.com", "", "")
	if err != nil {
		t.Fatalf("CreateFingerprintedDocument: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("paraphraser calls = %d, want 1", fake.calls)
	}
	if got := mark.Strip(doc.MarkedText); got != fake.variants[0] {
		t.Errorf("carrier = %q, want the first paraphrase variant", got)
	}
}

func TestParaphraserFailureFallsBack(t *testing.T) {
	fake := &fakeParaphraser{err: errors.New("provider down")}
	eng, _ := testEngine(t, WithParaphraser(fake))

	doc, err := eng.CreateFingerprintedDocument(context.Background(), sampleDoc, "alice@example.com", "", "")
	if err != nil {
		t.Fatalf("CreateFingerprintedDocument: %v", err)
	}
	if got := mark.Strip(doc.MarkedText); got != sampleDoc {
		t.Errorf("carrier = %q, want the original text on paraphrase failure", got)
	}
}
