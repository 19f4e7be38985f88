package db

import "context"

// Stats are the store-wide totals surfaced by the dashboard API.
type Stats struct {
	Recipients   int `json:"recipients"`
	Fingerprints int `json:"fingerprints"`
	Documents    int `json:"documents"`
	AuditEvents  int `json:"audit_events"`
}

func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM recipients),
			(SELECT COUNT(*) FROM fingerprints),
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM audit_log)`).
		Scan(&s.Recipients, &s.Fingerprints, &s.Documents, &s.AuditEvents)
	if err != nil {
		return nil, storageErr("reading stats", err)
	}
	return s, nil
}
