package db

const schema = `
CREATE TABLE IF NOT EXISTS recipients (
    id             TEXT PRIMARY KEY,
    recipient_id   TEXT UNIQUE NOT NULL,
    identity_token TEXT NOT NULL,
    created_at     DATETIME DEFAULT (datetime('now')),
    metadata       TEXT DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_recipients_token ON recipients(identity_token);

CREATE TABLE IF NOT EXISTS documents (
    document_hash TEXT PRIMARY KEY,
    original_text TEXT NOT NULL,
    created_at    DATETIME DEFAULT (datetime('now')),
    metadata      TEXT DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS fingerprints (
    id                TEXT PRIMARY KEY,
    recipient_id      TEXT NOT NULL REFERENCES recipients(recipient_id),
    identity_token    TEXT NOT NULL,
    symbol_sequence   TEXT NOT NULL,
    sequence_hash     TEXT NOT NULL,
    created_at        DATETIME DEFAULT (datetime('now')),
    document_hash     TEXT REFERENCES documents(document_hash),
    document_metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_recipient ON fingerprints(recipient_id);
CREATE INDEX IF NOT EXISTS idx_fingerprints_seqhash ON fingerprints(sequence_hash);
CREATE INDEX IF NOT EXISTS idx_fingerprints_created ON fingerprints(created_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    event_data TEXT NOT NULL,
    timestamp  DATETIME DEFAULT (datetime('now')),
    user_id    TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_log_type ON audit_log(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(timestamp);

CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    handle        TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT DEFAULT 'viewer' CHECK(role IN ('admin','user','viewer')),
    created_at    DATETIME DEFAULT (datetime('now'))
);
`
