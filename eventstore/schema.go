package eventstore

// Schema contains the complete DDL for the document store. Pass it to
// dbopen.Open via WithSchema, or embed it in your own schema management.
//
// events carries the composite (document_id, seq) primary key required for
// efficient ranged reads; latest_seq on documents is the append-time
// serialization point, updated in the same transaction as the event row.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    document_id    TEXT PRIMARY KEY,
    title          TEXT NOT NULL DEFAULT '',
    format_version INTEGER NOT NULL DEFAULT 1,
    latest_seq     INTEGER NOT NULL DEFAULT -1,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    document_id TEXT NOT NULL REFERENCES documents(document_id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    event_id    TEXT NOT NULL UNIQUE,
    event_type  TEXT NOT NULL,
    payload     BLOB NOT NULL,
    ts          INTEGER NOT NULL,
    user_id     TEXT,
    session_id  TEXT,
    PRIMARY KEY (document_id, seq)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS reverted_ranges (
    document_id TEXT NOT NULL REFERENCES documents(document_id) ON DELETE CASCADE,
    start_seq   INTEGER NOT NULL,
    end_seq     INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (document_id, start_seq)
);

CREATE TABLE IF NOT EXISTS snapshots (
    document_id       TEXT NOT NULL REFERENCES documents(document_id) ON DELETE CASCADE,
    seq               INTEGER NOT NULL,
    blob              BLOB NOT NULL,
    kind              TEXT NOT NULL,
    uncompressed_size INTEGER NOT NULL,
    compressed_size   INTEGER NOT NULL,
    created_at        INTEGER NOT NULL,
    PRIMARY KEY (document_id, seq)
);
`
