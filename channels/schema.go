package channels

import (
	"database/sql"

	"github.com/hazyhaar/hostwatch/dbopen"
)

// Schema defines the channels table that drives the notification fan-out.
// Each row maps a channel name to a transport kind and its configuration.
//
// Kinds:
//   - "telegram": chat-style delivery via the Telegram bot API.
//   - "mail":     store-and-relay delivery via an SMTP relay.
//   - "stdout":   local debug sink.
//
// The config column holds per-channel JSON (token, chat id, relay host…).
// The enabled column shuts a channel down without deleting its config.
//
// Any UPDATE to this table automatically increments PRAGMA data_version,
// which the Router.Watch loop detects to trigger a hot-reload.
const Schema = `
CREATE TABLE IF NOT EXISTS channels (
    name       TEXT PRIMARY KEY,
    kind       TEXT NOT NULL CHECK(kind IN ('telegram','mail','stdout')),
    enabled    INTEGER NOT NULL DEFAULT 1 CHECK(enabled IN (0, 1)),
    config     TEXT DEFAULT '{}',
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

CREATE INDEX IF NOT EXISTS idx_channels_kind ON channels(kind);

CREATE TRIGGER IF NOT EXISTS trg_channels_updated_at
AFTER UPDATE ON channels
FOR EACH ROW
BEGIN
    UPDATE channels SET updated_at = strftime('%s','now') WHERE name = NEW.name;
END;
`

// OpenDB opens the channels database with the hostwatch pragmas. The
// caller must blank-import the SQLite driver:
//
//	import _ "modernc.org/sqlite"
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
}

// Init creates the channels table if it doesn't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
