package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    name          TEXT NOT NULL,
    email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'contributor' CHECK (role IN ('administrator', 'reviewer', 'contributor')),
    institution   TEXT NOT NULL DEFAULT '',
    points        INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS items (
    id               INTEGER PRIMARY KEY,
    title            TEXT NOT NULL,
    author           TEXT NOT NULL,
    isbn             TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL,
    condition        TEXT NOT NULL CHECK (condition IN ('excellent', 'good', 'fair', 'poor')),
    reference_price  INTEGER NOT NULL CHECK (reference_price > 0),
    redemption_price INTEGER CHECK (redemption_price >= 0),
    description      TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected', 'redeemed')),
    donor_id         INTEGER NOT NULL REFERENCES users(id),
    reviewer_id      INTEGER REFERENCES users(id),
    redeemer_id      INTEGER REFERENCES users(id),
    reviewed_at      DATETIME,
    redeemed_at      DATETIME,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (redeemer_id IS NULL OR status = 'redeemed'),
    CHECK (status NOT IN ('approved', 'redeemed') OR redemption_price IS NOT NULL)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_isbn
    ON items(isbn) WHERE isbn <> '';
CREATE INDEX IF NOT EXISTS idx_items_status_created
    ON items(status, created_at);
CREATE INDEX IF NOT EXISTS idx_items_donor
    ON items(donor_id);

CREATE TABLE IF NOT EXISTS item_images (
    item_id  INTEGER NOT NULL REFERENCES items(id),
    position INTEGER NOT NULL CHECK (position >= 0),
    url      TEXT NOT NULL DEFAULT '',
    data     BLOB,
    mime     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (item_id, position),
    CHECK (url <> '' OR data IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id          INTEGER PRIMARY KEY,
    reference   TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL CHECK (kind IN ('award', 'debit')),
    user_id     INTEGER NOT NULL REFERENCES users(id),
    item_id     INTEGER NOT NULL REFERENCES items(id),
    amount      INTEGER NOT NULL CHECK (amount > 0),
    status      TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
    description TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- One completed award and one completed debit per item, ever.
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_item_kind_completed
    ON ledger_entries(item_id, kind) WHERE status = 'completed';
CREATE INDEX IF NOT EXISTS idx_ledger_user
    ON ledger_entries(user_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
    id         INTEGER PRIMARY KEY,
    user_id    INTEGER NOT NULL REFERENCES users(id),
    title      TEXT NOT NULL,
    message    TEXT NOT NULL,
    category   TEXT NOT NULL,
    read       INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_user
    ON notifications(user_id, read);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expiry ON revoked_tokens(expires_at);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
