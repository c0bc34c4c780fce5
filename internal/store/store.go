// Package store implements the typed CRUD schema + store adapter (spec.md
// §4.2) over a dual SQLite/PostgreSQL *sql.DB, generalized from the
// teacher's internal/db/db.go driver-detection and migration idioms onto
// the User/Post/FollowRelation schema grounded on original_source's
// migrations.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
)

// Store wraps a database connection and provides all data access methods
// for the three persistent entities in spec.md §3.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a database connection. The URL can be a bare file path or
// "sqlite://..." for SQLite, or "postgres://..."/"postgresql://..." for
// PostgreSQL.
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		// WAL mode allows multiple concurrent readers alongside one writer.
		// A small connection pool lets read-heavy operations (resolver
		// lookups, follower queries) proceed in parallel instead of queuing
		// behind every write. SQLite serializes writers itself;
		// busy_timeout makes that serialization graceful rather than
		// immediately returning SQLITE_BUSY to the caller.
		//
		// For deployments receiving many concurrent inbox activities,
		// switch to PostgreSQL (DATABASE_URL=postgres://...) — SQLite's
		// single-writer architecture is a hard ceiling no tuning removes.
		const sqliteMaxConns = 4
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
		slog.Info("sqlite database opened", "max_conns", sqliteMaxConns)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")
	for _, m := range commonMigrations {
		if _, err := s.db.Exec(m); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

// commonMigrations lists DDL statements shared between SQLite and
// PostgreSQL, grounded on original_source's three migration files.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                 TEXT PRIMARY KEY,
		username           TEXT NOT NULL,
		name               TEXT,
		summary            TEXT,
		url                TEXT NOT NULL UNIQUE,
		public_key         TEXT NOT NULL,
		private_key        TEXT,
		last_refreshed_at  TEXT NOT NULL,
		local              INTEGER NOT NULL,
		follower_count     INTEGER NOT NULL DEFAULT 0,
		following_count    INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		updated_at         TEXT,
		following          TEXT,
		followers          TEXT,
		inbox              TEXT NOT NULL,
		ap_json            TEXT NOT NULL,
		UNIQUE(username, local)
	)`,
	`CREATE INDEX IF NOT EXISTS users_username ON users(username)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id             TEXT PRIMARY KEY,
		title          TEXT,
		content        TEXT NOT NULL,
		local          INTEGER NOT NULL,
		created_at     TEXT NOT NULL,
		updated_at     TEXT,
		reblog_id      TEXT REFERENCES posts(id) ON DELETE CASCADE,
		content_type   TEXT NOT NULL,
		visibility     TEXT NOT NULL,
		reply_id       TEXT REFERENCES posts(id) ON DELETE CASCADE,
		quoting_id     TEXT REFERENCES posts(id) ON DELETE CASCADE,
		sensitive      INTEGER NOT NULL DEFAULT 0,
		spoiler_text   TEXT,
		creator        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url            TEXT NOT NULL UNIQUE,
		ap_json        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS posts_creator ON posts(creator)`,
	`CREATE TABLE IF NOT EXISTS follow_relations (
		id               TEXT PRIMARY KEY,
		followee_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		follower_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		followee_host    TEXT,
		follower_host    TEXT,
		followee_inbox   TEXT,
		follower_inbox   TEXT,
		accept_id        TEXT,
		ap_id            TEXT,
		ap_accept_id     TEXT,
		remote           INTEGER NOT NULL,
		ap_json          TEXT NOT NULL,
		ap_accept_json   TEXT,
		UNIQUE(follower_id, followee_id)
	)`,
	`CREATE INDEX IF NOT EXISTS follow_relations_followee ON follow_relations(followee_id)`,
	`CREATE INDEX IF NOT EXISTS follow_relations_follower ON follow_relations(follower_id)`,
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

// ph returns the SQL placeholder token for the n-th argument (1-indexed).
// SQLite uses ? for every position; PostgreSQL uses $1, $2, ...
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// wrapDBErr converts a raw sql error into a bridgeerr.DatabaseError, except
// sql.ErrNoRows which callers translate to bridgeerr.NotFound themselves.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return bridgeerr.New(bridgeerr.DatabaseError, op, err)
}
