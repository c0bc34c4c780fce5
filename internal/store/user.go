package store

import (
	"database/sql"
	"errors"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
)

// User mirrors the users table (spec.md §3). PrivateKey is non-nil iff Local
// is true.
type User struct {
	ID               string
	Username         string
	Name             sql.NullString
	Summary          sql.NullString
	URL              string
	PublicKey        string
	PrivateKey       sql.NullString
	LastRefreshedAt  string
	Local            bool
	FollowerCount    int
	FollowingCount   int
	CreatedAt        string
	UpdatedAt        sql.NullString
	Following        sql.NullString
	Followers        sql.NullString
	Inbox            string
	APJSON           string
}

const userColumns = `id, username, name, summary, url, public_key, private_key,
	last_refreshed_at, local, follower_count, following_count, created_at,
	updated_at, following, followers, inbox, ap_json`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var local int
	err := row.Scan(
		&u.ID, &u.Username, &u.Name, &u.Summary, &u.URL, &u.PublicKey, &u.PrivateKey,
		&u.LastRefreshedAt, &local, &u.FollowerCount, &u.FollowingCount, &u.CreatedAt,
		&u.UpdatedAt, &u.Following, &u.Followers, &u.Inbox, &u.APJSON,
	)
	if err != nil {
		return nil, err
	}
	u.Local = local != 0
	return &u, nil
}

// InsertUser inserts a new user row. id, last_refreshed_at and created_at
// must already be set by the caller (the identity resolver mints them).
func (s *Store) InsertUser(u *User) error {
	localInt := 0
	if u.Local {
		localInt = 1
	}
	q := `INSERT INTO users (` + userColumns + `) VALUES (` +
		placeholders(s, 17) + `)`
	_, err := s.db.Exec(q,
		u.ID, u.Username, u.Name, u.Summary, u.URL, u.PublicKey, u.PrivateKey,
		u.LastRefreshedAt, localInt, u.FollowerCount, u.FollowingCount, u.CreatedAt,
		u.UpdatedAt, u.Following, u.Followers, u.Inbox, u.APJSON,
	)
	return wrapDBErr("insert user", err)
}

// FindUserByURL looks up a user by its canonical native URL.
// Returns bridgeerr.NotFound (via errors.Is) if absent.
func (s *Store) FindUserByURL(url string) (*User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE url = `+s.ph(1), url)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("find user by url", err)
	}
	return u, nil
}

// FindUserByID looks up a user by its bridge id.
func (s *Store) FindUserByID(id string) (*User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = `+s.ph(1), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("find user by id", err)
	}
	return u, nil
}

// FindLocalUserByUsername looks up a locally-hosted user by username.
func (s *Store) FindLocalUserByUsername(username string) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE username = ` + s.ph(1) + ` AND local = ` + s.ph(2)
	row := s.db.QueryRow(q, username, 1)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("find local user by username", err)
	}
	return u, nil
}

// IncrementFollowerCount adjusts follower_count by delta (may be negative).
func (s *Store) IncrementFollowerCount(userID string, delta int) error {
	q := `UPDATE users SET follower_count = follower_count + ` + s.ph(1) + ` WHERE id = ` + s.ph(2)
	_, err := s.db.Exec(q, delta, userID)
	return wrapDBErr("increment follower count", err)
}

// IncrementFollowingCount adjusts following_count by delta (may be negative).
func (s *Store) IncrementFollowingCount(userID string, delta int) error {
	q := `UPDATE users SET following_count = following_count + ` + s.ph(1) + ` WHERE id = ` + s.ph(2)
	_, err := s.db.Exec(q, delta, userID)
	return wrapDBErr("increment following count", err)
}

func placeholders(s *Store, n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		out += s.ph(i)
	}
	return out
}
