package store

import (
	"database/sql"
	"errors"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
)

// Post mirrors the posts table (spec.md §3).
type Post struct {
	ID          string
	Title       sql.NullString
	Content     string
	Local       bool
	CreatedAt   string
	UpdatedAt   sql.NullString
	ReblogID    sql.NullString
	ContentType string
	Visibility  string
	ReplyID     sql.NullString
	QuotingID   sql.NullString
	Sensitive   bool
	SpoilerText sql.NullString
	Creator     string
	URL         string
	APJSON      string
}

// Visibility values, per spec.md §3's invariant.
const (
	VisibilityPublic    = "public"
	VisibilityUnlisted  = "unlisted"
	VisibilityFollowers = "followers"
	VisibilityDirect    = "direct"
)

const postColumns = `id, title, content, local, created_at, updated_at,
	reblog_id, content_type, visibility, reply_id, quoting_id, sensitive,
	spoiler_text, creator, url, ap_json`

func scanPost(row interface{ Scan(...interface{}) error }) (*Post, error) {
	var p Post
	var local, sensitive int
	err := row.Scan(
		&p.ID, &p.Title, &p.Content, &local, &p.CreatedAt, &p.UpdatedAt,
		&p.ReblogID, &p.ContentType, &p.Visibility, &p.ReplyID, &p.QuotingID,
		&sensitive, &p.SpoilerText, &p.Creator, &p.URL, &p.APJSON,
	)
	if err != nil {
		return nil, err
	}
	p.Local = local != 0
	p.Sensitive = sensitive != 0
	return &p, nil
}

// InsertPost inserts a new post row. Returns bridgeerr.AlreadyFollowing-style
// duplicate detection is not applicable here; a duplicate url is a plain
// DatabaseError, matching spec.md §8's "receiving the same Note twice
// produces exactly one post row (by url uniqueness)" idempotence property —
// callers should check FindPostByURL first and treat a pre-existing row as
// success.
func (s *Store) InsertPost(p *Post) error {
	localInt, sensitiveInt := 0, 0
	if p.Local {
		localInt = 1
	}
	if p.Sensitive {
		sensitiveInt = 1
	}
	q := `INSERT INTO posts (` + postColumns + `) VALUES (` + placeholders(s, 16) + `)`
	_, err := s.db.Exec(q,
		p.ID, p.Title, p.Content, localInt, p.CreatedAt, p.UpdatedAt,
		p.ReblogID, p.ContentType, p.Visibility, p.ReplyID, p.QuotingID,
		sensitiveInt, p.SpoilerText, p.Creator, p.URL, p.APJSON,
	)
	return wrapDBErr("insert post", err)
}

// FindPostByURL looks up a post by its canonical native URL.
func (s *Store) FindPostByURL(url string) (*Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE url = `+s.ph(1), url)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("find post by url", err)
	}
	return p, nil
}

// FindPostByID looks up a post by its bridge id.
func (s *Store) FindPostByID(id string) (*Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE id = `+s.ph(1), id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("find post by id", err)
	}
	return p, nil
}

// RecentLocalPosts returns up to limit posts created by creatorID, most
// recent first, for outbox pagination.
func (s *Store) RecentLocalPosts(creatorID string, limit int) ([]*Post, error) {
	q := `SELECT ` + postColumns + ` FROM posts WHERE creator = ` + s.ph(1) +
		` ORDER BY created_at DESC LIMIT ` + s.ph(2)
	rows, err := s.db.Query(q, creatorID, limit)
	if err != nil {
		return nil, wrapDBErr("recent local posts", err)
	}
	defer rows.Close()
	var out []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, wrapDBErr("scan post", err)
		}
		out = append(out, p)
	}
	return out, wrapDBErr("recent local posts rows", rows.Err())
}
