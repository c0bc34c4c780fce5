package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
)

// FollowRelation mirrors the follow_relations table (spec.md §3). State is
// derived, not stored: None (no row) / Requested (AcceptID and
// APAcceptID both null) / Accepted (either populated).
type FollowRelation struct {
	ID            string
	FolloweeID    string
	FollowerID    string
	FolloweeHost  sql.NullString
	FollowerHost  sql.NullString
	FolloweeInbox sql.NullString
	FollowerInbox sql.NullString
	AcceptID      sql.NullString
	APID          sql.NullString
	APAcceptID    sql.NullString
	Remote        bool
	APJSON        string
	APAcceptJSON  sql.NullString
}

// State is the follow relation's derived lifecycle state (spec.md §4.6).
type State int

const (
	StateNone State = iota
	StateRequested
	StateAccepted
)

func (f *FollowRelation) State() State {
	if f == nil {
		return StateNone
	}
	if f.AcceptID.Valid || f.APAcceptID.Valid {
		return StateAccepted
	}
	return StateRequested
}

const followColumns = `id, followee_id, follower_id, followee_host,
	follower_host, followee_inbox, follower_inbox, accept_id, ap_id,
	ap_accept_id, remote, ap_json, ap_accept_json`

func scanFollow(row interface{ Scan(...interface{}) error }) (*FollowRelation, error) {
	var f FollowRelation
	var remote int
	err := row.Scan(
		&f.ID, &f.FolloweeID, &f.FollowerID, &f.FolloweeHost, &f.FollowerHost,
		&f.FolloweeInbox, &f.FollowerInbox, &f.AcceptID, &f.APID,
		&f.APAcceptID, &remote, &f.APJSON, &f.APAcceptJSON,
	)
	if err != nil {
		return nil, err
	}
	f.Remote = remote != 0
	return &f, nil
}

// InsertFollow inserts a new follow_relations row. If the (follower_id,
// followee_id) pair already has a row, the unique constraint fails and
// InsertFollow returns bridgeerr.ErrAlreadyFollowing (spec.md §4.6's
// AlreadyFollowing transition and §8 scenario 5).
func (s *Store) InsertFollow(f *FollowRelation) error {
	remoteInt := 0
	if f.Remote {
		remoteInt = 1
	}
	q := `INSERT INTO follow_relations (` + followColumns + `) VALUES (` + placeholders(s, 13) + `)`
	_, err := s.db.Exec(q,
		f.ID, f.FolloweeID, f.FollowerID, f.FolloweeHost, f.FollowerHost,
		f.FolloweeInbox, f.FollowerInbox, f.AcceptID, f.APID,
		f.APAcceptID, remoteInt, f.APJSON, f.APAcceptJSON,
	)
	if err != nil && isUniqueViolation(err) {
		return bridgeerr.ErrAlreadyFollowing
	}
	return wrapDBErr("insert follow", err)
}

// FindFollow looks up the follow_relations row for a (follower, followee) pair.
func (s *Store) FindFollow(followerID, followeeID string) (*FollowRelation, error) {
	q := `SELECT ` + followColumns + ` FROM follow_relations WHERE follower_id = ` +
		s.ph(1) + ` AND followee_id = ` + s.ph(2)
	row := s.db.QueryRow(q, followerID, followeeID)
	f, err := scanFollow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("find follow", err)
	}
	return f, nil
}

// FindFollowByAPID looks up a follow_relations row by its stored AP Follow
// activity id, used when an Accept/Reject arrives referencing the original
// Follow id.
func (s *Store) FindFollowByAPID(apID string) (*FollowRelation, error) {
	q := `SELECT ` + followColumns + ` FROM follow_relations WHERE ap_id = ` + s.ph(1)
	row := s.db.QueryRow(q, apID)
	f, err := scanFollow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("find follow by ap id", err)
	}
	return f, nil
}

// UpdateFollowAccept sets the accept fields on an existing follow row,
// transitioning it Requested → Accepted (spec.md §4.6).
func (s *Store) UpdateFollowAccept(id string, apAcceptID, apAcceptJSON, acceptID string) error {
	q := `UPDATE follow_relations SET ap_accept_id = ` + s.ph(1) + `, ap_accept_json = ` +
		s.ph(2) + `, accept_id = ` + s.ph(3) + ` WHERE id = ` + s.ph(4)
	_, err := s.db.Exec(q, apAcceptID, apAcceptJSON, acceptID, id)
	return wrapDBErr("update follow accept", err)
}

// DeleteFollow removes a follow_relations row (Unfollow/Reject transitions
// back to None).
func (s *Store) DeleteFollow(followerID, followeeID string) error {
	q := `DELETE FROM follow_relations WHERE follower_id = ` + s.ph(1) + ` AND followee_id = ` + s.ph(2)
	_, err := s.db.Exec(q, followerID, followeeID)
	return wrapDBErr("delete follow", err)
}

// FollowerInboxesOf returns the distinct follower_inbox values for every
// follow_relations row where followee_id = userID (used by the delivery
// engine's fan-out inbox-set computation, spec.md §4.7).
func (s *Store) FollowerInboxesOf(userID string) ([]string, error) {
	q := `SELECT DISTINCT follower_inbox FROM follow_relations WHERE followee_id = ` +
		s.ph(1) + ` AND follower_inbox IS NOT NULL`
	rows, err := s.db.Query(q, userID)
	if err != nil {
		return nil, wrapDBErr("follower inboxes", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, wrapDBErr("scan follower inbox", err)
		}
		out = append(out, inbox)
	}
	return out, wrapDBErr("follower inboxes rows", rows.Err())
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
