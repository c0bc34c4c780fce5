// Package followsm implements the Follow lifecycle state machine (spec.md
// §4.6): None → Requested → Accepted → None, with state derived from the
// FollowRelation row's nullable accept columns rather than stored directly.
// Grounded on original_source/src/activities/follow.rs's Follow::receive
// (fully implemented here, per spec.md §9's instruction not to leave it
// commented out) and src/versia/inbox.rs's follow_request duplicate-check.
package followsm

import (
	"errors"
	"net/url"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/store"
)

// Machine wraps a Store with the follow lifecycle transitions.
type Machine struct {
	store  *store.Store
	domain string
}

// New builds a Machine. domain is used to mint this bridge's own Accept
// activity URLs.
func New(s *store.Store, domain string) *Machine {
	return &Machine{store: s, domain: domain}
}

// State returns the derived lifecycle state for a (follower, followee) pair.
func (m *Machine) State(followerID, followeeID string) (store.State, error) {
	f, err := m.store.FindFollow(followerID, followeeID)
	if err != nil {
		if errors.Is(err, bridgeerr.ErrNotFound) {
			return store.StateNone, nil
		}
		return store.StateNone, err
	}
	return f.State(), nil
}

// FollowRequestReceived implements spec.md §4.6's FollowRequestReceived
// transition: ∅ → Requested. remote indicates the request originated from
// the opposite protocol (used to populate FollowRelation.Remote).
func (m *Machine) FollowRequestReceived(follower, followee *store.User, remote bool, apJSON string) (*store.FollowRelation, error) {
	existing, err := m.store.FindFollow(follower.ID, followee.ID)
	if err == nil {
		return existing, m.tieBreak(existing)
	}
	if !errors.Is(err, bridgeerr.ErrNotFound) {
		return nil, err
	}

	row := &store.FollowRelation{
		ID:         ids.NewID(),
		FolloweeID: followee.ID,
		FollowerID: follower.ID,
		Remote:     remote,
		APJSON:     apJSON,
	}
	row.FolloweeHost.String, row.FolloweeHost.Valid = hostOf(followee.URL), true
	row.FollowerHost.String, row.FollowerHost.Valid = hostOf(follower.URL), true
	row.FolloweeInbox.String, row.FolloweeInbox.Valid = followee.Inbox, followee.Inbox != ""
	row.FollowerInbox.String, row.FollowerInbox.Valid = follower.Inbox, follower.Inbox != ""
	row.APID.String, row.APID.Valid = ids.FollowRequestURL(m.domain, row.ID), true

	if err := m.store.InsertFollow(row); err != nil {
		return nil, err
	}
	return row, nil
}

// tieBreak decides the outcome when the (follower, followee) pair already
// has a row: if that row is already Accepted it returns nil and the caller
// gets the existing row; otherwise it returns bridgeerr.ErrAlreadyFollowing.
// No retry of the request is made in either case.
func (m *Machine) tieBreak(existing *store.FollowRelation) error {
	if existing.State() == store.StateAccepted {
		return nil
	}
	return bridgeerr.ErrAlreadyFollowing
}

// FollowAcceptReceived implements spec.md §4.6's FollowAcceptReceived
// transition: Requested → Accepted. row must already be located by the
// caller (e.g. via FindFollowByAPID for an inbound AP Accept, or by
// follower/followee pair for an inbound VP FollowAccept).
func (m *Machine) FollowAcceptReceived(row *store.FollowRelation, apAcceptID, apAcceptJSON string) error {
	if row.State() == store.StateAccepted {
		return nil
	}
	acceptID := ids.FollowAcceptURL(m.domain, row.ID)
	if err := m.store.UpdateFollowAccept(row.ID, apAcceptID, apAcceptJSON, acceptID); err != nil {
		return err
	}
	if err := m.store.IncrementFollowerCount(row.FolloweeID, 1); err != nil {
		return err
	}
	return m.store.IncrementFollowingCount(row.FollowerID, 1)
}

// UnfollowReceived implements spec.md §4.6's Unfollow/FollowReject
// transition back to None. Idempotent: deleting an absent row is a no-op.
// An Accepted row's denormalized follower/following counts are decremented
// to match; a row still only Requested never incremented them, so deleting
// it is count-neutral.
func (m *Machine) UnfollowReceived(followerID, followeeID string) error {
	existing, err := m.store.FindFollow(followerID, followeeID)
	if errors.Is(err, bridgeerr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.store.DeleteFollow(followerID, followeeID); err != nil {
		return err
	}
	if existing.State() != store.StateAccepted {
		return nil
	}
	if err := m.store.IncrementFollowerCount(existing.FolloweeID, -1); err != nil {
		return err
	}
	return m.store.IncrementFollowingCount(existing.FollowerID, -1)
}

// FollowRejectReceived is an alias for UnfollowReceived — both transitions
// return the pair to None (spec.md §4.6).
func (m *Machine) FollowRejectReceived(followerID, followeeID string) error {
	return m.UnfollowReceived(followerID, followeeID)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
