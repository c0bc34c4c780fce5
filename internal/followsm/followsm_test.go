package followsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/store"
)

func newTestMachine(t *testing.T) (*Machine, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return New(s, "bridge.example"), s
}

func seedUsers(t *testing.T, s *store.Store) (a, b *store.User) {
	t.Helper()
	a = &store.User{ID: "a", Username: "a", URL: "https://x/a", PublicKey: "k", Inbox: "https://x/a/inbox", APJSON: "{}"}
	b = &store.User{ID: "b", Username: "b", URL: "https://y/b", PublicKey: "k", Inbox: "https://y/b/inbox", APJSON: "{}"}
	require.NoError(t, s.InsertUser(a))
	require.NoError(t, s.InsertUser(b))
	return a, b
}

func TestFollowRequestThenAcceptTransitions(t *testing.T) {
	m, s := newTestMachine(t)
	a, b := seedUsers(t, s)

	st, err := m.State(a.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, store.StateNone, st)

	row, err := m.FollowRequestReceived(a, b, false, `{"type":"Follow"}`)
	require.NoError(t, err)
	require.Equal(t, store.StateRequested, row.State())

	require.NoError(t, m.FollowAcceptReceived(row, "ap-accept-1", `{"type":"Accept"}`))

	st, err = m.State(a.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, store.StateAccepted, st)

	followee, err := s.FindUserByID(b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, followee.FollowerCount)
	follower, err := s.FindUserByID(a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, follower.FollowingCount)
}

func TestUnfollowAfterAcceptDecrementsCounts(t *testing.T) {
	m, s := newTestMachine(t)
	a, b := seedUsers(t, s)

	row, err := m.FollowRequestReceived(a, b, false, "{}")
	require.NoError(t, err)
	require.NoError(t, m.FollowAcceptReceived(row, "accept-1", "{}"))

	require.NoError(t, m.UnfollowReceived(a.ID, b.ID))

	followee, err := s.FindUserByID(b.ID)
	require.NoError(t, err)
	require.Equal(t, 0, followee.FollowerCount)
	follower, err := s.FindUserByID(a.ID)
	require.NoError(t, err)
	require.Equal(t, 0, follower.FollowingCount)
}

func TestUnfollowBeforeAcceptDoesNotUnderflowCounts(t *testing.T) {
	m, s := newTestMachine(t)
	a, b := seedUsers(t, s)

	_, err := m.FollowRequestReceived(a, b, false, "{}")
	require.NoError(t, err)

	require.NoError(t, m.UnfollowReceived(a.ID, b.ID))

	followee, err := s.FindUserByID(b.ID)
	require.NoError(t, err)
	require.Equal(t, 0, followee.FollowerCount)
}

func TestDuplicateFollowRequestIsAlreadyFollowing(t *testing.T) {
	m, s := newTestMachine(t)
	a, b := seedUsers(t, s)

	_, err := m.FollowRequestReceived(a, b, false, "{}")
	require.NoError(t, err)

	_, err = m.FollowRequestReceived(a, b, false, "{}")
	require.ErrorIs(t, err, bridgeerr.ErrAlreadyFollowing)
}

func TestUnfollowReturnsToNone(t *testing.T) {
	m, s := newTestMachine(t)
	a, b := seedUsers(t, s)

	_, err := m.FollowRequestReceived(a, b, false, "{}")
	require.NoError(t, err)

	require.NoError(t, m.UnfollowReceived(a.ID, b.ID))

	st, err := m.State(a.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, store.StateNone, st)
}

func TestFollowAcceptReceivedIsIdempotent(t *testing.T) {
	m, s := newTestMachine(t)
	a, b := seedUsers(t, s)

	row, err := m.FollowRequestReceived(a, b, false, "{}")
	require.NoError(t, err)
	require.NoError(t, m.FollowAcceptReceived(row, "accept-1", "{}"))

	accepted, err := s.FindFollow(a.ID, b.ID)
	require.NoError(t, err)
	require.NoError(t, m.FollowAcceptReceived(accepted, "accept-2", "{}"))

	still, err := s.FindFollow(a.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, "accept-1", still.APAcceptID.String)
}
