package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserInsertAndFind(t *testing.T) {
	s := newTestStore(t)

	u := &User{
		ID: "u1", Username: "alice", URL: "https://ap.example/users/alice",
		PublicKey: "pub-pem", LastRefreshedAt: now(), Local: true,
		PrivateKey: sql.NullString{String: "priv-pem", Valid: true},
		CreatedAt:  now(), Inbox: "https://ap.example/users/alice/inbox",
		APJSON: `{"type":"Person"}`,
	}
	require.NoError(t, s.InsertUser(u))

	got, err := s.FindUserByURL(u.URL)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.True(t, got.Local)
	require.True(t, got.PrivateKey.Valid)

	_, err = s.FindUserByURL("https://nope.example/missing")
	require.ErrorIs(t, err, bridgeerr.ErrNotFound)
}

func TestUserUniqueURL(t *testing.T) {
	s := newTestStore(t)
	u := &User{
		ID: "u1", Username: "alice", URL: "https://ap.example/users/alice",
		PublicKey: "pub-pem", LastRefreshedAt: now(), CreatedAt: now(),
		Inbox: "https://ap.example/users/alice/inbox", APJSON: `{}`,
	}
	require.NoError(t, s.InsertUser(u))

	dup := *u
	dup.ID = "u2"
	err := s.InsertUser(&dup)
	require.Error(t, err)
}

func TestPostInsertAndFind(t *testing.T) {
	s := newTestStore(t)
	u := &User{
		ID: "u1", Username: "alice", URL: "https://ap.example/users/alice",
		PublicKey: "pub-pem", LastRefreshedAt: now(), CreatedAt: now(),
		Inbox: "https://ap.example/users/alice/inbox", APJSON: `{}`,
	}
	require.NoError(t, s.InsertUser(u))

	p := &Post{
		ID: "p1", Content: "hello", CreatedAt: now(), ContentType: "text/html",
		Visibility: VisibilityPublic, Creator: u.ID, URL: "https://ap.example/notes/1",
		APJSON: `{"type":"Note"}`,
	}
	require.NoError(t, s.InsertPost(p))

	got, err := s.FindPostByURL(p.URL)
	require.NoError(t, err)
	require.Equal(t, VisibilityPublic, got.Visibility)
}

func TestFollowLifecycle(t *testing.T) {
	s := newTestStore(t)
	a := &User{ID: "a", Username: "a", URL: "https://x/a", PublicKey: "k", LastRefreshedAt: now(), CreatedAt: now(), Inbox: "https://x/a/inbox", APJSON: "{}"}
	b := &User{ID: "b", Username: "b", URL: "https://x/b", PublicKey: "k", LastRefreshedAt: now(), CreatedAt: now(), Inbox: "https://x/b/inbox", APJSON: "{}"}
	require.NoError(t, s.InsertUser(a))
	require.NoError(t, s.InsertUser(b))

	f := &FollowRelation{ID: "f1", FolloweeID: b.ID, FollowerID: a.ID, APJSON: "{}"}
	require.NoError(t, s.InsertFollow(f))

	got, err := s.FindFollow(a.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, StateRequested, got.State())

	// Duplicate follow must fail with AlreadyFollowing.
	dup := &FollowRelation{ID: "f2", FolloweeID: b.ID, FollowerID: a.ID, APJSON: "{}"}
	err = s.InsertFollow(dup)
	require.ErrorIs(t, err, bridgeerr.ErrAlreadyFollowing)

	require.NoError(t, s.UpdateFollowAccept(f.ID, "ap-accept-1", "{}", "accept-1"))
	got, err = s.FindFollow(a.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, StateAccepted, got.State())

	require.NoError(t, s.DeleteFollow(a.ID, b.ID))
	_, err = s.FindFollow(a.ID, b.ID)
	require.ErrorIs(t, err, bridgeerr.ErrNotFound)
}
