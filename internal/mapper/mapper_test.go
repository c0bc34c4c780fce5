package mapper

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

func TestVisibilityToGroup(t *testing.T) {
	require.Equal(t, vpmodel.GroupPublic, VisibilityToGroup(
		apmodel.StringOrArray{apmodel.PublicURI}, nil))

	require.Equal(t, vpmodel.GroupUnlisted, VisibilityToGroup(
		apmodel.StringOrArray{"https://x/followers"},
		apmodel.StringOrArray{apmodel.PublicURI}))

	require.Equal(t, vpmodel.GroupFollowers, VisibilityToGroup(
		apmodel.StringOrArray{"https://x/followers"}, nil))

	require.Equal(t, "direct", VisibilityToGroup(
		apmodel.StringOrArray{"https://x/users/bob"}, nil))
}

func TestGroupToAPAddressingRoundTrips(t *testing.T) {
	to, cc := GroupToAPAddressing(vpmodel.GroupPublic, "https://x/followers", nil)
	require.Contains(t, to, apmodel.PublicURI)
	require.Contains(t, to, "https://x/followers")
	require.Empty(t, cc)

	group := VisibilityToGroup(apmodel.StringOrArray(to), apmodel.StringOrArray(cc))
	require.Equal(t, vpmodel.GroupPublic, group)
}

func TestStoreVisibilityToGroupDefaultsToPublic(t *testing.T) {
	require.Equal(t, vpmodel.GroupPublic, StoreVisibilityToGroup(""))
	require.Equal(t, vpmodel.GroupPublic, StoreVisibilityToGroup("nonsense"))
	require.Equal(t, vpmodel.GroupFollowers, StoreVisibilityToGroup(store.VisibilityFollowers))
}

func TestActorToVPAndBackPreservesCoreFields(t *testing.T) {
	u := &store.User{
		ID: "u1", Username: "alice", URL: "https://ap.example/users/alice",
		PublicKey: "pub-pem", CreatedAt: "2026-01-01T00:00:00Z",
		Inbox: "https://ap.example/users/alice/inbox",
		Name:  sql.NullString{String: "Alice", Valid: true},
		Summary: sql.NullString{String: "hi", Valid: true},
	}

	vu, err := ActorToVP("vp.example", u)
	require.NoError(t, err)
	require.Equal(t, "alice", vu.Username)
	require.Equal(t, "Alice", vu.DisplayName)
	_, body, ok := vu.Bio.RichestText()
	require.True(t, ok)
	require.Equal(t, "hi", body)

	back, err := ActorFromVP("vp.example", vu, "", "pub-pem")
	require.NoError(t, err)
	require.Equal(t, u.Username, back.Username)
	require.Equal(t, u.URL, back.URL)
	require.False(t, back.PrivateKey.Valid)
}

func TestActorToAPIncludesPublicKey(t *testing.T) {
	u := &store.User{
		ID: "u1", Username: "alice", URL: "https://ap.example/users/alice",
		PublicKey: "pub-pem", CreatedAt: "2026-01-01T00:00:00Z",
		Inbox: "https://ap.example/users/alice/inbox",
	}
	a, err := ActorToAP("ap.example", u)
	require.NoError(t, err)
	require.Equal(t, "Person", a.Type)
	require.NotNil(t, a.PublicKey)
	require.Equal(t, "pub-pem", a.PublicKey.PublicKeyPem)
}

func TestNoteToVPWrapsContentAsHTML(t *testing.T) {
	creator := &store.User{ID: "u1", URL: "https://ap.example/users/alice"}
	p := &store.Post{
		ID: "p1", Content: "<p>hi</p>", CreatedAt: "2026-01-01T00:00:00Z",
		Visibility: store.VisibilityPublic,
	}
	lookup := func(string) (*store.User, error) { return nil, bridgeerr.ErrNotFound }

	n, err := NoteToVP("ap.example", p, creator, lookup, nil, "vp.example")
	require.NoError(t, err)
	require.Equal(t, vpmodel.GroupPublic, n.Group)
	_, body, ok := n.Content.RichestText()
	require.True(t, ok)
	require.Equal(t, "<p>hi</p>", body)
	require.Equal(t, "hi", n.Content["text/plain"].Content)
}

func TestNoteFromVPResolvesReply(t *testing.T) {
	author := &store.User{ID: "u1", URL: "https://vp.example/users/bob"}
	reply := &store.Post{ID: "r1"}
	resolvePost := func(url string) (*store.Post, error) {
		if url == "https://vp.example/objects/r1" {
			return reply, nil
		}
		return nil, bridgeerr.ErrNotFound
	}

	n := &vpmodel.Note{
		Type: "Note", ID: "n1", URI: "https://vp.example/objects/n1",
		Author: author.URL, CreatedAt: "2026-01-01T00:00:00Z",
		Content:   vpmodel.SingleText("hello"),
		Group:     vpmodel.GroupPublic,
		RepliesTo: "https://vp.example/objects/r1",
	}

	p, err := NoteFromVP("ap.example", n, author, resolvePost)
	require.NoError(t, err)
	require.Equal(t, "hello", p.Content)
	require.True(t, p.ReplyID.Valid)
	require.Equal(t, "r1", p.ReplyID.String)
	require.Equal(t, store.VisibilityPublic, p.Visibility)
	require.NotEmpty(t, p.APJSON)
}
