package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/store"
)

func newTestResolver(t *testing.T, apDomain, vpDomain string) (*Resolver, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })

	r := New(s, apDomain, vpDomain, 5*time.Second, time.Hour)
	t.Cleanup(r.Close)
	return r, s
}

func TestResolveMaterializesRemoteAPActor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		actor := apmodel.Actor{
			ID: "http://" + req.Host + "/users/remote", Type: "Person",
			PreferredUsername: "remote", Inbox: "http://" + req.Host + "/users/remote/inbox",
			PublicKey: &apmodel.PublicKey{ID: "k", Owner: "o", PublicKeyPem: "pem"},
		}
		_ = json.NewEncoder(w).Encode(actor)
	}))
	defer srv.Close()

	r, s := newTestResolver(t, "bridge.example", "vp.example")
	url := srv.URL + "/users/remote"

	u, err := r.Resolve(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, "remote", u.Username)
	require.True(t, u.Local)
	require.True(t, u.PrivateKey.Valid)

	again, err := s.FindUserByURL(url)
	require.NoError(t, err)
	require.Equal(t, u.ID, again.ID)
}

func TestResolveCachesResult(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		actor := apmodel.Actor{
			ID: "http://" + req.Host + "/users/remote", Type: "Person",
			PreferredUsername: "remote", Inbox: "http://" + req.Host + "/users/remote/inbox",
			PublicKey: &apmodel.PublicKey{ID: "k", Owner: "o", PublicKeyPem: "pem"},
		}
		_ = json.NewEncoder(w).Encode(actor)
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, "bridge.example", "vp.example")
	url := srv.URL + "/users/remote"

	_, err := r.Resolve(context.Background(), url)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, 1, hits)
}
