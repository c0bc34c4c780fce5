package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/versia-pub/activitypub/internal/config"
	"github.com/versia-pub/activitypub/internal/delivery"
	"github.com/versia-pub/activitypub/internal/dispatch"
	"github.com/versia-pub/activitypub/internal/followsm"
	"github.com/versia-pub/activitypub/internal/keys"
	"github.com/versia-pub/activitypub/internal/resolver"
	"github.com/versia-pub/activitypub/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		Listen:             "127.0.0.1:0",
		APIDomain:          "bridge.example",
		VPDomain:           "vp.example",
		FederatedDomain:    "bridge.example",
		LocalUsername:      "apservice",
		MaxConcurrentInbox: 50,
		MaxPerOriginInbox:  5,
		FetchTimeout:       5 * time.Second,
		ResolveCacheTTL:    time.Hour,
		ShutdownTimeout:    5 * time.Second,
	}

	r := resolver.New(s, cfg.APIDomain, cfg.VPDomain, cfg.FetchTimeout, cfg.ResolveCacheTTL)
	t.Cleanup(r.Close)
	fm := followsm.New(s, cfg.APIDomain)
	de := delivery.New(cfg.APIDomain, 4, cfg.FetchTimeout)
	d := dispatch.New(s, r, fm, de, cfg.APIDomain, cfg.VPDomain)

	return New(cfg, s, r, d), s
}

func seedLocalUser(t *testing.T, s *store.Store, username string) *store.User {
	t.Helper()
	pair, err := keys.Generate()
	require.NoError(t, err)
	u := &store.User{
		ID:        "localuser1",
		Username:  username,
		URL:       "https://bridge.example/apbridge/user/localuser1",
		PublicKey: pair.PublicPEM,
		Inbox:     "https://bridge.example/" + username + "/inbox",
		APJSON:    "{}",
		Local:     true,
		CreatedAt: "2026-01-01T00:00:00Z",
	}
	u.PrivateKey.String, u.PrivateKey.Valid = pair.PrivatePEM, true
	require.NoError(t, s.InsertUser(u))
	return u
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body["health"])
}

func TestHandleAPActorServesLocalUser(t *testing.T) {
	srv, s := newTestServer(t)
	seedLocalUser(t, s, "apservice")

	req := httptest.NewRequest(http.MethodGet, "/apservice", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var actor map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actor))
	require.Equal(t, "Person", actor["type"])
	require.Equal(t, "apservice", actor["preferredUsername"])
}

func TestHandleAPActorUnknownUsernameNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nobody", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleWebFingerResolvesLocalUser(t *testing.T) {
	srv, s := newTestServer(t)
	seedLocalUser(t, s, "apservice")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:apservice@bridge.example", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var jrd map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jrd))
	require.Equal(t, "acct:apservice@bridge.example", jrd["subject"])
}

func TestHandleWebFingerMalformedResourceIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=not-an-acct", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleVPInboxAcceptsRecognizedEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(`{"type":"Unfollow","id":"u1","author":"https://vp.example/users/alice","created_at":"2026-01-01T00:00:00Z","followee":"https://bridge.example/apbridge/user/x"}`)
	req := httptest.NewRequest(http.MethodPost, "/apbridge/versia/inbox", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestHandleVPInboxRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(`{"type":"NotARealType"}`)
	req := httptest.NewRequest(http.MethodPost, "/apbridge/versia/inbox", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAPObjectNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/apbridge/object/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
