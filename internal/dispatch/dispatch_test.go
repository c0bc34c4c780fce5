package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/stretchr/testify/require"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/delivery"
	"github.com/versia-pub/activitypub/internal/followsm"
	"github.com/versia-pub/activitypub/internal/keys"
	"github.com/versia-pub/activitypub/internal/resolver"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

func newTestDispatcher(t *testing.T, apDomain, vpDomain string) (*Dispatcher, *store.Store, *resolver.Resolver) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })

	r := resolver.New(s, apDomain, vpDomain, 5*time.Second, time.Hour)
	t.Cleanup(r.Close)
	fm := followsm.New(s, apDomain)
	de := delivery.New(apDomain, 4, 5*time.Second)
	return New(s, r, fm, de, apDomain, vpDomain), s, r
}

func TestHandleVPInboxRejectsUnknownType(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "bridge.example", "vp.example")
	err := d.HandleVPInbox([]byte(`{"type":"Something"}`))
	require.Error(t, err)
	var be *bridgeerr.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, bridgeerr.ParseError, be.Kind)
}

func TestHandleVPInboxMalformedBodyRejected(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "bridge.example", "vp.example")
	err := d.HandleVPInbox([]byte(`not json`))
	require.Error(t, err)
}

func TestHandleVPInboxRecognizedNoOpTypesAccepted(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "bridge.example", "vp.example")
	for _, typ := range []string{"FollowReject", "Unfollow", "Delete", "Patch"} {
		err := d.HandleVPInbox([]byte(`{"type":"` + typ + `"}`))
		require.NoError(t, err)
	}
}

func TestHandleVPNotePersistsAndFansOutToMention(t *testing.T) {
	var fanoutHits int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fanoutHits++
		_, _ = w.Write(nil)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer remote.Close()

	d, s, _ := newTestDispatcher(t, "bridge.example", "vp.example")

	pair, err := keys.Generate()
	require.NoError(t, err)
	author := &store.User{
		ID: "author1", Username: "alice", URL: "https://vp.example/users/alice",
		PublicKey: pair.PublicPEM, Inbox: "https://vp.example/users/alice/inbox",
		APJSON: "{}", Local: true,
	}
	author.PrivateKey.String, author.PrivateKey.Valid = pair.PrivatePEM, true
	require.NoError(t, s.InsertUser(author))

	mentioned := &store.User{
		ID: "mention1", Username: "bob", URL: "https://vp.example/users/bob",
		PublicKey: "pk", Inbox: remote.URL + "/users/bob/inbox", APJSON: "{}",
	}
	require.NoError(t, s.InsertUser(mentioned))

	note := vpmodel.Note{
		Type: "Note", ID: "n1", URI: "https://vp.example/objects/n1",
		Author: author.URL, CreatedAt: "2026-01-01T00:00:00Z",
		Content: vpmodel.SingleText("hello bob"), Group: vpmodel.GroupPublic,
		Mentions: []string{mentioned.URL},
	}
	body, err := json.Marshal(note)
	require.NoError(t, err)

	require.NoError(t, d.handleVPNote(context.Background(), body))

	post, err := s.FindPostByURL(note.URI)
	require.NoError(t, err)
	require.Equal(t, "hello bob", post.Content)
	require.Equal(t, int32(1), fanoutHits)
}

func TestHandleVPNoteIsIdempotent(t *testing.T) {
	d, s, _ := newTestDispatcher(t, "bridge.example", "vp.example")

	author := &store.User{
		ID: "author1", Username: "alice", URL: "https://vp.example/users/alice",
		PublicKey: "pk", Inbox: "https://vp.example/users/alice/inbox", APJSON: "{}",
	}
	author.PrivateKey.String, author.PrivateKey.Valid = "pk", true
	require.NoError(t, s.InsertUser(author))

	note := vpmodel.Note{
		Type: "Note", ID: "n1", URI: "https://vp.example/objects/n1",
		Author: author.URL, CreatedAt: "2026-01-01T00:00:00Z",
		Content: vpmodel.SingleText("hi"), Group: vpmodel.GroupPublic,
	}
	body, err := json.Marshal(note)
	require.NoError(t, err)

	require.NoError(t, d.handleVPNote(context.Background(), body))
	require.NoError(t, d.handleVPNote(context.Background(), body))

	var count int
	rows, err := s.RecentLocalPosts(author.ID, 10)
	require.NoError(t, err)
	count = len(rows)
	require.Equal(t, 1, count)
}

func TestHandleVPFollowInsertsRowAndDeliversAPFollow(t *testing.T) {
	var gotSignature string
	ap := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("Signature")
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ap.Close()

	d, s, _ := newTestDispatcher(t, "bridge.example", "vp.example")

	pair, err := keys.Generate()
	require.NoError(t, err)
	follower := &store.User{
		ID: "follower1", Username: "alice", URL: "https://vp.example/users/alice",
		PublicKey: pair.PublicPEM, Inbox: "https://vp.example/users/alice/inbox", APJSON: "{}",
	}
	follower.PrivateKey.String, follower.PrivateKey.Valid = pair.PrivatePEM, true
	require.NoError(t, s.InsertUser(follower))

	followee := &store.User{
		ID: "followee1", Username: "remote", URL: ap.URL + "/users/remote",
		PublicKey: "pk", Inbox: ap.URL + "/users/remote/inbox", APJSON: "{}",
	}
	require.NoError(t, s.InsertUser(followee))

	f := vpmodel.Follow{
		Type: "Follow", ID: "f1", URI: "https://vp.example/follows/f1",
		Author: follower.URL, CreatedAt: "2026-01-01T00:00:00Z", Followee: followee.URL,
	}
	body, err := json.Marshal(f)
	require.NoError(t, err)

	require.NoError(t, d.handleVPFollow(context.Background(), body))

	row, err := s.FindFollow(follower.ID, followee.ID)
	require.NoError(t, err)
	require.Equal(t, store.StateRequested, row.State())
	require.NotEmpty(t, gotSignature)
}

func TestHandleAPInboxRejectsUnsupportedType(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "bridge.example", "vp.example")

	pair, err := keys.Generate()
	require.NoError(t, err)

	var actorSrv *httptest.Server
	actorSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := apmodel.Actor{
			ID: actorSrv.URL + "/users/remote", Type: "Person", PreferredUsername: "remote",
			Inbox:     actorSrv.URL + "/users/remote/inbox",
			PublicKey: &apmodel.PublicKey{ID: actorSrv.URL + "/users/remote#main-key", Owner: actorSrv.URL + "/users/remote", PublicKeyPem: pair.PublicPEM},
		}
		_ = json.NewEncoder(w).Encode(a)
	}))
	defer actorSrv.Close()

	activity := map[string]interface{}{
		"id": "https://remote.example/activities/1", "type": "Move",
		"actor": actorSrv.URL + "/users/remote", "object": "https://x/y",
	}
	body, err := json.Marshal(activity)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "https://bridge.example/apservice/inbox", bytes.NewReader(body))
	signRequestForTest(t, req, body, pair, actorSrv.URL+"/users/remote#main-key")

	err = d.HandleAPInbox(req, body)
	require.Error(t, err)
	var be *bridgeerr.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, bridgeerr.ParseError, be.Kind)
}

func signRequestForTest(t *testing.T, req *http.Request, body []byte, pair *keys.Pair, keyID string) {
	t.Helper()
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256}, httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"}, httpsig.Signature, 0,
	)
	require.NoError(t, err)
	require.NoError(t, signer.SignRequest(pair.Private, keyID, req, body))
}
