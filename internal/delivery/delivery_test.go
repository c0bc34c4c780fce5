package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/versia-pub/activitypub/internal/keys"
)

func TestFanOutAPDeliversToAllInboxes(t *testing.T) {
	var count int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&count, 1)
		require.Equal(t, "application/activity+json", r.Header.Get("Content-Type"))
		require.NotEmpty(t, r.Header.Get("Signature"))
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	pair, err := keys.Generate()
	require.NoError(t, err)

	e := New("bridge.example", 4, 5*time.Second)
	activity := map[string]interface{}{"type": "Follow", "actor": "https://bridge.example/u"}
	e.FanOutAP(context.Background(), activity, "https://bridge.example/u#main-key", pair.Private,
		[]string{srv.URL + "/users/a/inbox", srv.URL + "/users/b/inbox"})

	require.Equal(t, int64(2), atomic.LoadInt64(&count))
}

func TestDeliverVPSetsSignedByHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Signed-By")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := New("bridge.example", 4, 5*time.Second)
	err := e.DeliverVP(context.Background(), srv.URL+"/inbox", map[string]string{"type": "FollowAccept"})
	require.NoError(t, err)
	require.Equal(t, "instance bridge.example", gotHeader)
}

func TestComputeFanOutInboxesDedupes(t *testing.T) {
	out := ComputeFanOutInboxes(
		[]string{"https://a/inbox", "https://b/inbox"},
		[]string{"https://b/inbox", "https://c/inbox"},
	)
	require.ElementsMatch(t, []string{"https://a/inbox", "https://b/inbox", "https://c/inbox"}, out)
}
