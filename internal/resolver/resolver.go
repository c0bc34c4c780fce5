// Package resolver implements the identity resolver (spec.md §4.4):
// resolve a native actor URL to a local store row, fetching and
// materializing a bridge-owned counterpart on miss. Grounded on the
// teacher's internal/ap/client.go fetch-then-cache pattern
// (sync.Map + TTL sweeper goroutine), generalized to two protocol sides.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/keys"
	"github.com/versia-pub/activitypub/internal/mapper"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

const userAgent = "versia-activitypub-bridge/1.0"

type cacheEntry struct {
	row     *store.User
	expires time.Time
}

// Resolver implements spec.md §4.4's resolve-by-URL-or-fetch-and-materialize
// identity resolution for both AP actors and VP users.
type Resolver struct {
	store      *store.Store
	httpClient *http.Client
	apDomain   string
	vpDomain   string
	ttl        time.Duration

	cache sync.Map // url -> cacheEntry

	stopSweep chan struct{}
}

// New builds a Resolver and starts its cache-sweeper goroutine.
func New(s *store.Store, apDomain, vpDomain string, fetchTimeout, ttl time.Duration) *Resolver {
	r := &Resolver{
		store:      s,
		httpClient: &http.Client{Timeout: fetchTimeout},
		apDomain:   apDomain,
		vpDomain:   vpDomain,
		ttl:        ttl,
		stopSweep:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the background cache sweeper.
func (r *Resolver) Close() {
	close(r.stopSweep)
}

func (r *Resolver) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			r.cache.Range(func(k, v any) bool {
				if now.After(v.(cacheEntry).expires) {
					r.cache.Delete(k)
				}
				return true
			})
		case <-r.stopSweep:
			return
		}
	}
}

// Resolve implements spec.md §4.4 steps 1–4 for an arbitrary native URL.
// On a miss it compares the URL's host against VPDomain only: a VPDomain
// URL is fetched as a VP User, and every other host, APIDomain included, is
// fetched as an AP Actor.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*store.User, error) {
	if cached, ok := r.cache.Load(rawURL); ok {
		entry := cached.(cacheEntry)
		if time.Now().Before(entry.expires) {
			return entry.row, nil
		}
		r.cache.Delete(rawURL)
	}

	if u, err := r.store.FindUserByURL(rawURL); err == nil {
		r.cache.Store(rawURL, cacheEntry{row: u, expires: time.Now().Add(r.ttl)})
		return u, nil
	} else if !errors.Is(err, bridgeerr.ErrNotFound) {
		return nil, bridgeerr.New(bridgeerr.DatabaseError, "lookup user by url", err)
	}

	host := hostOf(rawURL)
	var row *store.User
	var err error
	switch host {
	case r.vpDomain:
		row, err = r.materializeFromVP(ctx, rawURL)
	default:
		// Anything not on our own VP domain is treated as AP-native,
		// including genuinely third-party AP origins.
		row, err = r.materializeFromAP(ctx, rawURL)
	}
	if err != nil {
		return nil, err
	}

	r.cache.Store(rawURL, cacheEntry{row: row, expires: time.Now().Add(r.ttl)})
	return row, nil
}

// materializeFromVP fetches a remote VP User document and persists a
// bridge-owned AP-side counterpart row for it.
func (r *Resolver) materializeFromVP(ctx context.Context, rawURL string) (*store.User, error) {
	var vu vpmodel.User
	if err := r.fetchJSON(ctx, rawURL, "application/json", &vu); err != nil {
		return nil, bridgeerr.New(bridgeerr.ResolveFailed, "fetch vp user "+rawURL, err)
	}

	pair, err := keys.Generate()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.Internal, "mint bridge keypair", err)
	}

	row, err := mapper.ActorFromVP(r.apDomain, &vu, pair.PrivatePEM, pair.PublicPEM)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.ResolveFailed, "map vp user "+rawURL, err)
	}
	return r.persistMaterialized(row)
}

// materializeFromAP fetches a remote AP Actor document and persists a
// bridge-owned VP-side counterpart row for it.
func (r *Resolver) materializeFromAP(ctx context.Context, rawURL string) (*store.User, error) {
	accept := `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	var a apmodel.Actor
	if err := r.fetchJSON(ctx, rawURL, accept, &a); err != nil {
		return nil, bridgeerr.New(bridgeerr.ResolveFailed, "fetch ap actor "+rawURL, err)
	}

	pair, err := keys.Generate()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.Internal, "mint bridge keypair", err)
	}

	row, err := mapper.ActorFromAP(&a, vpmodel.NowISO(time.Now()), pair.PrivatePEM, pair.PublicPEM)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.ResolveFailed, "map ap actor "+rawURL, err)
	}
	return r.persistMaterialized(row)
}

// persistMaterialized inserts row as a bridge-owned synthetic identity
// (spec.md §4.4 step 3). A unique-constraint loss to a concurrent resolve
// of the same URL is not an error: the loser re-reads the winner's row.
func (r *Resolver) persistMaterialized(row *store.User) (*store.User, error) {
	row.ID = ids.NewID()
	row.Local = true
	if err := r.store.InsertUser(row); err != nil {
		if existing, findErr := r.store.FindUserByURL(row.URL); findErr == nil {
			slog.Debug("resolver lost materialize race, using winner's row", "url", row.URL)
			return existing, nil
		}
		return nil, bridgeerr.New(bridgeerr.DatabaseError, "persist materialized user", err)
	}
	return row, nil
}

// ResolveHandle resolves a WebFinger handle ("user@host") to an AP actor URL,
// then resolves that URL via Resolve (spec.md §4.4's webfinger collaborator).
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (*store.User, error) {
	parts := strings.SplitN(handle, "@", 2)
	if len(parts) != 2 {
		return nil, bridgeerr.New(bridgeerr.ParseError, "invalid handle "+handle, nil)
	}
	domain := parts[1]
	wfURL := "https://" + domain + "/.well-known/webfinger?resource=acct:" + handle

	var wf apmodel.WebFingerResponse
	if err := r.fetchJSON(ctx, wfURL, "application/jrd+json, application/json", &wf); err != nil {
		return nil, bridgeerr.New(bridgeerr.ResolveFailed, "webfinger fetch "+handle, err)
	}
	for _, link := range wf.Links {
		if link.Rel == "self" && isAPMediaType(link.Type) {
			return r.Resolve(ctx, link.Href)
		}
	}
	return nil, bridgeerr.New(bridgeerr.NotFound, "no ActivityPub actor link for "+handle, nil)
}

// VerifyActorSignature verifies an inbound AP HTTP Signature against the
// signing actor's genuine, freshly-fetched AP public key. Deliberately
// bypasses the store row (which may hold only this bridge's own minted
// keypair for a VP-native identity) and re-fetches the origin actor
// document directly, mirroring the teacher's VerifySignature/FetchActor.
func (r *Resolver) VerifyActorSignature(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", bridgeerr.New(bridgeerr.SignatureInvalid, "create verifier", err)
	}
	keyID := verifier.KeyId()
	actorURL := strings.SplitN(keyID, "#", 2)[0]

	accept := `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	var a apmodel.Actor
	if err := r.fetchJSON(req.Context(), actorURL, accept, &a); err != nil {
		return "", bridgeerr.New(bridgeerr.ResolveFailed, "fetch signing actor "+actorURL, err)
	}
	if a.PublicKey == nil || a.PublicKey.PublicKeyPem == "" {
		return "", bridgeerr.New(bridgeerr.SignatureInvalid, "actor "+actorURL+" has no public key", nil)
	}
	pub, err := keys.ParsePublic(a.PublicKey.PublicKeyPem)
	if err != nil {
		return "", bridgeerr.New(bridgeerr.SignatureInvalid, "parse actor public key", err)
	}
	if err := verifier.Verify(pub, httpsig.RSA_SHA256); err != nil {
		return "", bridgeerr.ErrSignatureInvalid
	}
	return keyID, nil
}

// VerifyDigest checks the Digest header (if present) against body's SHA-256.
func VerifyDigest(body []byte, digestHeader string) error {
	if digestHeader == "" {
		return nil
	}
	const prefix = "SHA-256="
	if !strings.HasPrefix(digestHeader, prefix) {
		return nil
	}
	sum := sha256.Sum256(body)
	got := base64.StdEncoding.EncodeToString(sum[:])
	want := digestHeader[len(prefix):]
	if got != want {
		return fmt.Errorf("digest mismatch")
	}
	return nil
}

func (r *Resolver) fetchJSON(ctx context.Context, rawURL, accept string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

func hostOf(rawURL string) string {
	parts := strings.SplitN(rawURL, "://", 2)
	if len(parts) != 2 {
		return ""
	}
	rest := parts[1]
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func isAPMediaType(ct string) bool {
	lower := strings.ToLower(ct)
	if lower == "application/activity+json" {
		return true
	}
	return strings.HasPrefix(lower, "application/ld+json") &&
		strings.Contains(lower, "https://www.w3.org/ns/activitystreams")
}
