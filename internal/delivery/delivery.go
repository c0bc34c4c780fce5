// Package delivery implements the outbound delivery engine (spec.md §4.7):
// bounded-concurrency signed AP fan-out, and single-POST VP delivery for
// FollowAccept. Grounded on the teacher's internal/ap/federation.go
// (Federator.Federate's semaphore+WaitGroup fan-out) and
// internal/ap/client.go's DeliverActivity (httpsig signer construction,
// signed header set). Inboxes are deduplicated by exact URL only; there is
// no shared-inbox collapsing.
package delivery

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/versia-pub/activitypub/internal/apmodel"
)

const userAgent = "versia-activitypub-bridge/1.0"

// Engine delivers outbound AP and VP documents to remote inboxes.
type Engine struct {
	httpClient  *http.Client
	concurrency int
	apiDomain   string
}

// New builds an Engine. concurrency bounds the number of simultaneous
// outbound deliveries within a single fan-out call (spec.md §5).
func New(apiDomain string, concurrency int, timeout time.Duration) *Engine {
	return &Engine{
		httpClient:  &http.Client{Timeout: timeout},
		concurrency: concurrency,
		apiDomain:   apiDomain,
	}
}

// FanOutAP delivers activity to every inbox in inboxes concurrently, bounded
// by the engine's concurrency limit. Each delivery is fire-and-forget: a
// per-task failure is logged and does not block or retry (spec.md §4.7.3).
func (e *Engine) FanOutAP(ctx context.Context, activity interface{}, keyID string, privKey *rsa.PrivateKey, inboxes []string) {
	doc := apmodel.WithContext(activity)
	body, err := json.Marshal(doc)
	if err != nil {
		slog.Error("marshal outbound activity failed", "error", err)
		return
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for _, inbox := range dedupeExact(inboxes) {
		sem <- struct{}{}
		wg.Add(1)
		go func(inbox string) {
			defer func() { <-sem; wg.Done() }()
			if err := e.deliverAP(ctx, inbox, body, keyID, privKey); err != nil {
				slog.Warn("ap delivery failed", "inbox", inbox, "error", err)
			}
		}(inbox)
	}
	wg.Wait()
}

// deliverAP signs and POSTs body to a single AP inbox.
func (e *Engine) deliverAP(ctx context.Context, inbox string, body []byte, keyID string, privKey *rsa.PrivateKey) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}
	if err := signer.SignRequest(privKey, keyID, req, body); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", inbox, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("deliver to %s: HTTP %d", inbox, resp.StatusCode)
	}
	return nil
}

// DeliverVP issues a single POST for VP outbound delivery (used only for
// FollowAccept per spec.md §4.7), signed with the bridge's instance-level
// X-Signed-By header convention rather than per-actor HTTP Signatures.
func (e *Engine) DeliverVP(ctx context.Context, inboxURL string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal vp document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Signed-By", "instance "+e.apiDomain)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", inboxURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("deliver to %s: HTTP %d", inboxURL, resp.StatusCode)
	}
	return nil
}

// ComputeFanOutInboxes implements spec.md §4.7's inbox-set computation for
// a fan-out Note: mentioned-actor inboxes unioned with the creator's AP
// follower inboxes, sorted and deduplicated (exact-match dedup here; a
// second pass, dedupeExact, runs again inside FanOutAP since its own inputs
// can carry further exact duplicates across call sites).
func ComputeFanOutInboxes(mentionInboxes, followerInboxes []string) []string {
	seen := make(map[string]struct{}, len(mentionInboxes)+len(followerInboxes))
	var out []string
	for _, inbox := range append(append([]string{}, mentionInboxes...), followerInboxes...) {
		if inbox == "" {
			continue
		}
		if _, ok := seen[inbox]; ok {
			continue
		}
		seen[inbox] = struct{}{}
		out = append(out, inbox)
	}
	sort.Strings(out)
	return out
}

// dedupeExact removes literal duplicate inbox URLs. Recipients on one host
// are not collapsed onto a sharedInbox URL: materialized rows store each
// actor's own inbox, so such recipients each get their own delivery.
func dedupeExact(inboxes []string) []string {
	seen := make(map[string]struct{}, len(inboxes))
	var out []string
	for _, inbox := range inboxes {
		if _, ok := seen[inbox]; ok {
			continue
		}
		seen[inbox] = struct{}{}
		out = append(out, inbox)
	}
	return out
}
