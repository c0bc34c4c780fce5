// Package dispatch implements the inbox dispatcher (spec.md §4.5): the AP
// inbox handler (signature-verify-then-type-switch, synchronous response)
// and the VP inbox handler (type-switch, detached background handling,
// immediate 201). Grounded on the teacher's internal/ap/handler.go
// (APHandler.HandleActivity's verify-then-type-switch shape and its
// handleFollow/handleAccept/handleCreate bodies), generalized from Nostr
// event kinds onto this bridge's AP↔VP activity vocabulary.
package dispatch

import (
	"log/slog"

	"github.com/versia-pub/activitypub/internal/delivery"
	"github.com/versia-pub/activitypub/internal/followsm"
	"github.com/versia-pub/activitypub/internal/resolver"
	"github.com/versia-pub/activitypub/internal/store"
)

// Dispatcher wires the identity resolver, object mapper, follow state
// machine and delivery engine together to handle inbound AP and VP
// activities.
type Dispatcher struct {
	store    *store.Store
	resolver *resolver.Resolver
	follow   *followsm.Machine
	delivery *delivery.Engine
	apDomain string
	vpDomain string
}

// New builds a Dispatcher.
func New(s *store.Store, r *resolver.Resolver, f *followsm.Machine, d *delivery.Engine, apDomain, vpDomain string) *Dispatcher {
	return &Dispatcher{store: s, resolver: r, follow: f, delivery: d, apDomain: apDomain, vpDomain: vpDomain}
}

// resolvePost adapts Store.FindPostByURL to the mapper.PostLookup shape.
func (d *Dispatcher) resolvePost(url string) (*store.Post, error) {
	return d.store.FindPostByURL(url)
}

// logBackgroundFailure records a background (VP inbox) handler failure.
// Per spec.md §7, background failures are never propagated to the
// originating handler — they are logged and dropped.
func logBackgroundFailure(vpType string, err error) {
	if err == nil {
		return
	}
	slog.Warn("vp inbox background handler failed", "type", vpType, "error", err)
}
