package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

// ActorToAP builds the AP actor document for a user row, used both to serve
// a bridge-owned actor endpoint and to populate ap_json for a VP-originated
// user. Grounded on the teacher's transmute.go actor map-builder.
func ActorToAP(domain string, u *store.User) (*apmodel.Actor, error) {
	actorURL := ids.ActorURL(domain, u.ID)
	a := &apmodel.Actor{
		Context:           apmodel.DefaultContext,
		ID:                actorURL,
		Type:              "Person",
		PreferredUsername: u.Username,
		URL:               u.URL,
		Inbox:             ids.InboxURL(domain, u.Username),
		Outbox:            ids.VPCollectionURL(domain, "outbox", u.ID),
		Followers:         ids.VPCollectionURL(domain, "followers", u.ID),
		Following:         ids.VPCollectionURL(domain, "following", u.ID),
		Endpoints:         &apmodel.Endpoints{SharedInbox: fmt.Sprintf("https://%s/inbox", domain)},
		PublicKey: &apmodel.PublicKey{
			ID:           actorURL + "#main-key",
			Owner:        actorURL,
			PublicKeyPem: u.PublicKey,
		},
	}
	if u.Name.Valid {
		a.Name = u.Name.String
	}
	if u.Summary.Valid {
		a.Summary = u.Summary.String
	}
	return a, nil
}

// ActorToVP maps a user row to its VP representation. Grounded on
// original_source/src/versia/conversion.rs's versia_user_from_db.
func ActorToVP(domain string, u *store.User) (*vpmodel.User, error) {
	vu := &vpmodel.User{
		Type:       "User",
		ID:         u.ID,
		URI:        u.URL,
		CreatedAt:  u.CreatedAt,
		Username:   u.Username,
		Inbox:      ids.InboxURL(domain, u.Username),
		Likes:      ids.VPCollectionURL(domain, "likes", u.ID),
		Dislikes:   ids.VPCollectionURL(domain, "dislikes", u.ID),
		Indexable:  true,
		Collections: vpmodel.UserCollections{
			Outbox:    ids.VPCollectionURL(domain, "outbox", u.ID),
			Featured:  ids.VPCollectionURL(domain, "featured", u.ID),
			Followers: ids.VPCollectionURL(domain, "followers", u.ID),
			Following: ids.VPCollectionURL(domain, "following", u.ID),
		},
		PublicKey: vpmodel.PublicKeyInfo{
			Key:       u.PublicKey,
			Actor:     u.URL,
			Algorithm: "rsa-sha256",
		},
	}
	if u.Name.Valid {
		vu.DisplayName = u.Name.String
	}
	if u.Summary.Valid {
		vu.Bio = vpmodel.SingleText(u.Summary.String)
	}
	return vu, nil
}

// ActorFromVP maps an inbound VP User into a User row ready for insertion,
// pairing it with a freshly minted keypair (spec.md §4.2's "fresh keypair
// per materialized remote actor" requirement — there is no single shared
// bridge key to derive from).
func ActorFromVP(domain string, vu *vpmodel.User, privPEM, pubPEM string) (*store.User, error) {
	u := &store.User{
		ID:              vu.ID,
		Username:        vu.Username,
		URL:             vu.URI,
		PublicKey:       pubPEM,
		LastRefreshedAt: vu.CreatedAt,
		CreatedAt:       vu.CreatedAt,
		Inbox:           vu.Inbox,
	}
	if privPEM != "" {
		u.PrivateKey.String, u.PrivateKey.Valid = privPEM, true
	}
	if vu.DisplayName != "" {
		u.Name.String, u.Name.Valid = vu.DisplayName, true
	}
	if _, body, ok := vu.Bio.RichestText(); ok {
		u.Summary.String, u.Summary.Valid = body, true
	}
	u.Following.String, u.Following.Valid = ids.VPCollectionURL(domain, "following", vu.ID), true
	u.Followers.String, u.Followers.Valid = ids.VPCollectionURL(domain, "followers", vu.ID), true

	apActor, err := ActorToAP(domain, u)
	if err != nil {
		return nil, fmt.Errorf("build ap actor: %w", err)
	}
	apJSON, err := marshalWithContext(apActor)
	if err != nil {
		return nil, err
	}
	u.APJSON = apJSON
	return u, nil
}

// ActorFromAP maps a remote AP Actor into a User row ready for insertion,
// pairing it with a freshly minted bridge keypair (spec.md §4.4 step 3: the
// persisted row always carries the bridge's own key, used to sign outbound
// VP-side traffic for this materialized identity — verifying the actor's
// genuine inbound AP signatures is a separate, direct fetch and never
// consults this column, per internal/resolver.VerifyActorSignature).
func ActorFromAP(a *apmodel.Actor, createdAt, privPEM, pubPEM string) (*store.User, error) {
	u := &store.User{
		ID:              ids.NewID(),
		Username:        a.PreferredUsername,
		URL:             a.ID,
		PublicKey:       pubPEM,
		LastRefreshedAt: createdAt,
		CreatedAt:       createdAt,
		Inbox:           a.Inbox,
	}
	if privPEM != "" {
		u.PrivateKey.String, u.PrivateKey.Valid = privPEM, true
	}
	if a.Name != "" {
		u.Name.String, u.Name.Valid = a.Name, true
	}
	if a.Summary != "" {
		u.Summary.String, u.Summary.Valid = a.Summary, true
	}
	if a.Followers != "" {
		u.Followers.String, u.Followers.Valid = a.Followers, true
	}
	if a.Following != "" {
		u.Following.String, u.Following.Valid = a.Following, true
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal ap actor: %w", err)
	}
	u.APJSON = string(b)
	return u, nil
}
