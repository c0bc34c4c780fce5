package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/mapper"
	"github.com/versia-pub/activitypub/internal/resolver"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

// HandleAPInbox implements spec.md §4.5's AP inbox: verify the HTTP
// Signature and Digest, decode the envelope as one of {CreateNote, Follow,
// Accept} by its type field, and run the matching handler synchronously —
// the response reflects the handler's outcome. Unlike the VP inbox, AP
// inbox handling is never detached to a background task (spec.md §4.5).
func (d *Dispatcher) HandleAPInbox(r *http.Request, body []byte) error {
	if err := resolver.VerifyDigest(body, r.Header.Get("Digest")); err != nil {
		return bridgeerr.New(bridgeerr.SignatureInvalid, "digest mismatch", err)
	}
	if _, err := d.resolver.VerifyActorSignature(r); err != nil {
		return err
	}

	var act apmodel.IncomingActivity
	if err := json.Unmarshal(body, &act); err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode ap activity", err)
	}

	ctx := r.Context()
	actor, err := d.resolver.Resolve(ctx, act.Actor)
	if err != nil {
		return err
	}

	switch act.Type {
	case "Follow":
		return d.handleAPFollow(ctx, actor, act, body)
	case "Accept":
		return d.handleAPAccept(ctx, actor, act, body)
	case "Create":
		return d.handleAPCreateNote(ctx, actor, act)
	default:
		return bridgeerr.New(bridgeerr.ParseError, "unsupported ap activity type "+act.Type, nil)
	}
}

// handleAPFollow handles an inbound AP Follow targeting one of this
// bridge's locally-hosted or VP-materialized actors (spec.md §4.6's
// FollowRequestReceived transition, remote=true). On success, the request
// is mirrored to the real VP side as a VP Follow so its genuine owner can
// accept it.
func (d *Dispatcher) handleAPFollow(ctx context.Context, follower *store.User, act apmodel.IncomingActivity, raw []byte) error {
	followeeURL, err := decodeObjectID(act.Object)
	if err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode follow object", err)
	}
	followee, err := d.resolver.Resolve(ctx, followeeURL)
	if err != nil {
		return err
	}

	row, err := d.follow.FollowRequestReceived(follower, followee, true, string(raw))
	if err != nil {
		return err
	}

	if hostOf(followee.Inbox) != d.apDomain {
		vf := &vpmodel.Follow{
			Type: "Follow", ID: row.ID,
			URI:       ids.VPCollectionURL(d.apDomain, "follow", row.ID),
			Author:    follower.URL,
			CreatedAt: vpmodel.NowISO(time.Now()),
			Followee:  followee.URL,
		}
		if err := d.delivery.DeliverVP(ctx, followee.Inbox, vf); err != nil {
			return bridgeerr.New(bridgeerr.ResolveFailed, "mirror follow to vp", err)
		}
	}
	return nil
}

// handleAPAccept handles an inbound AP Accept wrapping an earlier outbound
// Follow (spec.md §8 scenario 2): locate the row by its bridge-minted AP
// Follow id, transition Requested → Accepted, and forward a VP FollowAccept
// to the original VP follower's inbox.
func (d *Dispatcher) handleAPAccept(ctx context.Context, actor *store.User, act apmodel.IncomingActivity, raw []byte) error {
	followAPID, err := decodeObjectID(act.Object)
	if err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode accept object", err)
	}
	row, err := d.store.FindFollowByAPID(followAPID)
	if err != nil {
		return err
	}
	if err := d.follow.FollowAcceptReceived(row, act.ID, string(raw)); err != nil {
		return err
	}
	if row.FollowerInbox.Valid {
		follower, err := d.store.FindUserByID(row.FollowerID)
		if err == nil {
			fr := &vpmodel.FollowResult{
				Type: "FollowAccept", ID: ids.FollowAcceptURL(d.apDomain, row.ID),
				URI: ids.FollowAcceptURL(d.apDomain, row.ID), Author: actor.URL,
				CreatedAt: vpmodel.NowISO(time.Now()), Follower: follower.URL,
			}
			if err := d.delivery.DeliverVP(ctx, row.FollowerInbox.String, fr); err != nil {
				return bridgeerr.New(bridgeerr.ResolveFailed, "forward follow accept to vp", err)
			}
		}
	}
	return nil
}

// handleAPCreateNote handles an inbound AP Create(Note): persist a post row
// idempotently (by url uniqueness, spec.md §8).
func (d *Dispatcher) handleAPCreateNote(ctx context.Context, actor *store.User, act apmodel.IncomingActivity) error {
	var note apmodel.Note
	if err := json.Unmarshal(act.Object, &note); err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode create note object", err)
	}
	if _, err := d.store.FindPostByURL(note.ID); err == nil {
		return nil
	}
	post, err := mapper.NoteFromAP(&note, actor, d.resolvePost)
	if err != nil {
		return bridgeerr.New(bridgeerr.Internal, "map ap note", err)
	}
	if err := d.store.InsertPost(post); err != nil {
		return err
	}
	return nil
}

// decodeObjectID decodes an AP activity's Object field, which may be a
// bare actor/activity id string or an embedded document carrying one,
// mirroring the teacher's parseFollowFromObject helper.
func decodeObjectID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	return obj.ID, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
