package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/delivery"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/keys"
	"github.com/versia-pub/activitypub/internal/mapper"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

// HandleVPInbox implements spec.md §4.5's VP inbox: inspect the envelope's
// top-level type, validate it is one of the recognized kinds, and dispatch
// the actual handling to a detached background task so the caller can
// reply 201 immediately (spec.md §5's "background tasks ... detached from
// handler completion").
func (d *Dispatcher) HandleVPInbox(body []byte) error {
	var env vpmodel.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode vp envelope", err)
	}

	switch env.Type {
	case "Note", "Follow", "FollowAccept", "FollowReject", "Unfollow", "Delete", "Patch":
		go d.dispatchVPBackground(env.Type, body)
		return nil
	default:
		return bridgeerr.New(bridgeerr.ParseError, "unsupported vp type "+env.Type, nil)
	}
}

// dispatchVPBackground runs the actual VP handler outside the request
// lifecycle. Errors are logged and dropped — never surfaced to the
// original caller (spec.md §7).
func (d *Dispatcher) dispatchVPBackground(vpType string, body []byte) {
	ctx := context.Background()
	switch vpType {
	case "Note":
		logBackgroundFailure(vpType, d.handleVPNote(ctx, body))
	case "Follow":
		logBackgroundFailure(vpType, d.handleVPFollow(ctx, body))
	case "FollowAccept":
		logBackgroundFailure(vpType, d.handleVPFollowAccept(ctx, body))
	case "FollowReject", "Unfollow", "Delete", "Patch":
		slog.Info("recognized vp inbox type, no handling implemented", "type", vpType)
	}
}

// handleVPNote implements the "Note" row of spec.md §4.5's VP inbox table:
// map to an AP Note, persist a post row (idempotent by url), and fan out a
// Create activity to mentioned actors and the creator's AP followers.
func (d *Dispatcher) handleVPNote(ctx context.Context, body []byte) error {
	var n vpmodel.Note
	if err := json.Unmarshal(body, &n); err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode vp note", err)
	}
	if _, err := d.store.FindPostByURL(n.URI); err == nil {
		return nil
	}

	author, err := d.resolver.Resolve(ctx, n.Author)
	if err != nil {
		return bridgeerr.New(bridgeerr.ResolveFailed, "resolve note author", err)
	}

	post, err := mapper.NoteFromVP(d.apDomain, &n, author, d.resolvePost)
	if err != nil {
		return bridgeerr.New(bridgeerr.Internal, "map vp note", err)
	}
	if err := d.store.InsertPost(post); err != nil {
		return err
	}

	var mentionInboxes []string
	for _, mention := range n.Mentions {
		u, err := d.resolver.Resolve(ctx, mention)
		if err != nil {
			slog.Warn("could not resolve note mention, skipping", "mention", mention, "error", err)
			continue
		}
		mentionInboxes = append(mentionInboxes, u.Inbox)
	}
	followerInboxes, err := d.store.FollowerInboxesOf(author.ID)
	if err != nil {
		return err
	}
	inboxes := delivery.ComputeFanOutInboxes(mentionInboxes, followerInboxes)
	if len(inboxes) == 0 {
		return nil
	}

	apNote, err := mapper.NoteToAP(d.apDomain, post, author, n.Mentions)
	if err != nil {
		return bridgeerr.New(bridgeerr.Internal, "build ap note for fan-out", err)
	}
	actorURL := ids.ActorURL(d.apDomain, author.ID)
	activity := apmodel.Activity{
		ID:     ids.CreateActivityURL(d.apDomain, post.ID, n.URI),
		Type:   "Create",
		Actor:  actorURL,
		Object: apNote,
		To:     apNote.To,
		Cc:     apNote.Cc,
	}
	privKey, err := keys.ParsePrivate(author.PrivateKey.String)
	if err != nil {
		return bridgeerr.New(bridgeerr.Internal, "parse author private key", err)
	}
	d.delivery.FanOutAP(ctx, activity, actorURL+"#main-key", privKey, inboxes)
	return nil
}

// handleVPFollow implements the "Follow" row: state-machine transition
// ∅ → Requested plus an outbound AP Follow to the followee's AP inbox.
func (d *Dispatcher) handleVPFollow(ctx context.Context, body []byte) error {
	var f vpmodel.Follow
	if err := json.Unmarshal(body, &f); err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode vp follow", err)
	}

	follower, err := d.resolver.Resolve(ctx, f.Author)
	if err != nil {
		return bridgeerr.New(bridgeerr.ResolveFailed, "resolve follow author", err)
	}
	followee, err := d.resolver.Resolve(ctx, f.Followee)
	if err != nil {
		return bridgeerr.New(bridgeerr.ResolveFailed, "resolve followee", err)
	}

	row, err := d.follow.FollowRequestReceived(follower, followee, true, string(body))
	if err != nil {
		return err
	}

	actorURL := ids.ActorURL(d.apDomain, follower.ID)
	activity := apmodel.Activity{
		ID:     row.APID.String,
		Type:   "Follow",
		Actor:  actorURL,
		Object: followee.URL,
	}
	privKey, err := keys.ParsePrivate(follower.PrivateKey.String)
	if err != nil {
		return bridgeerr.New(bridgeerr.Internal, "parse follower private key", err)
	}
	d.delivery.FanOutAP(ctx, activity, actorURL+"#main-key", privKey, []string{followee.Inbox})
	return nil
}

// handleVPFollowAccept implements the "FollowAccept" row: state-machine
// transition Requested → Accepted on the matching row. When the original
// follower is AP-native (the row's follower_inbox is an AP inbox), the
// acceptance is also mirrored back as an AP Accept so the bidirectional
// bridge converges — spec.md §4.5's table does not spell this out for this
// direction, but §4.6's "cross-protocol delivery" intent and the symmetry
// with handleAPAccept's VP-ward mirroring make the omission read as an
// oversight rather than a deliberate one-way design (documented as a
// decided Open Question).
func (d *Dispatcher) handleVPFollowAccept(ctx context.Context, body []byte) error {
	var fr vpmodel.FollowResult
	if err := json.Unmarshal(body, &fr); err != nil {
		return bridgeerr.New(bridgeerr.ParseError, "decode vp follow accept", err)
	}

	follower, err := d.resolver.Resolve(ctx, fr.Follower)
	if err != nil {
		return bridgeerr.New(bridgeerr.ResolveFailed, "resolve follow accept follower", err)
	}
	followee, err := d.resolver.Resolve(ctx, fr.Author)
	if err != nil {
		return bridgeerr.New(bridgeerr.ResolveFailed, "resolve follow accept author", err)
	}

	row, err := d.store.FindFollow(follower.ID, followee.ID)
	if err != nil {
		return err
	}
	if err := d.follow.FollowAcceptReceived(row, fr.ID, string(body)); err != nil {
		return err
	}

	if !row.FollowerInbox.Valid || hostOf(row.FollowerInbox.String) == d.vpDomain {
		return nil
	}
	actorURL := ids.ActorURL(d.apDomain, followee.ID)
	activity := apmodel.Activity{
		ID:     ids.FollowAcceptURL(d.apDomain, row.ID),
		Type:   "Accept",
		Actor:  actorURL,
		Object: row.APID.String,
	}
	privKey, err := keys.ParsePrivate(followee.PrivateKey.String)
	if err != nil {
		return bridgeerr.New(bridgeerr.Internal, "parse followee private key", err)
	}
	d.delivery.FanOutAP(ctx, activity, actorURL+"#main-key", privKey, []string{row.FollowerInbox.String})
	return nil
}
