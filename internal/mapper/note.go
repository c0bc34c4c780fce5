package mapper

import (
	"fmt"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

// UserLookup resolves a native actor/post URL to a locally-known store row,
// fetching and materializing on miss. Implemented by internal/resolver; the
// mapper only depends on this narrow interface so it stays free of network
// and store-writing concerns.
type UserLookup func(url string) (*store.User, error)

// PostLookup resolves a native note URL to a locally-known post row.
type PostLookup func(url string) (*store.Post, error)

// NoteToVP maps a Post row (either locally authored or a materialized AP
// Note) to its VP representation. Grounded on
// original_source/src/versia/conversion.rs's versia_post_from_db.
func NoteToVP(domain string, p *store.Post, creator *store.User, resolveUser UserLookup, mentionHrefs []string, vpDomain string) (*vpmodel.Note, error) {
	n := &vpmodel.Note{
		Type:        "Note",
		ID:          p.ID,
		URI:         ids.VPObjectURL(domain, p.ID),
		Author:      creator.URL,
		CreatedAt:   p.CreatedAt,
		Content:     noteContentFormat(p.Content),
		Group:       StoreVisibilityToGroup(p.Visibility),
		IsSensitive: p.Sensitive,
	}
	if p.Title.Valid {
		n.Subject = p.Title.String
	}

	// Only project mentions whose resolved user's inbox lives on the VP
	// network's domain, per spec.md §4.3 ("only for hrefs on the VP
	// network's domain").
	for _, href := range mentionHrefs {
		u, err := resolveUser(href)
		if err != nil {
			continue
		}
		if hostOf(u.Inbox) == vpDomain {
			n.Mentions = append(n.Mentions, u.URL)
		}
	}
	return n, nil
}

// NoteFromVP maps an inbound VP Note into a Post row ready for insertion.
// The author row is supplied by the caller; reply and quote targets are
// looked up via resolvePost, and a target it cannot find is left unset.
// Grounded on original_source/src/versia/conversion.rs's receive_versia_note.
func NoteFromVP(domain string, n *vpmodel.Note, author *store.User, resolvePost PostLookup) (*store.Post, error) {
	_, content, ok := n.Content.RichestText()
	if !ok {
		content = ""
	}

	p := &store.Post{
		ID:          n.ID,
		Content:     content,
		CreatedAt:   n.CreatedAt,
		ContentType: "text/html",
		Visibility:  groupToStoreVisibility(n.Group),
		Sensitive:   n.IsSensitive,
		Creator:     author.ID,
		URL:         n.URI,
	}
	if n.Subject != "" {
		p.Title.String, p.Title.Valid = n.Subject, true
	}

	if n.RepliesTo != "" {
		if reply, err := resolvePost(n.RepliesTo); err == nil {
			p.ReplyID.String, p.ReplyID.Valid = reply.ID, true
		}
	}
	if n.Quotes != "" {
		if quoted, err := resolvePost(n.Quotes); err == nil {
			p.QuotingID.String, p.QuotingID.Valid = quoted.ID, true
		}
	}

	apNote, err := NoteToAP(domain, p, author, n.Mentions)
	if err != nil {
		return nil, fmt.Errorf("build ap note: %w", err)
	}
	apJSON, err := marshalWithContext(apNote)
	if err != nil {
		return nil, err
	}
	p.APJSON = apJSON
	return p, nil
}

// NoteToAP builds the AP Note document for a post row, used both when
// serving a bridge-owned AP Note endpoint and when constructing the ap_json
// column for an inbound VP Note (spec.md §4.3 "Note VP→AP").
func NoteToAP(domain string, p *store.Post, creator *store.User, mentionHrefs []string) (*apmodel.Note, error) {
	to, cc := GroupToAPAddressing(StoreVisibilityToGroup(p.Visibility), followersURLFor(creator), mentionHrefs)

	note := &apmodel.Note{
		ID:           ids.ObjectURL(domain, p.ID),
		Type:         "Note",
		AttributedTo: ids.ActorURL(domain, creator.ID),
		Content:      p.Content,
		Published:    p.CreatedAt,
		URL:          ids.ObjectURL(domain, p.ID),
		To:           apmodel.StringOrArray(to),
		Cc:           apmodel.StringOrArray(cc),
		Sensitive:    p.Sensitive,
	}
	if p.SpoilerText.Valid {
		note.Summary = p.SpoilerText.String
	}
	if p.ReplyID.Valid {
		note.InReplyTo = ids.ObjectURL(domain, p.ReplyID.String)
	}
	if p.QuotingID.Valid {
		note.QuoteURL = ids.ObjectURL(domain, p.QuotingID.String)
	}
	for _, href := range mentionHrefs {
		note.Tag = append(note.Tag, apmodel.Mention{Type: "Mention", Href: href})
	}
	return note, nil
}

// NoteFromAP maps an inbound AP Note into a Post row ready for insertion.
// Grounded on the teacher's handler.go bridgeDirectNote/handleCreate (the
// shape of turning an inbound Create(Note) into a persisted row), adapted
// onto this bridge's VP-facing schema: visibility derives from to/cc rather
// than a postVisibility string classification, and replies/quotes resolve
// through resolvePost instead of a fetch-then-store-parent step.
func NoteFromAP(n *apmodel.Note, author *store.User, resolvePost PostLookup) (*store.Post, error) {
	p := &store.Post{
		ID:          ids.NewID(),
		Content:     n.Content,
		CreatedAt:   n.Published,
		ContentType: "text/html",
		Visibility:  VisibilityToStoreVisibility(n.To, n.Cc),
		Sensitive:   n.Sensitive,
		Creator:     author.ID,
		URL:         n.ID,
	}
	if n.Summary != "" {
		p.SpoilerText.String, p.SpoilerText.Valid = n.Summary, true
	}
	if n.InReplyTo != "" {
		if reply, err := resolvePost(n.InReplyTo); err == nil {
			p.ReplyID.String, p.ReplyID.Valid = reply.ID, true
		}
	}
	if n.QuoteURL != "" {
		if quoted, err := resolvePost(n.QuoteURL); err == nil {
			p.QuotingID.String, p.QuotingID.Valid = quoted.ID, true
		}
	}

	apJSON, err := marshalWithContext(n)
	if err != nil {
		return nil, err
	}
	p.APJSON = apJSON
	return p, nil
}

// noteContentFormat builds a VP ContentFormat carrying both the original
// HTML body and a derived plain-text rendering, so a VP peer that only
// understands text/plain (per richTextPriority's fallback order) still gets
// readable content instead of raw markup.
func noteContentFormat(htmlBody string) vpmodel.ContentFormat {
	cf := vpmodel.SingleText(htmlBody)
	cf["text/plain"] = vpmodel.NewContentEntry(htmlToText(htmlBody))
	return cf
}

func groupToStoreVisibility(group string) string {
	switch group {
	case vpmodel.GroupPublic, "":
		return store.VisibilityPublic
	case vpmodel.GroupUnlisted:
		return store.VisibilityUnlisted
	case vpmodel.GroupFollowers:
		return store.VisibilityFollowers
	default:
		return store.VisibilityDirect
	}
}

func followersURLFor(u *store.User) string {
	if u.Followers.Valid {
		return u.Followers.String
	}
	return ""
}
