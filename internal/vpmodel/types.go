// Package vpmodel defines the VP (Versia/Lysand-family) wire types this
// bridge speaks: users, notes, and the follow/follow-result/unfollow/delete
// envelopes. Grounded on original_source/src/versia/objects.rs.
package vpmodel

import (
	"encoding/json"
	"time"
)

// Extension namespace constants, from original_source's VersiaExtensions enum.
const (
	ExtCustomEmojis = "pub.versia:custom_emojis"
)

// Group addressing values.
const (
	GroupPublic    = "public"
	GroupUnlisted  = "unlisted"
	GroupFollowers = "followers"
)

// richImagePriority mirrors ContentFormat::select_rich_img_touple's
// fixed preference order.
var richImagePriority = []string{
	"image/webp", "image/png", "image/avif", "image/jxl",
	"image/jpeg", "image/gif", "image/bmp",
}

// richTextPriority mirrors ContentFormat::select_rich_text's fixed
// preference order. This order is part of the wire contract (spec.md §4.3):
// changing it changes what AP peers see when content is re-derived from VP.
var richTextPriority = []string{
	"text/x.misskeymarkdown", "text/html", "text/markdown", "text/plain",
}

// ContentEntry is one value in a ContentFormat map.
type ContentEntry struct {
	Content     string `json:"content"`
	Remote      bool   `json:"remote"`
	Description string `json:"description,omitempty"`
	Size        *uint64 `json:"size,omitempty"`
	Blurhash    string `json:"blurhash,omitempty"`
	Width       *uint64 `json:"width,omitempty"`
	Height      *uint64 `json:"height,omitempty"`
}

// NewContentEntry builds a ContentEntry for freshly-authored (non-remote) content.
func NewContentEntry(content string) ContentEntry {
	return ContentEntry{Content: content}
}

// ContentFormat is a media-type → ContentEntry map, e.g. {"text/html": {...}}.
type ContentFormat map[string]ContentEntry

// RichestText returns the body of the richest available text entry,
// following richTextPriority, falling back to any single present entry.
func (cf ContentFormat) RichestText() (mediaType, body string, ok bool) {
	for _, mt := range richTextPriority {
		if entry, present := cf[mt]; present {
			return mt, entry.Content, true
		}
	}
	for mt, entry := range cf {
		return mt, entry.Content, true
	}
	return "", "", false
}

// RichestImage returns the (mediaType, body) of the richest available image
// entry, following richImagePriority, falling back to any single present entry.
func (cf ContentFormat) RichestImage() (mediaType, body string, ok bool) {
	for _, mt := range richImagePriority {
		if entry, present := cf[mt]; present {
			return mt, entry.Content, true
		}
	}
	for mt, entry := range cf {
		return mt, entry.Content, true
	}
	return "", "", false
}

// SingleText builds a ContentFormat containing exactly one text/html entry,
// matching the pattern used throughout original_source's conversion.rs
// (content always wrapped as ContentFormat{"text/html": ...}).
func SingleText(body string) ContentFormat {
	return ContentFormat{"text/html": NewContentEntry(body)}
}

// FieldKV is one profile metadata field (key/value, both ContentFormat).
type FieldKV struct {
	Key   ContentFormat `json:"key"`
	Value ContentFormat `json:"value"`
}

// UserCollections holds the bridge-minted collection URLs on a VP User.
type UserCollections struct {
	Outbox    string `json:"outbox"`
	Featured  string `json:"featured"`
	Followers string `json:"followers"`
	Following string `json:"following"`
}

// CustomEmoji is one entry in the custom_emojis extension.
type CustomEmoji struct {
	Name string        `json:"name"`
	URL  ContentFormat `json:"url"`
}

// CustomEmojis wraps the list of CustomEmoji under the extension key.
type CustomEmojis struct {
	Emojis []CustomEmoji `json:"emojis"`
}

// ExtensionSpecs is the extensions block on a VP User.
type ExtensionSpecs struct {
	CustomEmojis *CustomEmojis `json:"pub.versia:custom_emojis,omitempty"`
}

// PublicKeyInfo is the public_key block on a VP User.
type PublicKeyInfo struct {
	Key       string `json:"key"`
	Actor     string `json:"actor"`
	Algorithm string `json:"algorithm"`
}

// User is the VP user document.
type User struct {
	PublicKey                 PublicKeyInfo   `json:"public_key"`
	Type                      string          `json:"type"`
	ID                        string          `json:"id"`
	URI                       string          `json:"uri"`
	CreatedAt                 string          `json:"created_at"`
	DisplayName               string          `json:"display_name,omitempty"`
	Collections               UserCollections `json:"collections"`
	Inbox                     string          `json:"inbox"`
	Likes                     string          `json:"likes"`
	Dislikes                  string          `json:"dislikes"`
	Username                  string          `json:"username"`
	Bio                       ContentFormat   `json:"bio,omitempty"`
	Avatar                    ContentFormat   `json:"avatar,omitempty"`
	Header                    ContentFormat   `json:"header,omitempty"`
	Fields                    []FieldKV       `json:"fields,omitempty"`
	Indexable                 bool            `json:"indexable"`
	Extensions                *ExtensionSpecs `json:"extensions,omitempty"`
	ManuallyApprovesFollowers bool            `json:"manually_approves_followers"`
}

// Note is the VP note document.
type Note struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	URI         string          `json:"uri"`
	Author      string          `json:"author"`
	CreatedAt   string          `json:"created_at"`
	Content     ContentFormat   `json:"content,omitempty"`
	Group       string          `json:"group,omitempty"`
	Attachments []ContentFormat `json:"attachments,omitempty"`
	RepliesTo   string          `json:"replies_to,omitempty"`
	Quotes      string          `json:"quotes,omitempty"`
	Mentions    []string        `json:"mentions,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	IsSensitive bool            `json:"is_sensitive,omitempty"`
}

// Follow is the VP follow-request envelope.
type Follow struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	URI       string `json:"uri"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	Followee  string `json:"followee"`
}

// FollowResult is the VP FollowAccept/FollowReject envelope.
type FollowResult struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	URI       string `json:"uri"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	Follower  string `json:"follower"`
}

// Unfollow is the VP unfollow envelope.
type Unfollow struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	Followee  string `json:"followee"`
}

// Delete is the VP delete envelope (recognized, not acted on — spec.md §4.5).
type Delete struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Author      string `json:"author,omitempty"`
	CreatedAt   string `json:"created_at"`
	DeletedType string `json:"deleted_type"`
	Deleted     string `json:"deleted"`
}

// Envelope decodes just enough of an inbound VP body to dispatch by type.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// NowISO formats t using the ISO-8601 layout VP documents use
// (4-digit year, matching original_source's iso_versia format description).
func NowISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
