// Package apmodel defines the AP (ActivityStreams/ActivityPub) wire types
// this bridge speaks: actors, notes, and the follow/create/accept activity
// envelopes. Structs are adapted from the teacher's AP vocabulary package,
// trimmed of Nostr-specific extension terms that have no VP equivalent.
package apmodel

import "encoding/json"

// PublicURI is the special actor URI meaning "addressed to everyone".
const PublicURI = "https://www.w3.org/ns/activitystreams#Public"

const (
	ActivityStreamsNS = "https://www.w3.org/ns/activitystreams"
	SecurityNS        = "https://w3id.org/security/v1"
)

// DefaultContext is the JSON-LD @context array used on every outbound AP
// document, including the pub.versia custom_emojis extension term so AP
// peers can round-trip VP-originated emoji metadata.
var DefaultContext = []interface{}{
	ActivityStreamsNS,
	SecurityNS,
	map[string]interface{}{
		"Hashtag":       "as:Hashtag",
		"sensitive":     "as:sensitive",
		"schema":        "http://schema.org#",
		"PropertyValue": "schema:PropertyValue",
		"value":         "schema:value",
		"customEmojis":  "pub.versia:custom_emojis",
	},
}

// StringOrArray unmarshals an AP field that may be either a single string
// or an array of strings into a normalized []string.
type StringOrArray []string

func (s *StringOrArray) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (s StringOrArray) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// PublicKey is the security-vocabulary publicKey block attached to Actors.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Image is a generic AP image/icon reference.
type Image struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
}

// Endpoints carries the sharedInbox endpoint used for delivery dedup.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// PropertyValue is a profile metadata field (schema.org PropertyValue).
type PropertyValue struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Emoji is a custom emoji tag entry.
type Emoji struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Icon *Image `json:"icon,omitempty"`
}

// Mention is a tag entry addressing another actor.
type Mention struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
}

// Hashtag is a tag entry for a hashtag.
type Hashtag struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name"`
}

// RawTag captures a tag entry whose concrete shape (Mention/Hashtag/Emoji)
// is determined by its "type" field; used when decoding inbound Notes where
// the tag array is heterogeneous.
type RawTag struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Actor is the AP actor document (Person type) for a local or
// bridge-materialized user.
type Actor struct {
	Context                   interface{}     `json:"@context,omitempty"`
	ID                        string          `json:"id"`
	Type                      string          `json:"type"`
	PreferredUsername         string          `json:"preferredUsername"`
	Name                      string          `json:"name,omitempty"`
	Summary                   string          `json:"summary,omitempty"`
	URL                       string          `json:"url,omitempty"`
	Inbox                     string          `json:"inbox"`
	Outbox                    string          `json:"outbox,omitempty"`
	Followers                 string          `json:"followers,omitempty"`
	Following                 string          `json:"following,omitempty"`
	Endpoints                 *Endpoints      `json:"endpoints,omitempty"`
	PublicKey                 *PublicKey      `json:"publicKey,omitempty"`
	Icon                      *Image          `json:"icon,omitempty"`
	Image                     *Image          `json:"image,omitempty"`
	Attachment                []PropertyValue `json:"attachment,omitempty"`
	Tag                       []Emoji         `json:"tag,omitempty"`
	ManuallyApprovesFollowers bool            `json:"manuallyApprovesFollowers,omitempty"`
}

// Attachment is a media/link attachment on a Note.
type Attachment struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Note is the AP Note document for a local or bridge-materialized post.
type Note struct {
	Context      interface{}     `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo string          `json:"attributedTo"`
	Content      string          `json:"content"`
	Name         string          `json:"name,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Sensitive    bool            `json:"sensitive,omitempty"`
	Published    string          `json:"published,omitempty"`
	URL          string          `json:"url,omitempty"`
	To           StringOrArray   `json:"to,omitempty"`
	Cc           StringOrArray   `json:"cc,omitempty"`
	InReplyTo    string          `json:"inReplyTo,omitempty"`
	QuoteURL     string          `json:"quoteUrl,omitempty"`
	Tag          []interface{}   `json:"tag,omitempty"`
	Attachment   []Attachment    `json:"attachment,omitempty"`
}

// Activity is the generic outbound activity envelope (Follow/Accept/Reject/
// Create/Undo). Object is a generic payload: a string id for
// Follow/Accept/Reject, or an embedded document for Create.
type Activity struct {
	Context interface{}   `json:"@context,omitempty"`
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Actor   string        `json:"actor"`
	Object  interface{}   `json:"object"`
	To      StringOrArray `json:"to,omitempty"`
	Cc      StringOrArray `json:"cc,omitempty"`
}

// IncomingActivity is the shape used to decode an arbitrary inbound AP
// envelope: Object is left as json.RawMessage so the dispatcher can inspect
// Type first and only then decode Object into the concrete shape it expects
// (Note, or a bare actor-id string for Follow/Accept/Reject). This matches
// spec.md §9's permitted "string switch on type, parse lazily" dispatch.
type IncomingActivity struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// OrderedCollection is the AP paged-collection envelope used for followers/
// following/outbox responses.
type OrderedCollection struct {
	Context      interface{}   `json:"@context,omitempty"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	TotalItems   int           `json:"totalItems"`
	First        string        `json:"first,omitempty"`
	OrderedItems []interface{} `json:"orderedItems,omitempty"`
}

// WebFingerLink is one rel/type/href triple in a WebFinger JRD.
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// WebFingerResponse is the JRD document returned by
// /.well-known/webfinger?resource=acct:user@host.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Links   []WebFingerLink `json:"links"`
}

// WithContext wraps any activity/object value with the standard AP context,
// mirroring the teacher's WithContext helper.
func WithContext(v interface{}) map[string]interface{} {
	b, _ := json.Marshal(v)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	m["@context"] = DefaultContext
	return m
}
