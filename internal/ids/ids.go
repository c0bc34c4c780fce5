// Package ids mints bridge-owned URLs and identifiers. All functions here
// are pure given their inputs; the only nondeterminism is UUID generation,
// isolated to NewID.
package ids

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a fresh UUIDv7 string, used for every bridge-created row id
// so that ids sort in creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/entropy source is broken;
		// fall back to a random v4 rather than panicking in a hot path.
		return uuid.NewString()
	}
	return id.String()
}

// ActorURL is the bridge-minted AP actor URL for a local or materialized user row.
func ActorURL(domain, userID string) string {
	return fmt.Sprintf("https://%s/apbridge/user/%s", domain, userID)
}

// ObjectURL is the bridge-minted AP object URL for a post row.
func ObjectURL(domain, postID string) string {
	return fmt.Sprintf("https://%s/apbridge/object/%s", domain, postID)
}

// CreateActivityURL is the bridge-minted Create activity URL. The native
// note URL is embedded base64url-encoded so the activity is reconstructible
// from the URL alone.
func CreateActivityURL(domain, postID, nativeNoteURL string) string {
	b64 := base64.RawURLEncoding.EncodeToString([]byte(nativeNoteURL))
	return fmt.Sprintf("https://%s/apbridge/create/%s/%s", domain, postID, b64)
}

// DecodeCreateActivityNoteURL reverses the base64url encoding performed by
// CreateActivityURL.
func DecodeCreateActivityNoteURL(b64 string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode create activity url: %w", err)
	}
	return string(raw), nil
}

// FollowAcceptURL is the bridge-minted FollowAccept/Accept activity URL.
func FollowAcceptURL(domain, followID string) string {
	return fmt.Sprintf("https://%s/apbridge/follow/%s", domain, followID)
}

// FollowRequestURL is the bridge-minted Follow activity URL.
func FollowRequestURL(domain, followID string) string {
	return fmt.Sprintf("https://%s/apbridge/follow_request/%s", domain, followID)
}

// InboxURL is the bridge-minted inbox URL for a local or materialized user.
func InboxURL(domain, username string) string {
	return fmt.Sprintf("https://%s/%s/inbox", domain, username)
}

// VPCollectionURL mints a bridge-owned Versia collection URL (outbox,
// followers, following, featured, likes, dislikes) for a user row, matching
// original_source's versia_user_from_db collection URL pattern.
func VPCollectionURL(domain, collection, userID string) string {
	return fmt.Sprintf("https://%s/apbridge/versia/%s/%s", domain, collection, userID)
}

// VPObjectURL is the bridge-minted Versia note URL.
func VPObjectURL(domain, postID string) string {
	return fmt.Sprintf("https://%s/apbridge/versia/object/%s", domain, postID)
}
