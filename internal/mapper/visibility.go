// Package mapper implements the bidirectional AP↔VP object mapper
// (spec.md §4.3): pure translation functions for actors and notes,
// including visibility mapping, mention expansion, and content-format
// negotiation. Grounded on original_source/src/versia/conversion.rs for
// exact field semantics and the teacher's internal/ap/transmute.go for the
// Go map-builder style.
package mapper

import (
	"net/url"
	"strings"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/store"
	"github.com/versia-pub/activitypub/internal/vpmodel"
)

// VisibilityToGroup maps an AP to/cc shape to a VP group string, per
// spec.md §4.3's visibility table.
func VisibilityToGroup(to, cc apmodel.StringOrArray) string {
	toHasPublic := containsURI(to, apmodel.PublicURI)
	ccHasPublic := containsURI(cc, apmodel.PublicURI)

	switch {
	case toHasPublic && len(cc) == 0:
		return vpmodel.GroupPublic
	case !toHasPublic && ccHasPublic:
		return vpmodel.GroupUnlisted
	case !toHasPublic && !ccHasPublic && containsFollowersCollection(to):
		return vpmodel.GroupFollowers
	default:
		return "direct"
	}
}

// containsFollowersCollection reports whether any entry of list is a
// followers collection URL (a path segment named "followers"), as opposed
// to a plain actor URL.
func containsFollowersCollection(list apmodel.StringOrArray) bool {
	for _, v := range list {
		if u, err := url.Parse(v); err == nil {
			for _, seg := range strings.Split(u.Path, "/") {
				if seg == "followers" {
					return true
				}
			}
		}
	}
	return false
}

// GroupToAPAddressing projects a VP group (plus explicit mention hrefs)
// to the canonical AP to/cc lists, the inverse of VisibilityToGroup.
func GroupToAPAddressing(group string, followersURL string, mentionHrefs []string) (to, cc []string) {
	switch group {
	case vpmodel.GroupPublic:
		to = append([]string{apmodel.PublicURI, followersURL}, mentionHrefs...)
	case vpmodel.GroupUnlisted:
		to = append([]string{followersURL}, mentionHrefs...)
		cc = []string{apmodel.PublicURI}
	case vpmodel.GroupFollowers:
		to = append([]string{followersURL}, mentionHrefs...)
	default: // direct, or any unrecognized group
		to = append([]string{}, mentionHrefs...)
	}
	return to, cc
}

// VisibilityToStoreVisibility maps an AP to/cc shape directly to the store's
// four-string visibility enum (spec.md §3's invariant), used when persisting
// an inbound AP Note.
func VisibilityToStoreVisibility(to, cc apmodel.StringOrArray) string {
	switch VisibilityToGroup(to, cc) {
	case vpmodel.GroupPublic:
		return store.VisibilityPublic
	case vpmodel.GroupUnlisted:
		return store.VisibilityUnlisted
	case vpmodel.GroupFollowers:
		return store.VisibilityFollowers
	default:
		return store.VisibilityDirect
	}
}

// StoreVisibilityToGroup maps a stored visibility string to a VP group,
// defaulting unrecognized/empty values to "public" per spec.md §8's boundary
// behavior ("VP Note whose visibility is absent defaults to public").
func StoreVisibilityToGroup(visibility string) string {
	switch visibility {
	case store.VisibilityPublic:
		return vpmodel.GroupPublic
	case store.VisibilityUnlisted:
		return vpmodel.GroupUnlisted
	case store.VisibilityFollowers:
		return vpmodel.GroupFollowers
	case store.VisibilityDirect:
		return "direct"
	default:
		return vpmodel.GroupPublic
	}
}

func containsURI(list apmodel.StringOrArray, uri string) bool {
	for _, v := range list {
		if v == uri {
			return true
		}
	}
	return false
}
