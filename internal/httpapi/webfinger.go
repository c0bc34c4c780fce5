package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/ids"
)

// webfingerResourceRe implements spec.md §6's webfinger resource regex.
var webfingerResourceRe = regexp.MustCompile(`^acct:([\p{L}0-9_.\-]+)@(.*)$`)

// handleWebFinger implements spec.md §6's webfinger lookup: parse the
// acct:user@host resource, verify the host matches this bridge, and look up
// the named local user. Malformed resources return 400.
func (s *Server) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	m := webfingerResourceRe.FindStringSubmatch(resource)
	if m == nil {
		http.Error(w, "malformed resource", http.StatusBadRequest)
		return
	}
	username, host := m[1], m[2]

	if host != s.cfg.FederatedDomain && host != s.cfg.APIDomain {
		http.NotFound(w, r)
		return
	}

	u, err := s.store.FindLocalUserByUsername(username)
	if err != nil {
		writeErr(w, err)
		return
	}

	actorURL := ids.ActorURL(s.cfg.APIDomain, u.ID)
	resp := apmodel.WebFingerResponse{
		Subject: resource,
		Links: []apmodel.WebFingerLink{
			{Rel: "self", Type: activityJSONType, Href: actorURL},
		},
	}

	w.Header().Set("Content-Type", jrdJSONType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode webfinger response", "error", err)
	}
}
