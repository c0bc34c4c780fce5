package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/ids"
	"github.com/versia-pub/activitypub/internal/mapper"
)

const maxInboxBodyBytes = 1 << 20 // 1MB

// handleAPActor serves the AP actor document for the bridge's single
// administratively-configured local user (spec.md §6's "AP actor document
// for local user").
func (s *Server) handleAPActor(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	u, err := s.store.FindLocalUserByUsername(username)
	if err != nil {
		writeErr(w, err)
		return
	}

	actor, err := mapper.ActorToAP(s.cfg.APIDomain, u)
	if err != nil {
		writeErr(w, err)
		return
	}
	apResponse(w, withContext(actor))
}

// handleAPUserByID serves the AP actor document for any local or
// bridge-materialized user row, by id (spec.md §6).
func (s *Server) handleAPUserByID(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	u, err := s.store.FindUserByID(userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	actor, err := mapper.ActorToAP(s.cfg.APIDomain, u)
	if err != nil {
		writeErr(w, err)
		return
	}
	apResponse(w, withContext(actor))
}

// handleAPObject serves the AP Note document for a post row, by id
// (spec.md §6).
func (s *Server) handleAPObject(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "post_id")
	p, err := s.store.FindPostByID(postID)
	if err != nil {
		writeErr(w, err)
		return
	}
	creator, err := s.store.FindUserByID(p.Creator)
	if err != nil {
		writeErr(w, err)
		return
	}
	note, err := mapper.NoteToAP(s.cfg.APIDomain, p, creator, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	apResponse(w, withContext(note))
}

// handleAPCreateActivity reconstructs the Create activity wrapping a post's
// AP Note document from its bridge-minted URL, which embeds the native note
// URL base64url-encoded (spec.md §6, ids.CreateActivityURL).
func (s *Server) handleAPCreateActivity(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "post_id")
	b64 := chi.URLParam(r, "b64url")

	nativeURL, err := ids.DecodeCreateActivityNoteURL(b64)
	if err != nil {
		writeErr(w, bridgeerr.New(bridgeerr.ParseError, "decode create activity url", err))
		return
	}

	p, err := s.store.FindPostByID(postID)
	if err != nil {
		writeErr(w, err)
		return
	}
	creator, err := s.store.FindUserByID(p.Creator)
	if err != nil {
		writeErr(w, err)
		return
	}
	note, err := mapper.NoteToAP(s.cfg.APIDomain, p, creator, nil)
	if err != nil {
		writeErr(w, err)
		return
	}

	activity := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       ids.CreateActivityURL(s.cfg.APIDomain, p.ID, nativeURL),
		"type":     "Create",
		"actor":    ids.ActorURL(s.cfg.APIDomain, creator.ID),
		"object":   note,
		"to":       note.To,
		"cc":       note.Cc,
	}
	apResponse(w, activity)
}

// handleFollowers serves the AP followers OrderedCollection for a local
// user, reporting the denormalized follower count (spec.md SPEC_FULL.md
// supplemented feature).
func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	u, err := s.store.FindLocalUserByUsername(username)
	if err != nil {
		writeErr(w, err)
		return
	}
	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         ids.VPCollectionURL(s.cfg.APIDomain, "followers", u.ID),
		"type":       "OrderedCollection",
		"totalItems": u.FollowerCount,
	}
	apResponse(w, collection)
}

// handleFollowing serves the AP following OrderedCollection for a local
// user (spec.md SPEC_FULL.md supplemented feature).
func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	u, err := s.store.FindLocalUserByUsername(username)
	if err != nil {
		writeErr(w, err)
		return
	}
	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         ids.VPCollectionURL(s.cfg.APIDomain, "following", u.ID),
		"type":       "OrderedCollection",
		"totalItems": u.FollowingCount,
	}
	apResponse(w, collection)
}

// handleOutbox serves a best-effort outbox listing of the local user's
// recent posts wrapped in Create activities, matching the teacher's
// handleOutbox pagination shape (SPEC_FULL.md supplemented feature; not
// part of the tested core).
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	u, err := s.store.FindLocalUserByUsername(username)
	if err != nil {
		writeErr(w, err)
		return
	}

	const pageSize = 20
	posts, err := s.store.RecentLocalPosts(u.ID, pageSize)
	if err != nil {
		writeErr(w, err)
		return
	}

	outboxURL := ids.VPCollectionURL(s.cfg.APIDomain, "outbox", u.ID)
	if r.URL.Query().Get("page") != "true" {
		collection := map[string]interface{}{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": len(posts),
			"first":      outboxURL + "?page=true",
		}
		apResponse(w, collection)
		return
	}

	items := make([]interface{}, 0, len(posts))
	for _, p := range posts {
		items = append(items, map[string]interface{}{
			"type":   "Create",
			"id":     ids.CreateActivityURL(s.cfg.APIDomain, p.ID, p.URL),
			"actor":  ids.ActorURL(s.cfg.APIDomain, u.ID),
			"object": ids.ObjectURL(s.cfg.APIDomain, p.ID),
		})
	}
	page := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           outboxURL + "?page=true",
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	apResponse(w, page)
}

// handleAPInbox implements spec.md §6's AP inbox and its /apbridge/{username}
// alias: read the body under a size cap, apply the per-origin and global
// inbox concurrency limiter (grounded on the teacher's inboxLimiter/inboxSem
// pair), and dispatch synchronously — the AP inbox never detaches to a
// background task (spec.md §4.5), so the response directly reflects
// dispatch.HandleAPInbox's outcome.
func (s *Server) handleAPInbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBodyBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	origin := actorOrigin(body, r.RemoteAddr)
	if !s.inboxLimiter.acquire(origin) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	defer s.inboxLimiter.release(origin)

	select {
	case s.inboxSem <- struct{}{}:
		defer func() { <-s.inboxSem }()
	default:
		http.Error(w, "inbox overloaded", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	req := r.WithContext(ctx)

	if err := s.dispatcher.HandleAPInbox(req, body); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
