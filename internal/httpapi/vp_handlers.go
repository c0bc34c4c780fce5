package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/versia-pub/activitypub/internal/bridgeerr"
	"github.com/versia-pub/activitypub/internal/mapper"
	"github.com/versia-pub/activitypub/internal/store"
)

// handleVPObject serves the VP Note document for a post row, by id
// (spec.md §6).
func (s *Server) handleVPObject(w http.ResponseWriter, r *http.Request) {
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
	note, err := mapper.NoteToVP(s.cfg.APIDomain, p, creator, s.resolveUserForMapper, nil, s.cfg.VPDomain)
	if err != nil {
		writeErr(w, err)
		return
	}
	vpResponse(w, note)
}

// handleVPQuery implements the "translate a native entity to VP" diagnostic
// endpoint (spec.md §6, SPEC_FULL.md's supplemented feature): given a
// native url (post or user), resolve/materialize it and respond with its VP
// representation, with no persistence side effect beyond the resolver's
// usual materialize-on-miss behavior.
func (s *Server) handleVPQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawURL := q.Get("url")
	if rawURL == "" {
		rawURL = q.Get("user_url")
	}
	if rawURL == "" {
		if username := q.Get("user"); username != "" {
			u, err := s.store.FindLocalUserByUsername(username)
			if err != nil {
				writeErr(w, err)
				return
			}
			rawURL = u.URL
		}
	}
	if rawURL == "" {
		writeErr(w, bridgeerr.New(bridgeerr.ParseError, "one of url, user, user_url is required", nil))
		return
	}

	if p, err := s.store.FindPostByURL(rawURL); err == nil {
		creator, err := s.store.FindUserByID(p.Creator)
		if err != nil {
			writeErr(w, err)
			return
		}
		note, err := mapper.NoteToVP(s.cfg.APIDomain, p, creator, s.resolveUserForMapper, nil, s.cfg.VPDomain)
		if err != nil {
			writeErr(w, err)
			return
		}
		vpResponse(w, note)
		return
	}

	u, err := s.resolver.Resolve(r.Context(), rawURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	vu, err := mapper.ActorToVP(s.cfg.APIDomain, u)
	if err != nil {
		writeErr(w, err)
		return
	}
	vpResponse(w, vu)
}

// resolveUserForMapper adapts the resolver to mapper.UserLookup's shape,
// used when serving VP documents that reference other actors by href.
func (s *Server) resolveUserForMapper(url string) (*store.User, error) {
	return s.resolver.Resolve(context.Background(), url)
}

// handleVPInbox implements spec.md §6's VP inbox: read the body under a
// size cap, apply the same inbox concurrency limiter as the AP side, and
// hand off to dispatch.HandleVPInbox, which itself detaches real handling
// to a background task and returns immediately (spec.md §4.5) — so a
// successful call here always replies 201 "accepted", not "processed".
func (s *Server) handleVPInbox(w http.ResponseWriter, r *http.Request) {
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

	if err := s.dispatcher.HandleVPInbox(body); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
