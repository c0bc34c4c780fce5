package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/versia-pub/activitypub/internal/apmodel"
	"github.com/versia-pub/activitypub/internal/bridgeerr"
)

func apResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", activityJSONType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode ap response", "error", err)
	}
}

func vpResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode vp response", "error", err)
	}
}

func jsonResponse(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeErr translates an error into an HTTP response, using bridgeerr's
// status mapping when the error carries one and falling back to 500
// otherwise (spec.md §7).
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var be *bridgeerr.Error
	if errors.As(err, &be) {
		status = be.StatusCode()
	}
	http.Error(w, err.Error(), status)
}

func withContext(v interface{}) map[string]interface{} {
	return apmodel.WithContext(v)
}

// actorOrigin derives the per-origin key used by the inbox limiter: the
// actor hostname when it can be read from the raw body, falling back to
// the connecting remote address, matching the teacher's actorOrigin.
func actorOrigin(body []byte, remoteAddr string) string {
	var a struct {
		Actor string `json:"actor"`
	}
	if json.Unmarshal(body, &a) == nil && a.Actor != "" {
		if u, err := url.Parse(a.Actor); err == nil && u.Host != "" {
			return u.Host
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// loggingMiddleware logs each HTTP request, matching the teacher's
// loggingMiddleware.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// corsMiddleware adds permissive CORS headers, matching the teacher's
// corsMiddleware (federation clients fetch these endpoints cross-origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Signature, Digest")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
