package httputil

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"
)

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			if originsSet[origin] || originsSet["*"] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

// ActorIDKey is the context key the acting user's ID is stored under.
const ActorIDKey contextKey = "actor_id"

// ActorHeader carries the selected-user identity. There is no credential
// check: the deployment fronts this service with its own access control
// and the header only names who acts.
const ActorHeader = "X-User-ID"

// ActorMiddleware stores the selected-user identity from the request
// header into the context. Requests without the header pass through;
// handlers that need an actor reject them individually.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorID := r.Header.Get(ActorHeader); actorID != "" {
			ctx := context.WithValue(r.Context(), ActorIDKey, actorID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// ActorID extracts the acting user's ID from context.
func ActorID(ctx context.Context) string {
	if id, ok := ctx.Value(ActorIDKey).(string); ok {
		return id
	}
	return ""
}

// RateLimitMiddleware applies a global token-bucket limit to all requests.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
