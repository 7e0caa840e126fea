// Package middleware holds the HTTP middleware chain of the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

// HeaderActorID carries the authenticated user.  Authentication happens
// upstream; the value is trusted as is.
const HeaderActorID = "X-Actor-ID"

const maxActorIDLength = 128

type actorContextKey struct{}

// WithActorID returns a context carrying actorID.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ContextGetActorID returns the actor stored by Actor, or "".
func ContextGetActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorContextKey{}).(string); ok {
		return v
	}
	return ""
}

// Actor copies X-Actor-ID into the request context when present.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(HeaderActorID)); id != "" {
			r = r.WithContext(WithActorID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireActor rejects requests without a usable X-Actor-ID with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ContextGetActorID(r.Context())
		if id == "" {
			id = strings.TrimSpace(r.Header.Get(HeaderActorID))
		}
		switch {
		case id == "":
			writeError(w, r, errors.ErrCodeUnauthorized, HeaderActorID+" header is required")
			return
		case len(id) > maxActorIDLength:
			writeError(w, r, errors.ErrCodeBadRequest, HeaderActorID+" is too long")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActorID(r.Context(), id)))
	})
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, r *http.Request, code errors.ErrorCode, message string) {
	resp := common.APIResponse[any]{
		Success:   false,
		Error:     &common.ErrorDetail{Code: string(code), Message: message},
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(errors.HTTPStatusForCode(code))
	_ = json.NewEncoder(w).Encode(resp)
}
