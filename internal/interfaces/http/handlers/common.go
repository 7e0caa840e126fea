// Package handlers implements the JSON endpoints of the case lifecycle and
// risk API.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/internal/interfaces/http/middleware"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

// DefaultMaxBodySize bounds request bodies when the handler is given none.
const DefaultMaxBodySize int64 = 1 << 20

// actorFromRequest returns the actor set by the actor middleware.
func actorFromRequest(r *http.Request) string {
	return middleware.ContextGetActorID(r.Context())
}

// decodeJSON reads a single JSON object into dst.  Unknown fields, trailing
// data and oversized bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return errors.Validation("request body is required")
		case stderrors.As(err, &tooLarge):
			return errors.Validation("request body is too large")
		default:
			return errors.Validation("invalid request body").WithDetail(err.Error())
		}
	}
	if dec.More() {
		return errors.Validation("request body must contain a single JSON object")
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeSuccess wraps data in the success envelope.
func writeSuccess[T any](w http.ResponseWriter, r *http.Request, statusCode int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = chimw.GetReqID(r.Context())
	writeJSON(w, statusCode, resp)
}

// writeAppError maps err to its HTTP status and writes the error envelope.
// Server-side failures are logged and reported with the generic message of
// their code.
func writeAppError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown || code == errors.CodeOK {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)

	message := errors.DefaultMessageForCode(code)
	var detail string
	var ae *errors.AppError
	if stderrors.As(err, &ae) && status < http.StatusInternalServerError {
		message = ae.Message
		detail = ae.Detail
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String("code", string(code)),
			logging.Err(err))
	}

	resp := common.APIResponse[any]{
		Success:   false,
		Error:     &common.ErrorDetail{Code: string(code), Message: message, Detail: detail},
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
	}
	writeJSON(w, status, resp)
}
