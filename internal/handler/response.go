// Package handler implements the library's REST surface on top of the
// service layer. Each handler struct owns one area (books, copies, users,
// loans, notifications, requests, reports, admin) and registers its routes on
// a chi.Router.
//
// RESPONSE ENVELOPE:
// Every response is a JSON object with a "success" flag:
//
//	{"success": true, "message": "Book added", "book": {...}}
//	{"success": false, "error": "not_found", "message": "book not found with id b1"}
//
// The status code mirrors the error kind: validation 400, forbidden 403,
// not found 404, conflict 409, anything else 500.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/validation"
)

// maxBodyBytes caps request bodies. The largest legitimate body is a book
// description.
const maxBodyBytes = 1 << 20

// envelope is the payload merged into a success response.
type envelope map[string]any

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sets headers and status, then encodes data. Headers cannot change
// once the body has started, so the order matters.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeOK sends {"success": true, "message": message, ...payload}.
func writeOK(w http.ResponseWriter, status int, message string, payload envelope) {
	body := envelope{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func statusFor(kind string) int {
	switch kind {
	case apperror.CodeValidation:
		return http.StatusBadRequest
	case apperror.CodeForbidden:
		return http.StatusForbidden
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and the failure envelope. Internal and
// untyped errors are logged in full and reach the client only as a fixed
// message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperror.Kind(err)
	status := statusFor(kind)

	resp := ErrorResponse{
		Error:   kind,
		Message: apperror.PublicMessage(err),
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && kind == apperror.CodeValidation {
		resp.Field = appErr.Field
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into dst and validates it with its `validate`
// tags. Malformed, oversized and missing bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apperror.ValidationFailed("body", "request body is required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.ValidationFailed("body", "request body is too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body")
		}
	}
	return validation.Struct(dst)
}

// decodeOptionalJSON is decodeJSON for routes where the body may be omitted
// (DELETE with query parameters).
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, dst)
}

// pathCopyID parses a copy id URL parameter.
func pathCopyID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.ValidationFailed(name, name+" must be a positive integer")
	}
	return id, nil
}

// actingUID returns the uid a request acts for: the explicit one from the
// body or query when given, otherwise the authenticated caller.
func actingUID(r *http.Request, explicit string) (string, error) {
	if uid := strings.TrimSpace(explicit); uid != "" {
		return uid, nil
	}
	if uid, ok := auth.UIDFromContext(r.Context()); ok {
		return uid, nil
	}
	return "", apperror.ValidationFailed("uid", "uid is required")
}
