package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	oltsvc "github.com/ternarybob/fibercore/internal/services/olt"
)

// maxBodyBytes bounds request bodies; command batches are the largest legitimate payload
const maxBodyBytes = 1 << 20

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// DecodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
// An empty body leaves dst untouched.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// StatusFor maps service errors to HTTP status codes
func StatusFor(err error) int {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors), errors.Is(err, oltsvc.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrOltNotFound),
		errors.Is(err, interfaces.ErrOnuNotFound),
		errors.Is(err, interfaces.ErrNotificationNotFound),
		errors.Is(err, interfaces.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, oltsvc.ErrEnqueue):
		return http.StatusServiceUnavailable
	case errors.Is(err, queue.ErrNotRetryable), errors.Is(err, notifications.ErrTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err with the status StatusFor picks
func WriteServiceError(w http.ResponseWriter, err error) error {
	return WriteError(w, StatusFor(err), err.Error())
}

// PathSegments splits the path after prefix into non-empty segments
func PathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// QueryInt reads an integer query parameter, falling back to def when absent or malformed
func QueryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
