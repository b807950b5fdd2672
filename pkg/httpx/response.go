// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/nicktill/solarlog/pkg/logger"
)

var log atomic.Pointer[logger.Logger]

// SetLogger sets where response encoding failures are reported
func SetLogger(l *logger.Logger) {
	log.Store(l)
}

// RespondJSON writes a JSON response with the given status code and data.
// Data that cannot be encoded becomes a 500 instead of an empty body.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		if l := log.Load(); l != nil {
			l.Warnw("response_encode_failed", "status", status, "err", err)
		}
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{
			Error:   http.StatusText(status),
			Message: "failed to encode response",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with the given status code and message.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
