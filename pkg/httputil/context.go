package httputil

import (
	"encoding/json"
	"net/http"
)

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LogEntryCtxKey  ContextKey = "LogEntry"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	JSONWithType(w, statusCode, "application/json", data)
}

// JSONWithType writes data as JSON using a custom media type, eg
// application/vnd.pgrst.object+json.
func JSONWithType(w http.ResponseWriter, statusCode int, contentType string, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ErrorResponse is the PostgREST error body. Only Message is always present.
type ErrorResponse struct {
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Message string `json:"message"`
}

// Error sends a JSON error body carrying only a message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	ErrorWith(w, statusCode, ErrorResponse{Message: message})
}

// ErrorWith sends a fully populated error body.
func ErrorWith(w http.ResponseWriter, statusCode int, e ErrorResponse) {
	JSON(w, statusCode, e)
}
