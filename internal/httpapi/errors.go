package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to the HTTP status and message returned to the
// client. what names the upstream action for transport failures.
func statusFor(err error, what string) (int, string) {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		return se.Code, "Upstream error: " + se.Detail
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), he.Error()
	}
	var ue *url.Error
	switch {
	case upstream.IsTimeout(err):
		return http.StatusGatewayTimeout, "Request to vLLM server timed out"
	case upstream.IsTransient(err), errors.As(err, &ue):
		return http.StatusBadGateway, "Failed to " + what + ": " + err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func writeError(w http.ResponseWriter, err error, what string) int {
	code, msg := statusFor(err, what)
	writeJSONError(w, code, msg)
	return code
}
