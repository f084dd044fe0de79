package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusError is returned by CheckStatus for 4xx/5xx upstream responses.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Detail)
}

// StatusCode maps the upstream status through to the client.
func (e *StatusError) StatusCode() int { return e.Code }

// IsStatusError reports whether err carries an upstream HTTP status.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// CheckStatus returns a *StatusError for responses with status >= 400 and
// drains a bounded prefix of the body into Detail. The body is closed in
// that case.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := extractDetail(b)
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Detail: detail}
}

// extractDetail prefers the "detail" field of a JSON error body, then an
// OpenAI style error.message, then the raw text.
func extractDetail(b []byte) string {
	var body struct {
		Detail any `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil {
		switch d := body.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if enc, err := json.Marshal(d); err == nil {
				return string(enc)
			}
		}
		if body.Error.Message != "" {
			return body.Error.Message
		}
	}
	return strings.TrimSpace(string(b))
}

// IsTimeout reports whether err is a request or dial timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsTransient reports whether err is a connection-level failure worth
// retrying on a fresh connection: refused or reset connections, DNS
// failures, aborted responses and timeouts. HTTP statuses and caller
// cancellation are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || IsStatusError(err) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
