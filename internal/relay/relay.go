// Package relay turns an upstream server-sent-event body into client-facing
// SSE frames without buffering the response.
package relay

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	dataPrefix = "data: "
	// Sentinel marks the end of an OpenAI-style stream.
	Sentinel = "[DONE]"
)

type errorEvent struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// ErrorFrame renders the synthetic event emitted when the upstream stream
// breaks.
func ErrorFrame(err error) string {
	b, _ := json.Marshal(errorEvent{Error: err.Error(), Type: "stream_error"})
	return dataPrefix + string(b) + "\n\n"
}

// Relay returns a single-pass sequence of SSE frames read from body. Only
// non-empty "data: " lines are forwarded, each followed by a blank line.
// The sequence ends after the [DONE] sentinel, at EOF, or after one error
// frame when reading fails. body is closed exactly once when iteration ends
// for any reason, including the consumer stopping early. Ranging over the
// sequence a second time yields nothing.
func Relay(body io.ReadCloser, log zerolog.Logger) iter.Seq[string] {
	var (
		used      atomic.Bool
		closeOnce sync.Once
	)
	release := func() {
		closeOnce.Do(func() {
			if err := body.Close(); err != nil {
				log.Debug().Err(err).Msg("closing upstream stream body")
			}
		})
	}

	return func(yield func(string) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		defer release()

		r := bufio.NewReader(body)
		for {
			line, err := r.ReadString('\n')
			if line = strings.TrimRight(line, "\r\n"); strings.HasPrefix(line, dataPrefix) {
				if !yield(line + "\n\n") {
					return
				}
				if strings.TrimSpace(strings.TrimPrefix(line, dataPrefix)) == Sentinel {
					return
				}
			}
			if err == nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("upstream stream read failed")
				yield(ErrorFrame(err))
			}
			return
		}
	}
}
