package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vllmgate/internal/relay"
	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

var validRoles = map[string]bool{"system": true, "user": true, "assistant": true}

// validateChat checks the OpenAI request shape. Unknown fields are not
// inspected; they are forwarded as sent.
func validateChat(req types.ChatRequest) error {
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range req.Messages {
		if !validRoles[m.Role] {
			return fmt.Errorf("messages[%d].role must be one of system, user, assistant", i)
		}
	}
	if err := checkRange("temperature", req.Temperature, 0, 2); err != nil {
		return err
	}
	if err := checkRange("top_p", req.TopP, 0, 1); err != nil {
		return err
	}
	if err := checkRange("presence_penalty", req.PresencePenalty, -2, 2); err != nil {
		return err
	}
	if err := checkRange("frequency_penalty", req.FrequencyPenalty, -2, 2); err != nil {
		return err
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		return errors.New("max_tokens must be >= 1")
	}
	if req.N != nil && *req.N < 1 {
		return errors.New("n must be >= 1")
	}
	if len(req.Stop) > 0 && string(req.Stop) != "null" {
		var one string
		var many []string
		if json.Unmarshal(req.Stop, &one) != nil && json.Unmarshal(req.Stop, &many) != nil {
			return errors.New("stop must be a string or a list of strings")
		}
	}
	return nil
}

func checkRange(name string, v *float64, lo, hi float64) error {
	if v != nil && (*v < lo || *v > hi) {
		return fmt.Errorf("%s must be between %g and %g", name, lo, hi)
	}
	return nil
}

// chatHandler relays POST /chat to the inference service's chat completion
// endpoint, as an SSE stream or as one buffered JSON object.
func chatHandler(up Upstream, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		var req types.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validateChat(req); err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		rl := newReqLog(r)
		rl.begin("chat", map[string]any{"model": req.Model, "stream": req.Stream})

		uo := upstream.Options{
			Body:    body,
			Header:  http.Header{"Content-Type": []string{"application/json"}},
			Timeout: opts.UpstreamTimeout,
		}
		if req.Stream {
			uo.Timeout = opts.StreamTimeout
			uo.IdleTimeout = opts.StreamTimeout
		}
		ctx, cancel := withShutdown(r.Context())
		defer cancel()
		resp, err := up.RequestWithRetry(ctx, http.MethodPost, up.URL("/chat/completions"), uo)
		if err == nil {
			err = upstream.CheckStatus(resp)
		}
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			rl.end("chat", writeError(w, err, "connect to vLLM server"), err)
			return
		}

		if !req.Stream {
			defer resp.Body.Close()
			var out json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				err = fmt.Errorf("decode upstream response: %w", err)
				rl.end("chat", writeError(w, err, "read vLLM response"), err)
				return
			}
			writeJSON(w, http.StatusOK, out)
			rl.end("chat", http.StatusOK, nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		rc := http.NewResponseController(w)
		_ = rc.Flush()
		frames := 0
		for frame := range relay.Relay(resp.Body, zlog) {
			if _, err := io.WriteString(w, frame); err != nil {
				// client went away; breaking closes the upstream body
				break
			}
			_ = rc.Flush()
			rl.frame(frame)
			frames++
		}
		rl.event(zlog.Debug()).Int("frames", frames).Msg("chat stream closed")
		rl.end("chat", http.StatusOK, nil)
	}
}
