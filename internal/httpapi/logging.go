package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer; Nop until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "httpapi").Logger() }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off":
		return LevelOff
	case "error":
		return LevelError
	case "", "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("VLLMGATE_HTTP_LOG_LEVEL"))

// requestLogLevel honors ?log= and X-Log-Level overrides.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// reqLog carries the request-scoped logging decision of one handler.
type reqLog struct {
	lvl   LogLevel
	r     *http.Request
	start time.Time
}

func newReqLog(r *http.Request) *reqLog {
	return &reqLog{lvl: requestLogLevel(r), r: r, start: time.Now()}
}

func (l *reqLog) event(ev *zerolog.Event) *zerolog.Event {
	ev = ev.Str("path", l.r.URL.Path)
	if rid := middleware.GetReqID(l.r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	return ev
}

func (l *reqLog) begin(msg string, fields map[string]any) {
	if l.lvl < LevelInfo {
		return
	}
	l.event(zlog.Info()).Fields(fields).Msg(msg + " start")
}

// end logs the outcome; errors are logged from LevelError up.
func (l *reqLog) end(msg string, status int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		l.event(zlog.Warn()).Int("status", status).Dur("dur", time.Since(l.start)).Err(err).Msg(msg + " end")
	case err == nil && l.lvl >= LevelInfo:
		l.event(zlog.Info()).Int("status", status).Dur("dur", time.Since(l.start)).Msg(msg + " end")
	}
}

// frame logs one relayed SSE frame at debug level.
func (l *reqLog) frame(f string) {
	if l.lvl >= LevelDebug {
		l.event(zlog.Debug()).Str("frame", f).Msg("chat>")
	}
}
