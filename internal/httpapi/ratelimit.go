package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	perMin  int
	clients map[string]*clientLimiter
	ttl     time.Duration
	lastGC  time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perMinute int) *ipLimiter {
	return &ipLimiter{perMin: perMinute, clients: map[string]*clientLimiter{}, ttl: 10 * time.Minute}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastGC) > l.ttl {
		for k, c := range l.clients {
			if now.Sub(c.seen) > l.ttl {
				delete(l.clients, k)
			}
		}
		l.lastGC = now
	}
	c := l.clients[ip]
	if c == nil {
		c = &clientLimiter{lim: rate.NewLimiter(rate.Limit(float64(l.perMin)/60), l.perMin)}
		l.clients[ip] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

// rateLimit answers 429 once a client IP exceeds perMinute requests.
// RealIP middleware must run first for proxied deployments.
func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newIPLimiter(perMinute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !l.allow(ip, time.Now()) {
				IncrementBackpressure("rate_limit")
				w.Header().Set("Retry-After", strconv.Itoa(max(1, 60/perMinute)))
				writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded: "+strconv.Itoa(perMinute)+" per 1 minute")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
