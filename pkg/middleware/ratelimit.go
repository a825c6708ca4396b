package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shashiranjanraj/filestore/pkg/response"
)

// Limiter gives every client IP a token bucket refilled at max per window,
// with a burst of max.
type Limiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLimiter returns a limiter. max <= 0 disables limiting.
func NewLimiter(max int, per time.Duration) *Limiter {
	l := &Limiter{burst: max, window: per, clients: map[string]*client{}}
	if max > 0 && per > 0 {
		l.limit = rate.Limit(float64(max) / per.Seconds())
	}
	return l
}

// Allow records a request from ip and reports whether it is within budget.
func (l *Limiter) Allow(ip string) bool {
	if l.burst <= 0 {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		l.sweep(now)
		c = &client{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.seen = now
	l.mu.Unlock()

	return c.lim.AllowN(now, 1)
}

// sweep drops clients idle for longer than a window once the table grows.
func (l *Limiter) sweep(now time.Time) {
	if len(l.clients) < 10_000 {
		return
	}
	for ip, c := range l.clients {
		if now.Sub(c.seen) > l.window {
			delete(l.clients, ip)
		}
	}
}

// Middleware rejects requests over budget with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			response.Error(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
