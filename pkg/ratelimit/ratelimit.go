// Package ratelimit throttles run submissions per client.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client key
type Limiter struct {
	clients map[string]*entry
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	now     func() time.Time
}

// NewLimiter creates a limiter allowing rps sustained requests per second
// and bursts of up to burst requests for each key
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		clients: make(map[string]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = l.now()
	return e.limiter
}

// Allow reports whether a request from key may proceed now
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Cleanup forgets clients not seen within maxAge and returns how many were removed
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for key, e := range l.clients {
		if e.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the limit with 429 and a Retry-After hint
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := "1"
	if l.rps > 0 {
		retryAfter = strconv.Itoa(max(1, int(1/float64(l.rps))))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(keyFunc(r)) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteIP keys requests by the remote address without its port
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP returns a key function that honours X-Forwarded-For only on
// connections from one of the trusted proxy addresses. The client is the
// rightmost hop that is not itself a trusted proxy. With no trusted proxies
// every request is keyed by RemoteIP.
func ClientIP(trusted ...string) func(*http.Request) string {
	proxies := make(map[string]bool, len(trusted))
	for _, p := range trusted {
		proxies[strings.TrimSpace(p)] = true
	}
	return func(r *http.Request) string {
		remote := RemoteIP(r)
		if !proxies[remote] {
			return remote
		}
		hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !proxies[hop] {
				return hop
			}
		}
		return remote
	}
}
