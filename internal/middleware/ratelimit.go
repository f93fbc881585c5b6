package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"storefront/internal/model"
)

// RateLimiter hands out a token bucket per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	scope string
	hops  int

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
	now       func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleTTL drops buckets of clients not seen for this long. Idle buckets
// are swept at most once per idleTTL.
const idleTTL = 10 * time.Minute

// NewRateLimiter allows each client perMinute requests per minute with the
// given burst. scope names the limited endpoints in error messages.
func NewRateLimiter(perMinute float64, burst int, scope string) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		scope:   scope,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// TrustProxies keys clients by X-Forwarded-For when hops proxies sit in
// front of the service. Each proxy appends the address it was called from,
// so the client is the entry hops places from the end. Requests with a
// shorter header fall back to the peer address.
func (l *RateLimiter) TrustProxies(hops int) *RateLimiter {
	l.hops = hops
	return l
}

// Middleware rejects over-budget requests with 429 and a Retry-After hint.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := l.reserve(l.clientKey(r))
		if delay := res.DelayFrom(l.now()); delay > 0 {
			res.CancelAt(l.now())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			WriteError(w, r, model.NewRateLimitError(l.scope))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) reserve(key string) *rate.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.ReserveN(now, 1)
}

func (l *RateLimiter) clientKey(r *http.Request) string {
	if l.hops > 0 {
		if ip := forwardedClient(r, l.hops); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedClient(r *http.Request, hops int) string {
	var entries []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(v, ",") {
			entries = append(entries, strings.TrimSpace(part))
		}
	}
	if len(entries) < hops {
		return ""
	}
	ip := entries[len(entries)-hops]
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
