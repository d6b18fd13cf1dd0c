package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type attemptData struct {
	count        int
	firstAttempt time.Time
}

// rateLimiter counts failed logins per client IP. After captchaAfter
// failures the login form asks for a captcha; after maxAttempts the IP is
// blocked for blockDuration.
type rateLimiter struct {
	sync.Mutex
	attempts map[string]*attemptData
	blocked  map[string]time.Time
	now      func() time.Time
}

const (
	captchaAfter   = 3
	maxAttempts    = 5
	blockDuration  = 15 * time.Minute
	windowDuration = 15 * time.Minute
	maxTracked     = 10000
)

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		attempts: make(map[string]*attemptData),
		blocked:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow returns false if the IP is currently blocked.
func (r *rateLimiter) Allow(ip string) bool {
	r.Lock()
	defer r.Unlock()

	if unblockTime, ok := r.blocked[ip]; ok {
		if r.now().Before(unblockTime) {
			return false
		}
		delete(r.blocked, ip)
		delete(r.attempts, ip)
	}
	return true
}

// Failures is the number of failures recorded for ip inside the window.
func (r *rateLimiter) Failures(ip string) int {
	r.Lock()
	defer r.Unlock()

	data, ok := r.attempts[ip]
	if !ok || r.now().Sub(data.firstAttempt) > windowDuration {
		return 0
	}
	return data.count
}

func (r *rateLimiter) RecordFailure(ip string) {
	r.Lock()
	defer r.Unlock()

	now := r.now()
	if len(r.attempts) > maxTracked {
		for k, v := range r.attempts {
			if now.Sub(v.firstAttempt) > windowDuration {
				delete(r.attempts, k)
			}
		}
	}

	data, exists := r.attempts[ip]
	if !exists || now.Sub(data.firstAttempt) > windowDuration {
		data = &attemptData{firstAttempt: now}
		r.attempts[ip] = data
	}
	data.count++
	if data.count >= maxAttempts {
		r.blocked[ip] = now.Add(blockDuration)
	}
}

// Reset clears the counter for an IP after a successful login.
func (r *rateLimiter) Reset(ip string) {
	r.Lock()
	defer r.Unlock()
	delete(r.attempts, ip)
	delete(r.blocked, ip)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter throttles all requests per client IP with a token bucket.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	swept    time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		swept:    time.Now(),
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.swept) > 5*time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > 10*time.Minute {
				delete(l.visitors, k)
			}
		}
		l.swept = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware answers 429 once an IP runs out of tokens. A non-positive rate
// disables throttling. Static assets are not counted.
func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.rate <= 0 || strings.HasPrefix(r.URL.Path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}
		if !l.get(getClientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
