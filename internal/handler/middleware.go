package handler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pdf-workbench/internal/domain"
	apperrors "pdf-workbench/pkg/errors"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = 1024

	cleanupPath = "/api/v1/cleanup"
)

// Page-close beacons cannot set the session header and must always be answered.
var unthrottledPaths = map[string]bool{
	cleanupPath: true,
}

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SessionMiddleware attaches the caller's session id to the request context
// and applies a token bucket per session.
type SessionMiddleware struct {
	rps    rate.Limit
	burst  int
	logger domain.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*sessionLimiter
	requests int
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(rps float64, burst int, logger domain.Logger) *SessionMiddleware {
	if burst < 1 {
		burst = 1
	}
	return &SessionMiddleware{
		rps:      rate.Limit(rps),
		burst:    burst,
		logger:   logger,
		now:      time.Now,
		limiters: make(map[string]*sessionLimiter),
	}
}

// Middleware reads the session from the X-Session-ID header or the session_id
// query parameter. Handlers fall back to a body field when neither is set.
func (m *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := strings.TrimSpace(r.Header.Get(SessionHeader))
		if session == "" {
			session = strings.TrimSpace(r.URL.Query().Get("session_id"))
		}

		key := "session:" + session
		if session == "" {
			key = "ip:" + clientIP(r)
		}
		if !unthrottledPaths[r.URL.Path] && !m.allow(key) {
			m.logger.Warn("Rate limit exceeded", "key", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeAppError(w, m.logger, apperrors.NewRateLimitedError("too many requests"))
			return
		}

		if session != "" {
			r = r.WithContext(context.WithValue(r.Context(), sessionContextKey, session))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *SessionMiddleware) allow(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.requests++
	if m.requests%limiterSweepEvery == 0 {
		for k, l := range m.limiters {
			if now.Sub(l.lastSeen) > limiterIdleTTL {
				delete(m.limiters, k)
			}
		}
	}

	l, ok := m.limiters[key]
	if !ok {
		l = &sessionLimiter{limiter: rate.NewLimiter(m.rps, m.burst)}
		m.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// RequestLogger logs one line per request and recovers handler panics.
func RequestLogger(logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			defer func() {
				if p := recover(); p != nil {
					logger.Error("Handler panic", fmt.Errorf("panic: %v", p), "path", r.URL.Path)
					if rec.status == 0 {
						writeError(rec, http.StatusInternalServerError, "internal server error")
					}
				}
				logger.Info("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
					"bytes", rec.bytes, "session_id", r.Header.Get(SessionHeader), "duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
