package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// cachedResponse is a previously produced response held for replay.
type cachedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStore caches responses keyed by the Idempotency-Key
// request header.
type IdempotencyStore interface {
	Check(key string) (*cachedResponse, bool)
	Set(key string, statusCode int, header http.Header, body []byte)
}

// MemoryIdempotencyStore is the in-process implementation with TTL
// eviction.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
	ttl     time.Duration
}

// NewMemoryIdempotencyStore creates the store and starts eviction.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]*cachedResponse),
		ttl:     ttl,
	}
	go s.evict()
	return s
}

func (s *MemoryIdempotencyStore) evict() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-s.ttl)
		s.mu.Lock()
		for k, v := range s.entries {
			if v.CachedAt.Before(cutoff) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

func (s *MemoryIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.entries[key]
	if !ok || time.Since(cached.CachedAt) >= s.ttl {
		return nil, false
	}
	return cached, true
}

func (s *MemoryIdempotencyStore) Set(key string, statusCode int, header http.Header, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cachedResponse{
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
		CachedAt:   time.Now(),
	}
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the cached response for a repeated
// Idempotency-Key on mutating methods, so a retried POST cannot run
// twice. Only 2xx responses are cached; a failed attempt may be
// retried for real.
func IdempotencyMiddleware(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cached, ok := store.Check(key); ok {
				for k, vals := range cached.Header {
					for _, v := range vals {
						w.Header().Set(k, v)
					}
				}
				w.Header().Set("X-Idempotent-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Set(key, capture.statusCode, w.Header().Clone(), capture.body.Bytes())
			}
		})
	}
}
