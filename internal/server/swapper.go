package server

import (
	"net/http"
	"sync"
)

// HandlerSwapper is an http.Handler whose target can be replaced while
// serving. Requests already dispatched finish on the handler they started
// with.
type HandlerSwapper struct {
	mu      sync.RWMutex
	handler http.Handler
}

// NewHandlerSwapper creates a swapper serving h. A nil h serves 503 until
// the first Swap.
func NewHandlerSwapper(h http.Handler) *HandlerSwapper {
	if h == nil {
		h = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "routes not loaded", http.StatusServiceUnavailable)
		})
	}
	return &HandlerSwapper{handler: h}
}

func (s *HandlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	h.ServeHTTP(w, r)
}

// Swap replaces the underlying handler atomically.
func (s *HandlerSwapper) Swap(h http.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}
