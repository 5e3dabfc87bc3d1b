package utils

import (
	"net/http"
	"sync"
)

//HeaderRoundTripper adds a fixed set of headers to every request it sends
type HeaderRoundTripper struct {
	mu sync.RWMutex
	http.Header
	rt http.RoundTripper
}

//WithHeader wraps rt, falling back to http.DefaultTransport
func WithHeader(rt http.RoundTripper) *HeaderRoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}

	return &HeaderRoundTripper{Header: make(http.Header), rt: rt}
}

func (h *HeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.Header) == 0 {
		return h.rt.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	for k, v := range h.Header {
		req.Header[k] = v
	}

	return h.rt.RoundTrip(req)
}

func (h *HeaderRoundTripper) Set(k, v string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Header.Set(k, v)
}

func (h *HeaderRoundTripper) Get(k string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.Header.Get(k)
}

func (h *HeaderRoundTripper) Del(k string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Header.Del(k)
}
