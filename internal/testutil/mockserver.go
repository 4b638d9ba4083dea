// Package testutil provides a small HTTP test server used by integration
// tests that exercise range requests, throttling, and interrupted
// downloads without hitting the network.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"
)

// MockServer serves a synthetic file of a fixed size, optionally honoring
// Range requests and adding per-chunk latency to make interruption tests
// deterministic.
type MockServer struct {
	srv           *httptest.Server
	fileSize      int64
	rangeSupport  bool
	latency       time.Duration
}

type Option func(*MockServer)

func WithFileSize(size int64) Option { return func(m *MockServer) { m.fileSize = size } }
func WithRangeSupport(v bool) Option { return func(m *MockServer) { m.rangeSupport = v } }
func WithLatency(d time.Duration) Option { return func(m *MockServer) { m.latency = d } }

// NewMockServer starts a server on an ephemeral local port, applying every
// option in order.
func NewMockServer(opts ...Option) *MockServer {
	m := &MockServer{fileSize: 1024}
	for _, opt := range opts {
		opt(m)
	}

	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	start, end := int64(0), m.fileSize-1
	status := http.StatusOK

	rangeHeader := r.Header.Get("Range")
	if m.rangeSupport && rangeHeader != "" {
		if s, e, ok := parseRange(rangeHeader, m.fileSize); ok {
			start, end = s, e
			status = http.StatusPartialContent
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(m.fileSize, 10))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(m.fileSize, 10))
		if m.rangeSupport {
			w.Header().Set("Accept-Ranges", "bytes")
		}
	}
	w.WriteHeader(status)

	buf := make([]byte, 64*1024)
	remaining := end - start + 1
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return
		}
		remaining -= n
		if m.latency > 0 {
			time.Sleep(m.latency)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func parseRange(header string, total int64) (int64, int64, bool) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end := total - 1
	if parts[1] != "" {
		if e, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			end = e
		}
	}
	if start > end || start < 0 || end >= total {
		return 0, 0, false
	}
	return start, end, true
}

func (m *MockServer) URL() string { return m.srv.URL }
func (m *MockServer) Close()      { m.srv.Close() }
