package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiter_Handle429_RetryAfterSeconds(t *testing.T) {
	h := newHostLimiter("example.com")
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"5"}}}

	wait := h.Handle429(resp)

	assert.InDelta(t, 5*time.Second, wait, float64(time.Second))
	assert.True(t, h.IsBlocked())
}

func TestHostLimiter_Handle429_ExponentialBackoff(t *testing.T) {
	h := newHostLimiter("example.com")
	resp := &http.Response{Header: http.Header{}}

	wait1 := h.Handle429(resp)
	wait2 := h.Handle429(resp)

	assert.InDelta(t, time.Second, wait1, float64(200*time.Millisecond))
	assert.InDelta(t, 2*time.Second, wait2, float64(400*time.Millisecond))
}

func TestHostLimiter_ReportSuccess_ResetsCounter(t *testing.T) {
	h := newHostLimiter("example.com")
	resp := &http.Response{Header: http.Header{}}
	h.Handle429(resp)
	h.Handle429(resp)

	h.ReportSuccess()

	wait := h.Handle429(resp)
	assert.InDelta(t, time.Second, wait, float64(200*time.Millisecond))
}

func TestHostLimiter_WaitIfBlocked_NotBlocked(t *testing.T) {
	h := newHostLimiter("example.com")
	start := time.Now()
	waited := h.WaitIfBlocked()
	assert.False(t, waited)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestForHost_SharesLimiterPerHost(t *testing.T) {
	ResetHosts()
	a := ForHost("a.example.com")
	b := ForHost("a.example.com")
	c := ForHost("b.example.com")

	require.Same(t, a, b)
	assert.NotSame(t, a, c)
}
