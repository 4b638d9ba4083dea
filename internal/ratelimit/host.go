package ratelimit

import (
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surge-downloader/surge/internal/utils"
)

// HostLimiter tracks 429/503 backoff state for one remote host. Every
// download hitting that host shares the same instance, so one throttled
// download backs off the whole host rather than just itself.
type HostLimiter struct {
	Host string

	blockedUntil    atomic.Int64 // unix nanoseconds
	consecutiveHits atomic.Int32
	mu              sync.Mutex
}

func newHostLimiter(host string) *HostLimiter {
	return &HostLimiter{Host: host}
}

// Handle429 records a 429/503 response and returns the duration callers
// should back off, honoring Retry-After when present and falling back to
// exponential backoff (1s, 2s, 4s, ... up to 32s) with ±10% jitter
// otherwise.
func (h *HostLimiter) Handle429(resp *http.Response) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	hits := h.consecutiveHits.Add(1)
	var wait time.Duration

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			wait = time.Duration(seconds) * time.Second
		} else if t, err := http.ParseTime(retryAfter); err == nil {
			wait = time.Until(t)
			if wait < 0 {
				wait = time.Second
			}
		}
	}

	if wait == 0 {
		multiplier := int64(1) << min(int(hits-1), 5)
		wait = time.Duration(multiplier) * time.Second
		if wait > 60*time.Second {
			wait = 60 * time.Second
		}
	}

	wait = addJitter(wait, 0.10)
	h.setBlockedUntil(wait)
	utils.Debug("HostLimiter [%s]: blocked for %v (hit #%d)", h.Host, wait, hits)
	return wait
}

func addJitter(d time.Duration, factor float64) time.Duration {
	if d <= 0 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + jitter))
}

func (h *HostLimiter) setBlockedUntil(d time.Duration) {
	next := time.Now().Add(d).UnixNano()
	for {
		current := h.blockedUntil.Load()
		if next <= current {
			return
		}
		if h.blockedUntil.CompareAndSwap(current, next) {
			return
		}
	}
}

// WaitIfBlocked sleeps until any outstanding backoff expires. Returns true
// if it waited.
func (h *HostLimiter) WaitIfBlocked() bool {
	until := h.blockedUntil.Load()
	if until == 0 {
		return false
	}
	wait := time.Until(time.Unix(0, until))
	if wait <= 0 {
		return false
	}
	time.Sleep(wait)
	return true
}

// IsBlocked reports whether the host is currently in backoff.
func (h *HostLimiter) IsBlocked() bool {
	until := h.blockedUntil.Load()
	return until != 0 && time.Now().UnixNano() < until
}

// ReportSuccess clears the consecutive-hit counter after a clean response.
func (h *HostLimiter) ReportSuccess() {
	if h.consecutiveHits.Load() > 0 {
		h.consecutiveHits.Store(0)
	}
}

// hostManager is the process-wide Host -> HostLimiter registry; every
// download on the same host shares one limiter.
type hostManager struct {
	mu       sync.RWMutex
	limiters map[string]*HostLimiter
}

var global = &hostManager{limiters: make(map[string]*HostLimiter)}

// ForHost returns the shared limiter for host, creating one on first use.
func ForHost(host string) *HostLimiter {
	global.mu.RLock()
	if l, ok := global.limiters[host]; ok {
		global.mu.RUnlock()
		return l
	}
	global.mu.RUnlock()

	global.mu.Lock()
	defer global.mu.Unlock()
	if l, ok := global.limiters[host]; ok {
		return l
	}
	l := newHostLimiter(host)
	global.limiters[host] = l
	return l
}

// ResetHosts clears every tracked host limiter. Intended for tests.
func ResetHosts() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.limiters = make(map[string]*HostLimiter)
}
