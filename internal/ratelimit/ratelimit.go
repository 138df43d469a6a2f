// Package ratelimit bounds score submissions per originating client.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// cleanupThreshold is the minimum map size before a cleanup pass runs.
	cleanupThreshold = 500
	// maxIdleAge is the duration after which an idle client entry is eligible for cleanup.
	maxIdleAge = 10 * time.Minute
)

type clientEntry struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// Keyed is a per-client fixed-window counter that prunes stale entries
// inline. Each client's window opens on its first submission and admits at
// most maxRequests until the window elapses, so the cap holds no matter how
// the submissions are spaced.
type Keyed struct {
	clients map[string]*clientEntry
	mu      sync.Mutex
	max     int
	window  time.Duration
}

// New creates a Keyed limiter admitting at most maxRequests per window per
// client key.
func New(maxRequests int, window time.Duration) *Keyed {
	return &Keyed{
		clients: make(map[string]*clientEntry),
		max:     maxRequests,
		window:  window,
	}
}

// Allow reports whether the client identified by key may submit now, pruning
// stale entries when the map exceeds cleanupThreshold.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()

	if len(k.clients) > cleanupThreshold {
		cutoff := now.Add(-maxIdleAge)
		for c, e := range k.clients {
			if e.lastSeen.Before(cutoff) {
				delete(k.clients, c)
			}
		}
	}

	e, exists := k.clients[key]
	if !exists {
		e = &clientEntry{}
		k.clients[key] = e
	}
	e.lastSeen = now

	if !exists || now.Sub(e.windowStart) >= k.window {
		e.windowStart = now
		e.count = 0
	}
	if e.count >= k.max {
		return false
	}
	e.count++
	return true
}
