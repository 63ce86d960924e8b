// Package ratelimit caps how often a single client may call the HTTP API.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// Config holds rate limiter configuration.
type Config struct {
	// Max is the number of requests a client may make per Window.
	Max    int
	Window time.Duration
	// IdleTTL drops counters for clients not seen for this long. Zero uses ten minutes.
	IdleTTL time.Duration
}

type client struct {
	// window admits Max requests and never refills; it is replaced when the
	// client's window expires.
	window   *rate.Limiter
	resetAt  time.Time
	lastSeen time.Time
}

// Limiter keeps a fixed-window request counter per client key.
//
// A client's window opens on its first request and lasts Window. Max requests
// are admitted inside it; later ones are rejected until the window closes.
type Limiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	max       int
	window    time.Duration
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a new Limiter. A non-positive Max or Window disables limiting.
func New(cfg Config) *Limiter {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	if ttl < cfg.Window {
		ttl = cfg.Window
	}
	return &Limiter{
		clients: make(map[string]*client),
		max:     cfg.Max,
		window:  cfg.Window,
		idleTTL: ttl,
		now:     time.Now,
	}
}

func (l *Limiter) disabled() bool {
	return l.max <= 0 || l.window <= 0
}

// Allow counts a request for key. When the client's window is exhausted it
// returns false and the time left until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l.disabled() {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	c, ok := l.clients[key]
	if !ok || !now.Before(c.resetAt) {
		c = &client{
			window:  rate.NewLimiter(0, l.max),
			resetAt: now.Add(l.window),
		}
		l.clients[key] = c
	}
	c.lastSeen = now

	if c.window.AllowN(now, 1) {
		return true, 0
	}
	return false, c.resetAt.Sub(now)
}

// Clients reports how many client windows are tracked.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// sweep must be called with mu held.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.idleTTL {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}
