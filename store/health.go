package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Health remembers the outcome of the last reachability check so the
// pipeline does not re-probe the store on every message. A confirmed
// connection is trusted for the cooldown window.
type Health struct {
	pinger   Pinger
	cooldown time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	connected bool
	lastCheck time.Time
}

func NewHealth(p Pinger, cooldown time.Duration, log zerolog.Logger) *Health {
	return &Health{pinger: p, cooldown: cooldown, log: log}
}

// Verify returns nil if the store was confirmed reachable within the
// cooldown window, probing it otherwise.
func (h *Health) Verify(ctx context.Context) error {
	h.mu.Lock()
	if h.connected && time.Since(h.lastCheck) < h.cooldown {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	err := h.pinger.Ping(ctx)

	h.mu.Lock()
	h.lastCheck = time.Now()
	h.connected = err == nil
	h.mu.Unlock()

	if err != nil {
		h.log.Error().Err(err).Msg("store reachability check failed")
		return err
	}
	h.log.Debug().Msg("store reachability confirmed")
	return nil
}

// Status reports the cached connection state and when it was last checked.
func (h *Health) Status() (connected bool, lastCheck time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected, h.lastCheck
}
