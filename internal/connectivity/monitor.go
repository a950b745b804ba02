// Package connectivity supplies the single boolean "can we reach the remote
// store" signal the entity services and sync engine consume.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waslni/shipsync/internal/metrics"
)

// Probe checks remote reachability. A nil error means online.
type Probe func(ctx context.Context) error

// Monitor polls the probe and tracks a debounced online flag. A state flip
// is accepted only after the new probe result repeats for the debounce
// window, so flapping links cannot trigger overlapping sync cycles.
type Monitor struct {
	probe        Probe
	interval     time.Duration
	debounce     time.Duration
	probeTimeout time.Duration

	// OnOnline runs once per confirmed offline→online transition. The sync
	// engine coalesces overlapping triggers itself, so firing is
	// fire-and-forget here.
	OnOnline func()

	mu             sync.RWMutex
	online         bool
	candidate      bool
	candidateSince time.Time

	log zerolog.Logger
}

// Config tunes the monitor. Zero fields get defaults.
type Config struct {
	Interval     time.Duration // probe period, default 5s
	Debounce     time.Duration // stability window before a flip, default 10s
	ProbeTimeout time.Duration // per-probe timeout, default 3s
}

// NewMonitor builds a monitor that starts offline until the first confirmed
// probe success.
func NewMonitor(probe Probe, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Monitor{
		probe:        probe,
		interval:     cfg.Interval,
		debounce:     cfg.Debounce,
		probeTimeout: cfg.ProbeTimeout,
		log:          log.With().Str("component", "connectivity").Logger(),
	}
}

// IsOnline reports the debounced connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Run polls until ctx is cancelled. An immediate first probe avoids waiting
// a full interval after startup.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.probe(probeCtx)
	cancel()

	m.Observe(err == nil)
}

// Observe feeds one reachability observation into the debouncer. Exposed so
// tests and callers that learn about failures elsewhere (a failed remote
// write, say) can report them without waiting for the next poll.
func (m *Monitor) Observe(online bool) {
	fireOnline := false
	now := time.Now()

	m.mu.Lock()
	switch {
	case online == m.online:
		// Observation agrees with the settled state; drop any candidate.
		m.candidate = m.online
		m.candidateSince = time.Time{}
	case m.candidateSince.IsZero() || m.candidate != online:
		// New disagreement; start the stability window.
		m.candidate = online
		m.candidateSince = now
	case now.Sub(m.candidateSince) >= m.debounce:
		// Disagreement held for the whole window; accept the flip.
		m.online = online
		m.candidateSince = time.Time{}
		fireOnline = online
		if online {
			metrics.Online.Set(1)
		} else {
			metrics.Online.Set(0)
		}
		m.log.Info().Bool("online", online).Msg("connectivity state changed")
	}
	m.mu.Unlock()

	if fireOnline && m.OnOnline != nil {
		m.OnOnline()
	}
}
