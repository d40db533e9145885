package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase is the connection manager's lifecycle state.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseLive
	PhaseDegraded
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseLive:
		return "live"
	case PhaseDegraded:
		return "degraded"
	case PhaseShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

var (
	// ErrInitTimeout means the transport did not come up within the
	// initialization deadline.
	ErrInitTimeout = errors.New("transport initialization timed out")
	// ErrShuttingDown rejects acquisition during shutdown.
	ErrShuttingDown = errors.New("connection manager is shutting down")
	// ErrProbeTimeout means the liveness probe did not answer in time.
	ErrProbeTimeout = errors.New("liveness probe timed out")
)

// Factory constructs a new transport generation. The report callback must
// be invoked with the given generation for every transport/polling error
// the instance emits, so stale instances cannot poison newer state.
type Factory func(generation uint64, report func(Event)) (Transport, error)

// Options tunes the manager's timeouts and cooldowns. Zero fields fall
// back to the defaults below.
type Options struct {
	InitTimeout      time.Duration
	ProbeTimeout     time.Duration
	LivenessCooldown time.Duration
	InitCooldown     time.Duration
	JitterMax        time.Duration
	ErrorLogSize     int
}

func (o Options) withDefaults() Options {
	if o.InitTimeout <= 0 {
		o.InitTimeout = 30 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	if o.LivenessCooldown <= 0 {
		o.LivenessCooldown = 5 * time.Minute
	}
	if o.InitCooldown <= 0 {
		o.InitCooldown = time.Minute
	}
	if o.ErrorLogSize <= 0 {
		o.ErrorLogSize = 32
	}
	return o
}

// recentErrorWindow bounds how far back the escalation heuristic looks.
const recentErrorWindow = 10 * time.Minute

// pollRestartDelay lets the poller settle between stop and restart during
// soft recovery.
const pollRestartDelay = time.Second

// Status is a point-in-time snapshot of the manager.
type Status struct {
	Phase           string    `json:"phase"`
	Initialized     bool      `json:"isInitialized"`
	Polling         bool      `json:"isPolling"`
	LastCheck       time.Time `json:"lastCheck"`
	LastInitialized time.Time `json:"lastInitialized"`
	ErrorCount      int       `json:"errorCount"`
}

type initAttempt struct {
	done      chan struct{}
	transport Transport
	err       error
}

func (a *initAttempt) wait(ctx context.Context) (Transport, error) {
	select {
	case <-a.done:
		return a.transport, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Manager owns zero-or-one live transport and supervises it: single-flight
// initialization, periodic liveness checks with cooldowns, soft recovery
// with a single escalation to full reinitialization per failure episode,
// and race-free shutdown.
type Manager struct {
	factory Factory
	opts    Options
	log     zerolog.Logger
	errs    *ErrorLog

	mu              sync.Mutex
	phase           Phase
	transport       Transport
	generation      uint64
	inflight        *initAttempt
	checkInFlight   bool
	healthy         bool
	lastCheck       time.Time
	lastInitialized time.Time
	// Soft-recovery attempts since the transport last answered a probe.
	// Not reset by reinitialization alone: a fresh instance that degrades
	// before ever answering a check stays in the same failure episode.
	recoveries int
	jitter     time.Duration
}

func NewManager(factory Factory, opts Options, log zerolog.Logger) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		factory: factory,
		opts:    opts,
		log:     log.With().Str("component", "connection_manager").Logger(),
		errs:    NewErrorLog(opts.ErrorLogSize),
	}
	m.jitter = m.rollJitter()
	return m
}

func (m *Manager) rollJitter() time.Duration {
	if m.opts.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(m.opts.JitterMax)))
}

// Acquire returns the live transport, initializing one if needed.
// Concurrent calls while uninitialized collapse onto a single in-flight
// attempt and all resolve from its outcome.
func (m *Manager) Acquire(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	if m.phase == PhaseShuttingDown {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if m.phase == PhaseLive && m.transport != nil {
		t := m.transport
		m.mu.Unlock()
		return t, nil
	}
	if att := m.inflight; att != nil {
		m.mu.Unlock()
		return att.wait(ctx)
	}

	att := &initAttempt{done: make(chan struct{})}
	m.inflight = att
	m.phase = PhaseInitializing
	old := m.transport
	m.transport = nil
	m.healthy = false
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	go m.initialize(att, gen, old)
	return att.wait(ctx)
}

// construct runs the factory under the initialization deadline.
func (m *Manager) construct(gen uint64) (Transport, error) {
	type result struct {
		t   Transport
		err error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := m.factory(gen, m.HandleEvent)
		ch <- result{t, err}
	}()
	select {
	case r := <-ch:
		return r.t, r.err
	case <-time.After(m.opts.InitTimeout):
		return nil, ErrInitTimeout
	}
}

func (m *Manager) initialize(att *initAttempt, gen uint64, old Transport) {
	if old != nil {
		// The degraded predecessor must stop before its replacement
		// starts polling, or two pollers compete for the same updates.
		old.StopPolling()
		m.log.Info().Uint64("generation", gen).Msg("stopped stale transport before reinitialization")
	}

	t, err := m.construct(gen)
	if err == nil {
		// A transport that cannot answer a probe is not live.
		pctx, cancel := context.WithTimeout(context.Background(), m.opts.ProbeTimeout)
		err = t.Probe(pctx)
		cancel()
		if err != nil {
			err = fmt.Errorf("post-construction probe: %w", err)
			t = nil
		}
	}

	m.mu.Lock()
	defer func() {
		m.inflight = nil
		m.mu.Unlock()
		close(att.done)
	}()

	if err != nil {
		att.err = err
		m.errs.Append(ErrorInit, err)
		m.healthy = false
		if m.phase != PhaseShuttingDown {
			m.phase = PhaseUninitialized
		}
		m.log.Error().Err(err).Uint64("generation", gen).Msg("transport initialization failed")
		return
	}
	if m.phase == PhaseShuttingDown {
		// Shutdown won the race; hand the instance to no one. It never
		// started polling, so dropping it is enough.
		att.err = ErrShuttingDown
		m.log.Info().Uint64("generation", gen).Msg("initialization settled during shutdown, discarding transport")
		return
	}

	t.StartPolling()
	m.transport = t
	att.transport = t
	m.phase = PhaseLive
	m.healthy = true
	now := time.Now()
	m.lastInitialized = now
	m.lastCheck = now
	m.log.Info().Uint64("generation", gen).Msg("transport initialized and polling")
}

// HandleEvent feeds a transport/polling error event into the state
// machine. Events from an older generation are ignored.
func (m *Manager) HandleEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Generation != m.generation {
		m.log.Debug().
			Uint64("event_generation", ev.Generation).
			Uint64("current_generation", m.generation).
			Msg("dropping stale transport event")
		return
	}

	kind := ErrorTransport
	if ev.Kind == EventPollingError {
		kind = ErrorPolling
	}
	m.errs.Append(kind, ev.Err)
	m.healthy = false
	m.lastCheck = time.Now()
	if m.phase == PhaseLive {
		m.phase = PhaseDegraded
	}
	m.log.Warn().Err(ev.Err).Str("kind", string(kind)).Msg("transport reported an error")
}

// CheckLiveness probes the transport and drives recovery. It returns the
// resulting health verdict. Checks are skipped, reporting the cached
// state, while an initialization is in flight, inside the cooldown
// window after the previous check, while the connection is live and
// healthy, and inside the post-initialization cooldown.
func (m *Manager) CheckLiveness(ctx context.Context) bool {
	m.mu.Lock()
	if m.phase == PhaseShuttingDown {
		m.mu.Unlock()
		return false
	}
	if m.inflight != nil {
		m.mu.Unlock()
		return true
	}
	if m.checkInFlight {
		h := m.healthy
		m.mu.Unlock()
		return h
	}
	now := time.Now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.opts.LivenessCooldown+m.jitter {
		h := m.healthy
		m.mu.Unlock()
		return h
	}
	if m.phase == PhaseLive && m.healthy {
		m.mu.Unlock()
		return true
	}
	if !m.lastInitialized.IsZero() && now.Sub(m.lastInitialized) < m.opts.InitCooldown {
		h := m.healthy
		m.mu.Unlock()
		return h
	}

	if m.transport == nil {
		// Nothing to probe: a failed check on an uninitialized manager
		// triggers initialization.
		m.mu.Unlock()
		_, err := m.Acquire(ctx)
		return err == nil
	}

	m.checkInFlight = true
	t := m.transport
	gen := m.generation
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.checkInFlight = false
		m.mu.Unlock()
	}()

	if err := m.probe(ctx, t); err == nil {
		m.markHealthy(gen)
		return true
	} else {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return false
		}
		m.errs.Append(ErrorHealthCheck, err)
		m.healthy = false
		m.lastCheck = time.Now()
		if m.phase == PhaseLive {
			m.phase = PhaseDegraded
		}
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("liveness probe failed")
	}

	return m.recover(ctx, t, gen)
}

func (m *Manager) probe(ctx context.Context, t Transport) error {
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	err := t.Probe(pctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrProbeTimeout
	}
	return err
}

// markHealthy records a successful probe for the given generation.
func (m *Manager) markHealthy(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.phase == PhaseShuttingDown {
		return
	}
	m.healthy = true
	m.phase = PhaseLive
	m.lastCheck = time.Now()
	m.recoveries = 0
	m.jitter = m.rollJitter()
}

// recover attempts a soft restart of the polling loop. The first soft
// failure of an episode escalates to a full reinitialization when the
// error log shows repeated trouble; a second soft failure after that is
// terminal for the cycle, leaving the manager degraded.
func (m *Manager) recover(ctx context.Context, t Transport, gen uint64) bool {
	m.mu.Lock()
	if gen != m.generation || m.phase == PhaseShuttingDown {
		m.mu.Unlock()
		return false
	}
	m.recoveries++
	attempt := m.recoveries
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Msg("attempting soft recovery")
	t.StopPolling()
	time.Sleep(pollRestartDelay)

	m.mu.Lock()
	if gen != m.generation || m.phase == PhaseShuttingDown {
		// Ownership moved on while the poller was settling; do not
		// restart an instance the manager no longer holds.
		m.mu.Unlock()
		return false
	}
	t.StartPolling()
	m.mu.Unlock()

	if err := m.probe(ctx, t); err == nil {
		m.markHealthy(gen)
		m.log.Info().Msg("soft recovery succeeded")
		return true
	} else {
		m.errs.Append(ErrorRecovery, err)
		m.log.Warn().Err(err).Int("attempt", attempt).Msg("soft recovery failed")
	}

	if attempt == 1 && m.errs.RecentCount("", recentErrorWindow) >= 2 {
		m.log.Info().Msg("escalating to full reinitialization")
		m.mu.Lock()
		if gen != m.generation || m.phase == PhaseShuttingDown {
			m.mu.Unlock()
			return false
		}
		m.transport = nil
		m.healthy = false
		m.phase = PhaseUninitialized
		m.generation++
		m.mu.Unlock()

		t.StopPolling()
		if _, err := m.Acquire(ctx); err != nil {
			m.log.Error().Err(err).Msg("reinitialization failed")
			return false
		}
		return true
	}

	m.mu.Lock()
	if gen == m.generation && m.phase != PhaseShuttingDown {
		m.phase = PhaseDegraded
		m.healthy = false
	}
	m.mu.Unlock()
	m.log.Warn().Msg("recovery exhausted for this check cycle")
	return false
}

// Shutdown stops the delivery loop and releases the instance. A shutdown
// arriving mid-initialization waits for that attempt to settle, then
// tears down whatever it produced.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.phase == PhaseShuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.phase = PhaseShuttingDown
	att := m.inflight
	m.mu.Unlock()

	if att != nil {
		select {
		case <-att.done:
		case <-ctx.Done():
			// The caller gave up, but the teardown still has to happen
			// or every later Acquire would fail with ErrShuttingDown.
			go func() {
				<-att.done
				m.teardown()
			}()
			return ctx.Err()
		}
	}

	m.teardown()
	return nil
}

func (m *Manager) teardown() {
	m.mu.Lock()
	t := m.transport
	m.transport = nil
	m.healthy = false
	m.generation++
	m.mu.Unlock()

	if t != nil {
		t.StopPolling()
	}

	m.mu.Lock()
	m.phase = PhaseUninitialized
	m.mu.Unlock()
	m.log.Info().Msg("transport stopped and released")
}

// Status returns a snapshot for the health surface.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Phase:           m.phase.String(),
		Initialized:     m.transport != nil,
		Polling:         m.transport != nil && m.transport.Polling(),
		LastCheck:       m.lastCheck,
		LastInitialized: m.lastInitialized,
		ErrorCount:      m.errs.Len(),
	}
}

// Errors exposes the bounded error log.
func (m *Manager) Errors() *ErrorLog {
	return m.errs
}
