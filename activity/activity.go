// Package activity watches for user inactivity and terminates the
// session when the idle timeout elapses. A warning fires one window
// before termination so the caller can surface it to the user.
package activity

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the idle-timeout policy.
type Config struct {
	// IdleTimeout is the inactivity span after which the session is
	// terminated.
	IdleTimeout time.Duration
	// WarningWindow is how long before termination the warning fires.
	WarningWindow time.Duration
	// CheckInterval is how often the monitor evaluates idle time.
	CheckInterval time.Duration
	// TouchDebounce suppresses activity signals arriving within this
	// span of the previous one.
	TouchDebounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		WarningWindow: 5 * time.Minute,
		CheckInterval: 60 * time.Second,
		TouchDebounce: time.Second,
	}
}

func (c Config) Validate() error {
	if c.IdleTimeout <= 0 {
		return errors.New("activity: idle timeout must be positive")
	}
	if c.WarningWindow <= 0 || c.WarningWindow >= c.IdleTimeout {
		return errors.New("activity: warning window must be positive and shorter than the idle timeout")
	}
	if c.CheckInterval <= 0 {
		return errors.New("activity: check interval must be positive")
	}
	if c.TouchDebounce < 0 {
		return errors.New("activity: touch debounce must not be negative")
	}
	return nil
}

// Callbacks receive monitor events. Both are invoked from the
// monitor goroutine and must not block.
type Callbacks struct {
	// OnWarning fires once per idle stretch when remaining time drops
	// inside the warning window.
	OnWarning func(remaining time.Duration)
	// OnTimeout fires when the idle timeout elapses. The monitor stops
	// itself before invoking it.
	OnTimeout func()
}

// Monitor tracks the time of the last user activity and runs a
// periodic idle check while started.
type Monitor struct {
	cfg       Config
	logger    zerolog.Logger
	callbacks Callbacks
	clock     func() time.Time

	mu            sync.Mutex
	running       bool
	lastActivity  time.Time
	warningIssued bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	// checkCh lets tests drive the idle check without waiting on the
	// ticker. The reply channel is closed once the check completed.
	checkCh chan chan struct{}
}

func New(cfg Config, logger zerolog.Logger, callbacks Callbacks) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
		clock:     time.Now,
		checkCh:   make(chan chan struct{}),
	}, nil
}

// SetClock replaces the monitor clock. Tests only.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.mu.Lock()
	m.clock = clock
	m.mu.Unlock()
}

// Start begins idle tracking. The activity timestamp is reset so a
// fresh session always gets the full timeout. Starting a running
// monitor is a no-op, logged as a warning.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn().Msg("activity monitor already running")
		return
	}

	m.running = true
	m.lastActivity = m.clock()
	m.warningIssued = false
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.loop(m.stopCh)

	m.logger.Debug().Dur("idle_timeout", m.cfg.IdleTimeout).Msg("activity monitor started")
}

// Stop halts idle tracking. It blocks until the monitor goroutine has
// exited, so no callback fires after Stop returns. That holds even
// when the monitor stopped itself on timeout a moment earlier.
// Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.running = false
	m.stopCh = nil
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	m.wg.Wait()

	m.logger.Debug().Msg("activity monitor stopped")
}

// Touch records user activity, pushing the idle deadline out. Signals
// within the debounce span of the previous one are dropped. A touch
// clears any pending warning.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	now := m.clock()
	if now.Sub(m.lastActivity) < m.cfg.TouchDebounce {
		return
	}

	m.lastActivity = now
	m.warningIssued = false
}

// Running reports whether the monitor is currently tracking activity.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// IdleFor returns the span since the last recorded activity, or zero
// when the monitor is stopped.
func (m *Monitor) IdleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return 0
	}
	return m.clock().Sub(m.lastActivity)
}

func (m *Monitor) loop(stopCh chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		var done chan struct{}
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		case done = <-m.checkCh:
		}

		exit := m.check()
		if done != nil {
			close(done)
		}
		if exit {
			return
		}
	}
}

// check evaluates idle time once. It returns true when the timeout
// fired and the loop should exit.
func (m *Monitor) check() bool {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return true
	}

	idle := m.clock().Sub(m.lastActivity)
	remaining := m.cfg.IdleTimeout - idle

	if remaining <= 0 {
		m.running = false
		m.mu.Unlock()

		m.logger.Warn().
			Bool("security", true).
			Dur("idle", idle).
			Msg("idle timeout reached, terminating session")
		if m.callbacks.OnTimeout != nil {
			m.callbacks.OnTimeout()
		}
		return true
	}

	warn := remaining <= m.cfg.WarningWindow && !m.warningIssued
	if warn {
		m.warningIssued = true
	}
	m.mu.Unlock()

	if warn {
		m.logger.Info().Dur("remaining", remaining).Msg("idle warning issued")
		if m.callbacks.OnWarning != nil {
			m.callbacks.OnWarning(remaining)
		}
	}
	return false
}
