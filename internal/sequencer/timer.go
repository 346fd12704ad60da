package sequencer

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"microfeed/internal/affinity"
)

// DefaultGapTimeout bounds how long a gap may stay open before the window is
// retired. A policy, not a correctness guarantee: the effective timeout is
// imprecise by up to one sleep granularity.
const DefaultGapTimeout = 5 * time.Millisecond

// TimerConfig tunes the gap timer thread. CPU of -1 disables pinning.
type TimerConfig struct {
	Timeout       time.Duration
	CPU           int
	RaisePriority bool
}

// Timer is the dedicated gap-timeout thread. It watches the sequencer's gap
// flag and, once a gap has been open for the timeout, raises the gapTimeout
// flag. It never reads gapStart and never mutates window state; the ingress
// goroutine performs the actual retirement.
type Timer struct {
	seq     *Sequencer
	cfg     TimerConfig
	logger  *zap.Logger
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewTimer builds a gap timer for the given sequencer. A zero timeout means
// DefaultGapTimeout.
func NewTimer(seq *Sequencer, cfg TimerConfig, logger *zap.Logger) *Timer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGapTimeout
	}
	return &Timer{
		seq:    seq,
		cfg:    cfg,
		logger: logger.Named("gap_timer"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the timer goroutine.
func (t *Timer) Start() {
	t.started = true
	t.logger.Info("Gap timer started", zap.Duration("timeout", t.cfg.Timeout))
	go t.run()
}

// Stop requests shutdown and joins the timer goroutine. A no-op if the timer
// never started.
func (t *Timer) Stop() {
	if !t.started {
		return
	}
	t.started = false
	close(t.stop)
	<-t.done
	t.logger.Info("Gap timer stopped")
}

func (t *Timer) run() {
	defer close(t.done)

	if t.cfg.CPU >= 0 {
		runtime.LockOSThread()
		if err := affinity.Pin(t.cfg.CPU); err != nil {
			t.logger.Warn("Failed to pin timer thread", zap.Error(err))
		}
	}
	if t.cfg.RaisePriority {
		if err := affinity.RaisePriority(); err != nil {
			t.logger.Warn("Failed to raise timer priority", zap.Error(err))
		}
	}

	// Re-check interval while no gap is open. Offloading the clock to this
	// goroutine keeps time checks out of the ingress hot path.
	idle := t.cfg.Timeout / 10
	if idle <= 0 {
		idle = time.Millisecond
	}

	for {
		if t.seq.GapOpen() {
			if !t.sleep(t.cfg.Timeout) {
				return
			}
			t.seq.RaiseGapTimeout()
		} else {
			if !t.sleep(idle) {
				return
			}
		}
	}
}

// sleep waits for d, returning false if the timer was stopped meanwhile.
func (t *Timer) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.stop:
		return false
	case <-timer.C:
		return true
	}
}
