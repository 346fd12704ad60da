// Package sequencer classifies record sequence numbers against a sliding
// window: in-order, duplicate or out-of-order, with gap tracking and
// timeout-driven retirement.
package sequencer

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
	"time"
)

// ErrWindowExceeded reports highestSeq-nextSeq >= window. Either the feed is
// grossly misbehaving or the window is misconfigured; classification state
// can no longer be trusted, so the ingress loop must terminate the process
// with a diagnostic instead of silently corrupting the bitmap.
var ErrWindowExceeded = errors.New("sequencer window exceeded")

// DefaultWindow is the default bitmap capacity (2^23 slots).
const DefaultWindow = 1 << 23

// Stats is a snapshot of the sequencer counters, readable from any
// goroutine. Reads are relaxed; observers accept best-effort values.
type Stats struct {
	Parsed     uint64 `json:"parsed"`
	Duplicates uint64 `json:"duplicates"`
	OutOfOrder uint64 `json:"out_of_order"`
	Lost       uint64 `json:"lost"`
	NextSeq    uint32 `json:"next_seq"`
	HighestSeq uint32 `json:"highest_seq"`
	GapExists  bool   `json:"gap_exists"`
}

// GapOpenedFunc is invoked on the ingress goroutine when a gap first opens.
type GapOpenedFunc func(expected, received uint32)

// GapRetiredFunc is invoked on the ingress goroutine after a timed-out gap is
// retired.
type GapRetiredFunc func(from, to uint32, lost uint64, openFor time.Duration)

// Sequencer holds the sliding-window state. All window mutation happens on
// the ingress goroutine; the gap timer only reads gapExists and sets
// gapTimeout, and observers only load the atomic counters. The struct is
// padded so the hot fields do not share a cache line with neighbours.
type Sequencer struct {
	_ [64]byte

	nextSeq    atomic.Uint32
	highestSeq atomic.Uint32
	gapExists  atomic.Bool
	gapTimeout atomic.Bool

	parsed     atomic.Uint64
	duplicates atomic.Uint64
	outOfOrder atomic.Uint64
	lost       atomic.Uint64

	// gapStart is touched only by the ingress goroutine.
	gapStart time.Time

	// seen is indexed by seq&mask. Bit set means the sequence number was
	// observed and not yet retired. Only the ingress goroutine reads or
	// writes it, so the slots are plain bytes.
	seen []byte
	mask uint32

	onGapOpened  GapOpenedFunc
	onGapRetired GapRetiredFunc

	_ [64]byte
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithGapOpened registers the gap-opened callback.
func WithGapOpened(fn GapOpenedFunc) Option {
	return func(s *Sequencer) { s.onGapOpened = fn }
}

// WithGapRetired registers the gap-retired callback.
func WithGapRetired(fn GapRetiredFunc) Option {
	return func(s *Sequencer) { s.onGapRetired = fn }
}

// New builds a sequencer with the given window capacity, which must be a
// power of two.
func New(window uint32, opts ...Option) (*Sequencer, error) {
	if window == 0 || bits.OnesCount32(window) != 1 {
		return nil, fmt.Errorf("window size %d is not a power of two", window)
	}
	s := &Sequencer{
		seen: make([]byte, window),
		mask: window - 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Window reports the bitmap capacity.
func (s *Sequencer) Window() uint32 { return s.mask + 1 }

// Observe classifies one sequence number. Must only be called from the
// ingress goroutine. A pending gap timeout is reconciled before the new
// number is classified, so a record arriving after the timer fired sees the
// window already jumped past the retired gap.
func (s *Sequencer) Observe(seq uint32) error {
	if s.gapTimeout.Load() {
		s.retire()
	}

	n := s.nextSeq.Load()
	if n == 0 {
		// Pristine start: bootstrap the window origin at the first
		// sequence number seen.
		s.nextSeq.Store(seq)
		n = seq
	}
	if seq > s.highestSeq.Load() {
		s.highestSeq.Store(seq)
	}
	// After a drain nextSeq may sit one past highestSeq, so guard the
	// subtraction against wrapping.
	h := s.highestSeq.Load()
	if h > n && h-n >= s.Window() {
		return fmt.Errorf("%w: nextSeq=%d highestSeq=%d window=%d", ErrWindowExceeded, n, h, s.Window())
	}

	switch {
	case seq < n:
		// Behind the window origin: already parsed or retired.
		s.duplicates.Add(1)

	case seq == n:
		// In-order. The record retires immediately, so its bit is never
		// left set; the drain below clears the bits of early arrivals
		// that now become contiguous, so no stale bit can survive a
		// full window turn and be misread as a duplicate.
		s.parsed.Add(1)
		n++
		for s.seen[n&s.mask] != 0 {
			s.seen[n&s.mask] = 0
			n++
			s.parsed.Add(1)
		}
		s.nextSeq.Store(n)
		if s.gapExists.Load() && n > s.highestSeq.Load() {
			s.gapExists.Store(false)
		}

	default: // seq > n
		if s.seen[seq&s.mask] != 0 {
			s.duplicates.Add(1)
			return nil
		}
		s.seen[seq&s.mask] = 1
		s.outOfOrder.Add(1)
		if !s.gapExists.Load() {
			s.gapStart = time.Now()
			s.gapExists.Store(true)
			if s.onGapOpened != nil {
				s.onGapOpened(n, seq)
			}
		}
	}
	return nil
}

// MaybeRetire reconciles a pending gap timeout. The ingress loop calls this
// between datagrams so a quiet feed still retires a timed-out gap at the next
// convenient moment.
func (s *Sequencer) MaybeRetire() {
	if s.gapTimeout.Load() {
		s.retire()
	}
}

// retire counts every unfilled slot in [nextSeq, highestSeq] as lost, clears
// the filled ones, and jumps the window origin past the gap. Runs on the
// ingress goroutine only.
func (s *Sequencer) retire() {
	n := s.nextSeq.Load()
	h := s.highestSeq.Load()

	// The gap may have drained between the timer firing and this
	// reconciliation; nothing to retire then.
	if n > h {
		s.gapExists.Store(false)
		s.gapTimeout.Store(false)
		return
	}

	var lost uint64
	for seq := n; seq <= h && seq >= n; seq++ {
		i := seq & s.mask
		if s.seen[i] == 0 {
			lost++
		} else {
			s.seen[i] = 0
		}
	}
	s.lost.Add(lost)

	s.nextSeq.Store(h + 1)
	s.gapExists.Store(false)
	s.gapTimeout.Store(false)

	if s.onGapRetired != nil {
		s.onGapRetired(n, h, lost, time.Since(s.gapStart))
	}
}

// GapOpen reports whether a gap is currently open. Read by the timer
// goroutine.
func (s *Sequencer) GapOpen() bool { return s.gapExists.Load() }

// RaiseGapTimeout requests a retirement at the ingress loop's next
// convenient moment. Called by the timer goroutine; it never mutates window
// state itself.
func (s *Sequencer) RaiseGapTimeout() { s.gapTimeout.Store(true) }

// Snapshot returns a best-effort view of the counters and window edges.
func (s *Sequencer) Snapshot() Stats {
	return Stats{
		Parsed:     s.parsed.Load(),
		Duplicates: s.duplicates.Load(),
		OutOfOrder: s.outOfOrder.Load(),
		Lost:       s.lost.Load(),
		NextSeq:    s.nextSeq.Load(),
		HighestSeq: s.highestSeq.Load(),
		GapExists:  s.gapExists.Load(),
	}
}
