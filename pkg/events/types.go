// Package events defines the integrity events the feed handler publishes to
// downstream observers (websocket clients, redis subscribers). Events are
// emitted off the hot path; the sequencer counters never depend on a sink.
package events

import "time"

// Event is the shape the publishers consume.
type Event interface {
	GetEventType() string
	GetTimestamp() time.Time
}

// GapOpened is emitted when the sequencer transitions from NO_GAP to
// GAP_OPEN: a record arrived ahead of the expected sequence number.
type GapOpened struct {
	ExpectedSeq uint32    `json:"expected_seq"`
	ReceivedSeq uint32    `json:"received_seq"`
	GapSize     uint32    `json:"gap_size"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *GapOpened) GetEventType() string    { return "gap_opened" }
func (e *GapOpened) GetTimestamp() time.Time { return e.Timestamp }

// GapRetired is emitted after a timed-out gap is retired: every unfilled
// slot in [FromSeq, ToSeq] was counted as lost and the window jumped past
// the gap.
type GapRetired struct {
	FromSeq   uint32    `json:"from_seq"`
	ToSeq     uint32    `json:"to_seq"`
	Lost      uint64    `json:"lost"`
	OpenForMS float64   `json:"open_for_ms"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *GapRetired) GetEventType() string    { return "gap_retired" }
func (e *GapRetired) GetTimestamp() time.Time { return e.Timestamp }

// FeedStats is the periodic counter snapshot published by the stats
// reporter.
type FeedStats struct {
	Parsed     uint64    `json:"parsed"`
	Duplicates uint64    `json:"duplicates"`
	OutOfOrder uint64    `json:"out_of_order"`
	Lost       uint64    `json:"lost"`
	NextSeq    uint32    `json:"next_seq"`
	HighestSeq uint32    `json:"highest_seq"`
	GapExists  bool      `json:"gap_exists"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *FeedStats) GetEventType() string    { return "stats" }
func (e *FeedStats) GetTimestamp() time.Time { return e.Timestamp }
