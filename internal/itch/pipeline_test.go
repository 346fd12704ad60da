package itch

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"microfeed/internal/sequencer"
)

// Decoder and sequencer wired together, the way the ingress loop runs them.

func TestPipelineThreeRecordDatagram(t *testing.T) {
	seq, err := sequencer.New(16)
	require.NoError(t, err)
	d := NewDecoder(seq, NewRecordLogger(LevelOff, io.Discard))

	var payload []byte
	payload = append(payload, encodeTrade(TagOrderAdd, 1, 10, 1, 'B', 1, "IBM     ", 1)...)
	payload = append(payload, encodeOrderExecuted(2, 11, 1, 1)...)
	payload = append(payload, encodeSystemEvent(3, 12, EventMarketOpen)...)

	require.NoError(t, d.Decode(payload))

	stats := seq.Snapshot()
	require.Equal(t, uint64(3), stats.Parsed)
	require.Equal(t, uint32(13), stats.NextSeq)
}

func TestPipelineDecodeFailureLeavesSequencerConsistent(t *testing.T) {
	seq, err := sequencer.New(16)
	require.NoError(t, err)
	d := NewDecoder(seq, NewRecordLogger(LevelOff, io.Discard))

	payload := encodeTrade(TagOrderAdd, 1, 10, 1, 'B', 1, "IBM     ", 1)
	payload = append(payload, 'Z')

	err = d.Decode(payload)
	require.ErrorIs(t, err, ErrUnknownTag)

	// Exactly one observation happened; the discarded remainder never
	// reached the sequencer.
	stats := seq.Snapshot()
	require.Equal(t, uint64(1), stats.Parsed)
	require.Equal(t, uint32(11), stats.NextSeq)
}

func TestPipelineWindowExceededPropagates(t *testing.T) {
	seq, err := sequencer.New(16)
	require.NoError(t, err)
	d := NewDecoder(seq, NewRecordLogger(LevelOff, io.Discard))

	var payload []byte
	payload = append(payload, encodeSystemEvent(1, 1, EventMarketOpen)...)
	payload = append(payload, encodeSystemEvent(2, 100, EventMarketOpen)...)

	require.ErrorIs(t, d.Decode(payload), sequencer.ErrWindowExceeded)
}
