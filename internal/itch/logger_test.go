package itch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendClock(t *testing.T) {
	// 09:30:00.000000123 since midnight.
	ns := uint64(9*3600+30*60)*1e9 + 123
	require.Equal(t, "09:30:00.000000123", string(AppendClock(nil, ns)))

	require.Equal(t, "00:00:00.000000000", string(AppendClock(nil, 0)))
	require.Equal(t, "23:59:59.999999999", string(AppendClock(nil, 86400*1e9-1)))
}

func TestVerboseTradeLine(t *testing.T) {
	var out bytes.Buffer
	l := NewRecordLogger(LevelVerbose, &out)

	m := &Trade{
		CommonHeader: CommonHeader{Tag: TagOrderAdd, Timestamp: uint64(9*3600+30*60) * 1e9, SeqNum: 1},
		OrderRef:     77,
		Side:         'B',
		Shares:       500,
		Price:        18250,
	}
	copy(m.Stock[:], "AAPL    ")
	l.Trade(m)

	require.Equal(t, "[09:30:00.000000000] | Order Added: [77]: 500 of $AAPL     to Buy @ 18250\n", out.String())
}

func TestVerboseSystemEventLine(t *testing.T) {
	var out bytes.Buffer
	l := NewRecordLogger(LevelVerbose, &out)

	l.SystemEvent(&SystemEvent{
		CommonHeader: CommonHeader{Tag: TagSystemEvent, Timestamp: 0, SeqNum: 1},
		EventCode:    EventMarketOpen,
	})

	require.Equal(t, "[00:00:00.000000000] | *MARKET OPEN*\n", out.String())
}

func TestRawOrderExecutedLine(t *testing.T) {
	var out bytes.Buffer
	l := NewRecordLogger(LevelRaw, &out)

	l.OrderExecuted(&OrderExecuted{
		CommonHeader:   CommonHeader{Tag: TagOrderExecuted, Timestamp: 42, SeqNum: 7},
		OrderRef:       99,
		ExecutedShares: 10,
	})

	require.Equal(t, "[E] timestamp=42 sequenceNumber=7 orderRefNumber=99 executedShares=10\n", out.String())
}

func TestOffLevelWritesNothing(t *testing.T) {
	var out bytes.Buffer
	l := NewRecordLogger(LevelOff, &out)

	l.Trade(&Trade{})
	l.OrderExecuted(&OrderExecuted{})
	l.SystemEvent(&SystemEvent{})
	require.Zero(t, out.Len())
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"off": LevelOff, "": LevelOff, "verbose": LevelVerbose, "raw": LevelRaw,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLogLevel("loud")
	require.Error(t, err)
}
