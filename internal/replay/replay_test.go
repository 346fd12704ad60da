package replay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"microfeed/internal/itch"
)

func record(tag byte, seq uint32) []byte {
	size, ok := itch.MessageSize(tag)
	if !ok {
		panic("unknown tag in test")
	}
	b := make([]byte, size)
	b[0] = tag
	b[7] = byte(seq >> 24)
	b[8] = byte(seq >> 16)
	b[9] = byte(seq >> 8)
	b[10] = byte(seq)
	return b
}

func TestPacketsNeverSplitRecords(t *testing.T) {
	var dump []byte
	tags := []byte{itch.TagOrderAdd, itch.TagOrderExecuted, itch.TagSystemEvent, itch.TagOrderExecutedWithPrice, itch.TagOrderCancelled, itch.TagTrade}
	for seq := uint32(1); seq <= 500; seq++ {
		dump = append(dump, record(tags[seq%uint32(len(tags))], seq)...)
	}

	packets, err := Packets(dump, MaxDatagram)
	require.NoError(t, err)
	require.NotEmpty(t, packets)

	var reassembled []byte
	for _, pkt := range packets {
		require.LessOrEqual(t, len(pkt), MaxDatagram)

		// Every datagram holds complete records only.
		pos := 0
		for pos < len(pkt) {
			size, ok := itch.MessageSize(pkt[pos])
			require.True(t, ok)
			require.LessOrEqual(t, pos+size, len(pkt))
			pos += size
		}
		require.Equal(t, len(pkt), pos)

		reassembled = append(reassembled, pkt...)
	}
	require.True(t, bytes.Equal(dump, reassembled))
}

func TestPacketsFillsDatagrams(t *testing.T) {
	// 41 trade records of 36 bytes: 40 fit in 1440 bytes, the rest spill.
	var dump []byte
	for seq := uint32(1); seq <= 41; seq++ {
		dump = append(dump, record(itch.TagTrade, seq)...)
	}

	packets, err := Packets(dump, MaxDatagram)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, 40*itch.SizeTrade, len(packets[0]))
	require.Equal(t, itch.SizeTrade, len(packets[1]))
}

func TestPacketsRejectsUnknownTag(t *testing.T) {
	dump := append(record(itch.TagSystemEvent, 1), 'Z')
	_, err := Packets(dump, MaxDatagram)
	require.Error(t, err)
}

func TestPacketsRejectsTruncatedDump(t *testing.T) {
	dump := record(itch.TagTrade, 1)[:20]
	_, err := Packets(dump, MaxDatagram)
	require.Error(t, err)
}

func TestPacketsEmptyDump(t *testing.T) {
	packets, err := Packets(nil, MaxDatagram)
	require.NoError(t, err)
	require.Empty(t, packets)
}
