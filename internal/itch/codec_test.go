package itch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadU32BEAdvancesCursor(t *testing.T) {
	buf := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	off := 0
	require.Equal(t, uint32(0xdeadbeef), readU32BE(buf, &off))
	require.Equal(t, 4, off)
}

func TestReadU64BEAdvancesCursor(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	off := 0
	require.Equal(t, uint64(0x0102030405060708), readU64BE(buf, &off))
	require.Equal(t, 8, off)
}

func TestReadTimestampZeroExtends(t *testing.T) {
	buf := []byte{0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa}
	off := 0
	require.Equal(t, uint64(0x0000ffeeddccbbaa), readTimestampBE(buf, &off))
	require.Equal(t, 6, off)
}

func TestReadASCIIKeepsPadding(t *testing.T) {
	buf := []byte("AAPL    X")
	off := 0
	var stock [8]byte
	readASCII(buf, &off, stock[:])
	require.Equal(t, "AAPL    ", string(stock[:]))
	require.Equal(t, 8, off)
}

func TestReadsAtArbitraryOffset(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x2a}
	off := 2
	require.Equal(t, uint32(0x2a), readU32BE(buf, &off))
	require.Equal(t, 6, off)
}
