package itch

import "encoding/binary"

// Fixed-width big-endian reads, all advancing the caller's cursor. Callers
// must have verified that the full record fits in buf; the decoder checks the
// canonical size against the datagram length before any field read.

func readU32BE(buf []byte, off *int) uint32 {
	v := binary.BigEndian.Uint32(buf[*off:])
	*off += 4
	return v
}

func readU64BE(buf []byte, off *int) uint64 {
	v := binary.BigEndian.Uint64(buf[*off:])
	*off += 8
	return v
}

// readTimestampBE reads the 6-byte timestamp, zero-extended into the low 48
// bits of the result.
func readTimestampBE(buf []byte, off *int) uint64 {
	b := buf[*off:]
	v := uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
	*off += 6
	return v
}

func readByte(buf []byte, off *int) byte {
	b := buf[*off]
	*off++
	return b
}

// readASCII copies len(dst) bytes verbatim, no trimming.
func readASCII(buf []byte, off *int, dst []byte) {
	copy(dst, buf[*off:*off+len(dst)])
	*off += len(dst)
}
