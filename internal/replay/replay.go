// Package replay packs a binary dump of concatenated records into multicast
// datagrams for the replay server.
package replay

import (
	"fmt"

	"microfeed/internal/itch"
)

// MaxDatagram is the MTU-derived send budget: 1500 minus the IPv4 and UDP
// headers.
const MaxDatagram = 1472

// Packets splits a dump of concatenated records into datagram payloads,
// packing as many whole records into each as fit in maxDatagram and never
// splitting a record across datagrams. Record boundaries come from the same
// tag to size table the decoder uses.
func Packets(dump []byte, maxDatagram int) ([][]byte, error) {
	if maxDatagram <= 0 {
		maxDatagram = MaxDatagram
	}

	var packets [][]byte
	start, pos := 0, 0
	for pos < len(dump) {
		size, ok := itch.MessageSize(dump[pos])
		if !ok {
			return nil, fmt.Errorf("unknown tag 0x%02x at offset %d", dump[pos], pos)
		}
		if size > maxDatagram {
			return nil, fmt.Errorf("record of %d bytes at offset %d exceeds the %d byte datagram budget", size, pos, maxDatagram)
		}
		if pos+size > len(dump) {
			return nil, fmt.Errorf("truncated record at offset %d: need %d bytes, have %d", pos, size, len(dump)-pos)
		}
		if pos+size-start > maxDatagram {
			packets = append(packets, dump[start:pos])
			start = pos
		}
		pos += size
	}
	if pos > start {
		packets = append(packets, dump[start:pos])
	}
	return packets, nil
}
