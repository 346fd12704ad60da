package ring

import (
	"encoding/binary"
	"os"
)

// Link/network header geometry for the in-place dissection.
const (
	ethHeaderLen  = 14
	udpHeaderLen  = 8
	etherTypeIPv4 = 0x0800
	protoUDP      = 17

	minIPHeaderLen = 20
)

func pageSize() uint32 { return uint32(os.Getpagesize()) }

// ExtractPayload dissects an Ethernet frame in place and returns the UDP
// payload destined for group:port. It returns ok=false for any filter miss
// (wrong ethertype, destination, protocol or port) or malformed lengths;
// misses are not errors and the caller simply advances to the next frame.
//
// The destination MAC is not checked: the multicast group address already
// determines it. The IP header length is variable (IHL is in 32-bit words),
// so the UDP header offset must be computed, not assumed.
func ExtractPayload(frame []byte, group [4]byte, port uint16) ([]byte, bool) {
	if len(frame) < ethHeaderLen+minIPHeaderLen+udpHeaderLen {
		return nil, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherTypeIPv4 {
		return nil, false
	}

	ip := frame[ethHeaderLen:]
	ihl := int(ip[0]&0x0f) * 4
	if ip[0]>>4 != 4 || ihl < minIPHeaderLen {
		return nil, false
	}
	if [4]byte(ip[16:20]) != group {
		return nil, false
	}
	if ip[9] != protoUDP {
		return nil, false
	}

	udpOff := ethHeaderLen + ihl
	if len(frame) < udpOff+udpHeaderLen {
		return nil, false
	}
	udp := frame[udpOff:]
	if binary.BigEndian.Uint16(udp[2:4]) != port {
		return nil, false
	}

	// UDP payload length derives from the IP total length, not the frame
	// length: the frame may carry link-layer padding.
	totalLen := int(binary.BigEndian.Uint16(ip[2:4]))
	payloadLen := totalLen - ihl - udpHeaderLen
	if payloadLen < 0 || udpOff+udpHeaderLen+payloadLen > len(frame) {
		return nil, false
	}

	start := udpOff + udpHeaderLen
	return frame[start : start+payloadLen], true
}
