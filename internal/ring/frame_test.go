package ring

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	addr, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return addr
}

var (
	testGroup = [4]byte{239, 1, 1, 1}
	testPort  = uint16(30001)
)

// buildFrame serializes an Ethernet/IPv4/UDP frame around the payload.
func buildFrame(t *testing.T, dstIP net.IP, proto layers.IPProtocol, dstPort uint16, payload []byte) []byte {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5e, 0x01, 0x01, 0x01},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    dstIP,
	}
	udp := layers.UDP{
		SrcPort: 40000,
		DstPort: layers.UDPPort(dstPort),
	}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestExtractPayload(t *testing.T) {
	payload := []byte("SOMESEQUENCEDATA")
	frame := buildFrame(t, net.IPv4(239, 1, 1, 1), layers.IPProtocolUDP, testPort, payload)

	got, ok := ExtractPayload(frame, testGroup, testPort)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestExtractPayloadWrongGroup(t *testing.T) {
	frame := buildFrame(t, net.IPv4(239, 2, 2, 2), layers.IPProtocolUDP, testPort, []byte("x"))
	_, ok := ExtractPayload(frame, testGroup, testPort)
	require.False(t, ok)
}

func TestExtractPayloadWrongPort(t *testing.T) {
	frame := buildFrame(t, net.IPv4(239, 1, 1, 1), layers.IPProtocolUDP, 4242, []byte("x"))
	_, ok := ExtractPayload(frame, testGroup, testPort)
	require.False(t, ok)
}

func TestExtractPayloadNonUDP(t *testing.T) {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5e, 0x01, 0x01, 0x01},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(239, 1, 1, 1),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, gopacket.Payload(make([]byte, 20))))

	_, ok := ExtractPayload(buf.Bytes(), testGroup, testPort)
	require.False(t, ok)
}

func TestExtractPayloadNonIPv4EtherType(t *testing.T) {
	frame := buildFrame(t, net.IPv4(239, 1, 1, 1), layers.IPProtocolUDP, testPort, []byte("x"))
	binary.BigEndian.PutUint16(frame[12:14], 0x86dd)
	_, ok := ExtractPayload(frame, testGroup, testPort)
	require.False(t, ok)
}

// The IP header length is variable; a header carrying options shifts the UDP
// header and payload offsets.
func TestExtractPayloadWithIPOptions(t *testing.T) {
	payload := []byte("OPTIONFRAME")
	const ihl = 6 // 20 header bytes + 4 bytes of options

	frame := make([]byte, ethHeaderLen+ihl*4+udpHeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv4)

	ip := frame[ethHeaderLen:]
	ip[0] = 0x40 | ihl
	binary.BigEndian.PutUint16(ip[2:4], uint16(ihl*4+udpHeaderLen+len(payload)))
	ip[9] = protoUDP
	copy(ip[16:20], testGroup[:])
	// 4 bytes of NOP options pad the header.
	ip[20], ip[21], ip[22], ip[23] = 1, 1, 1, 1

	udp := frame[ethHeaderLen+ihl*4:]
	binary.BigEndian.PutUint16(udp[2:4], testPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHeaderLen+len(payload)))
	copy(udp[udpHeaderLen:], payload)

	got, ok := ExtractPayload(frame, testGroup, testPort)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

// Frames may be padded to the Ethernet minimum; the payload length must come
// from the IP total length, not from the frame length.
func TestExtractPayloadIgnoresLinkPadding(t *testing.T) {
	payload := []byte("tiny")
	frame := buildFrame(t, net.IPv4(239, 1, 1, 1), layers.IPProtocolUDP, testPort, payload)
	padded := append(frame, make([]byte, 18)...)

	got, ok := ExtractPayload(padded, testGroup, testPort)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestExtractPayloadTruncatedFrame(t *testing.T) {
	// The payload is long enough that the frame exceeds the 60-byte Ethernet
	// minimum, so it carries no padding and every cut below truncates data.
	frame := buildFrame(t, net.IPv4(239, 1, 1, 1), layers.IPProtocolUDP, testPort, []byte("truncated datagram payload"))
	for _, n := range []int{0, 10, ethHeaderLen + 10, len(frame) - 3} {
		_, ok := ExtractPayload(frame[:n], testGroup, testPort)
		require.False(t, ok, "truncated frame of %d bytes must miss", n)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Interface:  "eth0",
		Group:      mustAddr(t, "239.1.1.1"),
		Port:       30001,
		BlockSize:  128 << 10,
		BlockCount: 64,
		FrameSize:  2048,
	}
	require.NoError(t, base.Validate())
	require.Equal(t, uint32(64*64), base.FrameCount())

	bad := base
	bad.Group = mustAddr(t, "10.0.0.1")
	require.Error(t, bad.Validate())

	bad = base
	bad.BlockSize = 1000 // not page aligned
	require.Error(t, bad.Validate())

	bad = base
	bad.FrameSize = 512 // below the frame minimum
	require.Error(t, bad.Validate())

	bad = base
	bad.FrameSize = 3000 // block size not a multiple
	require.Error(t, bad.Validate())
}
