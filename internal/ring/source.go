// Package ring delivers multicast UDP payloads to the decoder. The primary
// implementation is a TPACKET_V3 shared-memory RX ring (Linux); a plain
// multicast UDP listener covers other hosts.
package ring

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrClosed is returned by Next after Stop.
var ErrClosed = errors.New("packet source closed")

// minFrameSize leaves room for the TPACKET frame header and a full
// Ethernet/IPv4/UDP datagram; anything smaller truncates frames before
// dissection.
const minFrameSize = 2048

// Source yields one UDP payload per call. The returned slice aliases the
// source's buffers and is only valid until the following Next call: records
// must be consumed (decoded and logged) within one iteration, which is
// exactly the record lifecycle the decoder's reusable slots implement.
type Source interface {
	// Next blocks until a payload passing the group/port filters arrives.
	Next() ([]byte, error)
	// Stop unblocks a concurrent Next, which then returns ErrClosed.
	Stop()
	// Close releases sockets and mappings. Call after the ingress loop has
	// exited; resources are released in reverse order of acquisition.
	Close() error
}

// Config describes the listening endpoint and the ring geometry.
type Config struct {
	Interface string
	Group     netip.Addr
	Port      uint16

	// Ring geometry, used by the packet ring only. BlockSize must be a
	// multiple of the page size and of FrameSize.
	BlockSize  uint32
	BlockCount uint32
	FrameSize  uint32
}

// Validate checks the filter endpoint and the ring geometry.
func (c Config) Validate() error {
	if !c.Group.Is4() || !c.Group.IsMulticast() {
		return fmt.Errorf("group %s is not an IPv4 multicast address", c.Group)
	}
	if c.Port == 0 {
		return errors.New("port must be set")
	}
	if c.BlockSize == 0 || c.BlockCount == 0 || c.FrameSize == 0 {
		return errors.New("ring geometry must be set")
	}
	if c.BlockSize%pageSize() != 0 {
		return fmt.Errorf("block size %d is not a multiple of the page size %d", c.BlockSize, pageSize())
	}
	if c.FrameSize < minFrameSize {
		return fmt.Errorf("frame size %d is below the %d byte minimum", c.FrameSize, minFrameSize)
	}
	if c.BlockSize%c.FrameSize != 0 {
		return fmt.Errorf("block size %d is not a multiple of the frame size %d", c.BlockSize, c.FrameSize)
	}
	if c.FrameSize%16 != 0 {
		return fmt.Errorf("frame size %d is not 16-byte aligned", c.FrameSize)
	}
	return nil
}

// FrameCount is the total frame capacity of the ring.
func (c Config) FrameCount() uint32 {
	return c.BlockSize * c.BlockCount / c.FrameSize
}
