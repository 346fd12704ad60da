//go:build linux

package ring

import (
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// packetRing is the TPACKET_V3 shared-memory RX ring. The kernel writes raw
// IPv4 frames into mmap'd blocks; ownership of each block is handed to user
// space via the block status word and handed back after every frame in the
// block has been walked. No per-packet copies or syscalls happen on the hot
// path.
type packetRing struct {
	cfg    Config
	logger *zap.Logger

	fd   int    // AF_PACKET socket carrying the ring
	mcfd int    // side socket holding the multicast group membership
	ring []byte // shared mapping, BlockSize*BlockCount bytes

	group [4]byte

	blockIdx   uint32
	block      []byte
	frameOff   uint32
	framesLeft uint32

	closed atomic.Bool
}

// NewPacketRing acquires the socket, the ring mapping and the multicast
// membership. Any failure here is a setup error and fatal to the caller.
func NewPacketRing(cfg Config, logger *zap.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ring config: %w", err)
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", cfg.Interface, err)
	}

	r := &packetRing{
		cfg:    cfg,
		logger: logger.Named("packet_ring"),
		fd:     -1,
		mcfd:   -1,
		group:  cfg.Group.As4(),
	}

	// Raw socket at L2, filtered to IPv4 frames so only relevant traffic
	// reaches the ring.
	r.fd, err = unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_IP)))
	if err != nil {
		return nil, fmt.Errorf("AF_PACKET socket: %w", err)
	}

	// Version must be selected before the ring is requested.
	if err := unix.SetsockoptInt(r.fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V3); err != nil {
		r.cleanup()
		return nil, fmt.Errorf("PACKET_VERSION: %w", err)
	}

	req := unix.TpacketReq3{
		Block_size: cfg.BlockSize,
		Block_nr:   cfg.BlockCount,
		Frame_size: cfg.FrameSize,
		Frame_nr:   cfg.FrameCount(),
		// Retire a partially filled block after 10ms so a quiet feed
		// still hands buffered frames to user space.
		Retire_blk_tov: 10,
	}
	if err := unix.SetsockoptTpacketReq3(r.fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &req); err != nil {
		r.cleanup()
		return nil, fmt.Errorf("PACKET_RX_RING: %w", err)
	}

	r.ring, err = unix.Mmap(r.fd, 0, int(cfg.BlockSize*cfg.BlockCount),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("mmap ring: %w", err)
	}

	sll := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(r.fd, &sll); err != nil {
		r.cleanup()
		return nil, fmt.Errorf("bind to %q: %w", cfg.Interface, err)
	}

	// Join the group on a side socket so the NIC and the network accept the
	// multicast flow; the ring itself sees every IPv4 frame on the
	// interface and filters in user space.
	r.mcfd, err = unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("membership socket: %w", err)
	}
	mreq := unix.IPMreqn{Multiaddr: r.group, Ifindex: int32(iface.Index)}
	if err := unix.SetsockoptIPMreqn(r.mcfd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &mreq); err != nil {
		r.cleanup()
		return nil, fmt.Errorf("join group %s: %w", cfg.Group, err)
	}

	r.logger.Info("RX ring mapped",
		zap.String("interface", cfg.Interface),
		zap.String("group", cfg.Group.String()),
		zap.Uint16("port", cfg.Port),
		zap.Uint32("block_size", cfg.BlockSize),
		zap.Uint32("blocks", cfg.BlockCount),
		zap.Uint32("frames", cfg.FrameCount()))
	return r, nil
}

// Next walks the ring frame by frame, skipping filter misses silently, and
// returns the next multicast UDP payload in place.
func (r *packetRing) Next() ([]byte, error) {
	for {
		if r.closed.Load() {
			return nil, ErrClosed
		}
		if r.framesLeft == 0 {
			r.releaseBlock()
			if err := r.waitBlock(); err != nil {
				return nil, err
			}
			continue // a timeout-retired block may hold zero frames
		}

		hdr := (*unix.Tpacket3Hdr)(unsafe.Pointer(&r.block[r.frameOff]))
		begin := r.frameOff + uint32(hdr.Mac)
		frame := r.block[begin : begin+hdr.Snaplen]
		r.frameOff += hdr.Next_offset
		r.framesLeft--

		if payload, ok := ExtractPayload(frame, r.group, r.cfg.Port); ok {
			return payload, nil
		}
		// Filter miss: advance to the next frame, never releasing the
		// block mid-walk.
	}
}

// waitBlock busy-polls the next block's status word until the kernel hands
// it over. The ingress thread has nowhere better to be; Gosched keeps the
// runtime serviceable while spinning on an idle feed.
func (r *packetRing) waitBlock() error {
	status := r.blockStatus(r.blockIdx)
	for spins := 0; ; spins++ {
		if r.closed.Load() {
			return ErrClosed
		}
		if atomic.LoadUint32(status)&unix.TP_STATUS_USER != 0 {
			break
		}
		if spins&1023 == 1023 {
			runtime.Gosched()
		}
	}

	off := r.blockIdx * r.cfg.BlockSize
	r.block = r.ring[off : off+r.cfg.BlockSize]
	hdr := r.blockHdr(r.blockIdx)
	r.frameOff = hdr.Offset_to_first_pkt
	r.framesLeft = hdr.Num_pkts
	return nil
}

// releaseBlock returns the current block to the kernel.
func (r *packetRing) releaseBlock() {
	if r.block == nil {
		return
	}
	atomic.StoreUint32(r.blockStatus(r.blockIdx), unix.TP_STATUS_KERNEL)
	r.block = nil
	r.blockIdx = (r.blockIdx + 1) % r.cfg.BlockCount
}

func (r *packetRing) blockHdr(idx uint32) *unix.TpacketHdrV1 {
	desc := (*unix.TpacketBlockDesc)(unsafe.Pointer(&r.ring[idx*r.cfg.BlockSize]))
	return (*unix.TpacketHdrV1)(unsafe.Pointer(&desc.Hdr[0]))
}

func (r *packetRing) blockStatus(idx uint32) *uint32 {
	return &r.blockHdr(idx).Block_status
}

// Stop unblocks a concurrent Next.
func (r *packetRing) Stop() {
	r.closed.Store(true)
}

// Close releases resources in reverse order of acquisition: leave the
// multicast group, unmap the ring, close the socket. Must only run after the
// ingress loop has exited.
func (r *packetRing) Close() error {
	r.closed.Store(true)
	r.cleanup()
	r.logger.Info("RX ring released")
	return nil
}

func (r *packetRing) cleanup() {
	if r.mcfd >= 0 {
		mreq := unix.IPMreqn{Multiaddr: r.group}
		unix.SetsockoptIPMreqn(r.mcfd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, &mreq) //nolint:errcheck
		unix.Close(r.mcfd)                                                              //nolint:errcheck
		r.mcfd = -1
	}
	if r.ring != nil {
		unix.Munmap(r.ring) //nolint:errcheck
		r.ring = nil
	}
	if r.fd >= 0 {
		unix.Close(r.fd) //nolint:errcheck
		r.fd = -1
	}
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }
