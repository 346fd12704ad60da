package ring

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// udpSource is the portable ingress path: a plain multicast UDP listener.
// It pays one syscall and one copy per datagram, which the packet ring
// avoids, but it runs on any host.
type udpSource struct {
	conn    *net.UDPConn
	buf     []byte
	logger  *zap.Logger
	closeFn sync.Once
}

// NewUDPSource joins the multicast group via the kernel UDP stack.
func NewUDPSource(cfg Config, logger *zap.Logger) (Source, error) {
	if !cfg.Group.Is4() || !cfg.Group.IsMulticast() {
		return nil, fmt.Errorf("group %s is not an IPv4 multicast address", cfg.Group)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", cfg.Interface, err)
		}
	}

	addr := &net.UDPAddr{IP: cfg.Group.AsSlice(), Port: int(cfg.Port)}
	conn, err := net.ListenMulticastUDP("udp4", iface, addr)
	if err != nil {
		return nil, fmt.Errorf("join group %s:%d: %w", cfg.Group, cfg.Port, err)
	}
	if err := conn.SetReadBuffer(4 << 20); err != nil {
		logger.Warn("Failed to grow socket receive buffer", zap.Error(err))
	}

	logger.Named("udp_source").Info("Multicast listener ready",
		zap.String("group", cfg.Group.String()),
		zap.Uint16("port", cfg.Port))

	return &udpSource{
		conn: conn,
		// One reusable buffer sized for the largest possible datagram;
		// payloads alias it until the next call.
		buf:    make([]byte, 64<<10),
		logger: logger.Named("udp_source"),
	}, nil
}

func (s *udpSource) Next() ([]byte, error) {
	n, err := s.conn.Read(s.buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return s.buf[:n], nil
}

// Stop closes the socket, which unblocks a concurrent Read.
func (s *udpSource) Stop() {
	s.closeFn.Do(func() { s.conn.Close() }) //nolint:errcheck
}

func (s *udpSource) Close() error {
	s.Stop()
	s.logger.Info("Multicast listener closed")
	return nil
}
