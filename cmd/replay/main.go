// Command replay reads a binary dump of concatenated exchange records and
// transmits it over multicast UDP, packing as many whole records into each
// datagram as fit in the MTU-derived send budget.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"microfeed/internal/replay"
)

func main() {
	var (
		file     = flag.String("file", "", "path to the binary record dump")
		group    = flag.String("group", "239.1.1.1", "multicast group to send to")
		port     = flag.Int("port", 30001, "destination UDP port")
		interval = flag.Duration("interval", 100*time.Microsecond, "pause between datagrams")
		loop     = flag.Bool("loop", false, "replay the dump forever")
		mtu      = flag.Int("mtu", replay.MaxDatagram, "datagram payload budget in bytes")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if *file == "" {
		logger.Fatal("A dump file is required (-file)")
	}

	dump, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal("Failed to read dump", zap.String("file", *file), zap.Error(err))
	}

	packets, err := replay.Packets(dump, *mtu)
	if err != nil {
		logger.Fatal("Failed to pack dump into datagrams", zap.Error(err))
	}

	addr := &net.UDPAddr{IP: net.ParseIP(*group), Port: *port}
	if addr.IP == nil || !addr.IP.IsMulticast() {
		logger.Fatal("Destination is not a multicast group", zap.String("group", *group))
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		logger.Fatal("Failed to open send socket", zap.Error(err))
	}
	defer conn.Close() //nolint:errcheck

	logger.Info("Replaying dump",
		zap.String("file", *file),
		zap.Int("bytes", len(dump)),
		zap.Int("datagrams", len(packets)),
		zap.String("destination", addr.String()),
		zap.Duration("interval", *interval),
		zap.Bool("loop", *loop))

	rounds := 0
	for {
		for _, pkt := range packets {
			if _, err := conn.Write(pkt); err != nil {
				logger.Fatal("Send failed", zap.Error(err))
			}
			if *interval > 0 {
				time.Sleep(*interval)
			}
		}
		rounds++
		if !*loop {
			break
		}
		logger.Info("Dump replayed, looping", zap.Int("rounds", rounds))
	}

	logger.Info("Replay complete",
		zap.Int("rounds", rounds),
		zap.Int("datagrams_per_round", len(packets)))
}
