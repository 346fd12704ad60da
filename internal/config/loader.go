package config

import (
	"fmt"
	"math/bits"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"microfeed/internal/sequencer"
)

// ConfigLoader reads, defaults and validates the yaml configuration with
// environment overrides layered on top.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// LoadConfig reads the file at path (an empty path yields the built-in
// defaults), applies MDFH_* environment overrides and validates the result.
func (cl *ConfigLoader) LoadConfig(path string) (*Config, error) {
	// A .env next to the working directory is a convenience, not a
	// requirement.
	_ = godotenv.Load()

	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cl.applyDefaults(&config)
	cl.applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (cl *ConfigLoader) applyDefaults(c *Config) {
	if c.Feed.Group == "" {
		c.Feed.Group = "239.1.1.1"
	}
	if c.Feed.Port == 0 {
		c.Feed.Port = 30001
	}
	if c.Ring.Mode == "" {
		c.Ring.Mode = "packet"
	}
	if c.Ring.BlockSize == "" {
		c.Ring.BlockSize = "128kb"
	}
	if c.Ring.BlockCount == 0 {
		c.Ring.BlockCount = 64
	}
	if c.Ring.FrameSize == "" {
		c.Ring.FrameSize = "2kb"
	}
	if c.Sequencer.Window == 0 {
		c.Sequencer.Window = sequencer.DefaultWindow
	}
	if c.Sequencer.GapTimeout == "" {
		c.Sequencer.GapTimeout = "5ms"
	}
	if c.RecordLog.Level == "" {
		c.RecordLog.Level = "off"
	}
	if c.Monitoring.MetricsPort == 0 {
		c.Monitoring.MetricsPort = 9100
	}
	if c.Monitoring.StatsInterval == "" {
		c.Monitoring.StatsInterval = "5s"
	}
	if c.Broadcast.Port == 0 {
		c.Broadcast.Port = 8899
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "mdfh"
	}
	if c.Performance.IngressCPU == 0 && c.Performance.TimerCPU == 0 {
		c.Performance.IngressCPU = -1
		c.Performance.TimerCPU = -1
	}
}

func (cl *ConfigLoader) applyEnv(c *Config) {
	c.Feed.Group = getEnv("MDFH_GROUP", c.Feed.Group)
	c.Feed.Interface = getEnv("MDFH_INTERFACE", c.Feed.Interface)
	if v, ok := getEnvInt("MDFH_PORT"); ok {
		c.Feed.Port = uint16(v)
	}
	c.Ring.Mode = getEnv("MDFH_INGRESS_MODE", c.Ring.Mode)
	if v, ok := getEnvInt("MDFH_WINDOW"); ok {
		c.Sequencer.Window = uint32(v)
	}
	c.Sequencer.GapTimeout = getEnv("MDFH_GAP_TIMEOUT", c.Sequencer.GapTimeout)
	c.RecordLog.Level = getEnv("MDFH_RECORD_LOG", c.RecordLog.Level)
	if v, ok := getEnvInt("MDFH_METRICS_PORT"); ok {
		c.Monitoring.MetricsPort = int(v)
	}
}

// Validate checks every parsed parameter once so the accessor methods can
// stay error-free afterwards.
func (c *Config) Validate() error {
	addr, err := netip.ParseAddr(c.Feed.Group)
	if err != nil || !addr.Is4() || !addr.IsMulticast() {
		return fmt.Errorf("feed.group %q is not an IPv4 multicast address", c.Feed.Group)
	}

	switch c.Ring.Mode {
	case "packet", "udp":
	default:
		return fmt.Errorf("ring.mode %q must be packet or udp", c.Ring.Mode)
	}

	var blockSize, frameSize datasize.ByteSize
	if err := blockSize.UnmarshalText([]byte(c.Ring.BlockSize)); err != nil {
		return fmt.Errorf("ring.block_size %q: %w", c.Ring.BlockSize, err)
	}
	if err := frameSize.UnmarshalText([]byte(c.Ring.FrameSize)); err != nil {
		return fmt.Errorf("ring.frame_size %q: %w", c.Ring.FrameSize, err)
	}
	if frameSize.Bytes() < 2048 {
		return fmt.Errorf("ring.frame_size %s is below the 2048 byte minimum", frameSize)
	}
	total := blockSize.Bytes() * uint64(c.Ring.BlockCount)
	if total == 0 || total > 1<<31 {
		return fmt.Errorf("ring of %d x %s exceeds the mappable size", c.Ring.BlockCount, blockSize)
	}

	if w := c.Sequencer.Window; w < 1<<16 || bits.OnesCount32(w) != 1 {
		return fmt.Errorf("sequencer.window %d must be a power of two of at least 65536", w)
	}
	if d, err := time.ParseDuration(c.Sequencer.GapTimeout); err != nil || d <= 0 {
		return fmt.Errorf("sequencer.gap_timeout %q is not a positive duration", c.Sequencer.GapTimeout)
	}
	switch c.RecordLog.Level {
	case "off", "verbose", "raw":
	default:
		return fmt.Errorf("record_log.level %q must be off, verbose or raw", c.RecordLog.Level)
	}
	if d, err := time.ParseDuration(c.Monitoring.StatsInterval); err != nil || d <= 0 {
		return fmt.Errorf("monitoring.stats_interval %q is not a positive duration", c.Monitoring.StatsInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
