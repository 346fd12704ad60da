package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/c2h5oh/datasize"
)

// Config represents the complete feed handler configuration.
type Config struct {
	Feed        FeedConfig        `yaml:"feed"`
	Ring        RingConfig        `yaml:"ring"`
	Sequencer   SequencerConfig   `yaml:"sequencer"`
	RecordLog   RecordLogConfig   `yaml:"record_log"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Redis       RedisConfig       `yaml:"redis"`
	Performance PerformanceConfig `yaml:"performance"`
}

// FeedConfig describes the multicast endpoint to listen on.
type FeedConfig struct {
	Group     string `yaml:"group"`
	Port      uint16 `yaml:"port"`
	Interface string `yaml:"interface"`
}

// RingConfig describes the ingress mode and the RX ring geometry. Sizes are
// human-readable byte quantities ("128kb", "2kb").
type RingConfig struct {
	// Mode selects the ingress path: "packet" (TPACKET_V3 ring, linux) or
	// "udp" (portable multicast listener).
	Mode       string `yaml:"mode"`
	BlockSize  string `yaml:"block_size"`
	BlockCount uint32 `yaml:"block_count"`
	FrameSize  string `yaml:"frame_size"`
}

// SequencerConfig holds the sliding-window parameters.
type SequencerConfig struct {
	Window     uint32 `yaml:"window"`
	GapTimeout string `yaml:"gap_timeout"`
}

// RecordLogConfig selects the per-record log level: off, verbose or raw.
type RecordLogConfig struct {
	Level string `yaml:"level"`
}

// MonitoringConfig holds the prometheus endpoint and the stats sampling
// interval.
type MonitoringConfig struct {
	MetricsPort   int    `yaml:"metrics_port"`
	StatsInterval string `yaml:"stats_interval"`
}

// BroadcastConfig holds the integrity-event websocket server settings.
type BroadcastConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RedisConfig represents the optional redis event sink.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// PerformanceConfig carries the advisory tuning knobs. CPU ids of -1 disable
// pinning.
type PerformanceConfig struct {
	IngressCPU         int  `yaml:"ingress_cpu"`
	TimerCPU           int  `yaml:"timer_cpu"`
	RaiseTimerPriority bool `yaml:"raise_timer_priority"`
}

// Group returns the parsed multicast address. Valid only after Validate.
func (c *Config) Group() netip.Addr {
	addr, _ := netip.ParseAddr(c.Feed.Group)
	return addr
}

// GapTimeout returns the parsed gap timeout. Valid only after Validate.
func (c *Config) GapTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Sequencer.GapTimeout)
	return d
}

// StatsInterval returns the parsed stats sampling interval.
func (c *Config) StatsInterval() time.Duration {
	d, _ := time.ParseDuration(c.Monitoring.StatsInterval)
	return d
}

// BlockSizeBytes returns the parsed ring block size.
func (c *Config) BlockSizeBytes() uint32 {
	var v datasize.ByteSize
	_ = v.UnmarshalText([]byte(c.Ring.BlockSize))
	return uint32(v.Bytes())
}

// FrameSizeBytes returns the parsed ring frame size.
func (c *Config) FrameSizeBytes() uint32 {
	var v datasize.ByteSize
	_ = v.UnmarshalText([]byte(c.Ring.FrameSize))
	return uint32(v.Bytes())
}

// RedisAddr returns the host:port of the redis sink.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
