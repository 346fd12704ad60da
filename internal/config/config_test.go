package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := NewConfigLoader().LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "239.1.1.1", cfg.Feed.Group)
	require.Equal(t, uint16(30001), cfg.Feed.Port)
	require.Equal(t, "packet", cfg.Ring.Mode)
	require.Equal(t, uint32(1<<23), cfg.Sequencer.Window)
	require.Equal(t, 5*time.Millisecond, cfg.GapTimeout())
	require.Equal(t, "off", cfg.RecordLog.Level)
	require.Equal(t, uint32(128<<10), cfg.BlockSizeBytes())
	require.Equal(t, uint32(2048), cfg.FrameSizeBytes())
	require.Equal(t, -1, cfg.Performance.IngressCPU)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
feed:
  group: "239.9.9.9"
  port: 31000
  interface: "lo"
ring:
  mode: "udp"
sequencer:
  window: 65536
  gap_timeout: "10ms"
record_log:
  level: "raw"
redis:
  enabled: true
  host: "redis.internal"
  port: 6380
`)

	cfg, err := NewConfigLoader().LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "239.9.9.9", cfg.Feed.Group)
	require.Equal(t, "udp", cfg.Ring.Mode)
	require.Equal(t, uint32(65536), cfg.Sequencer.Window)
	require.Equal(t, 10*time.Millisecond, cfg.GapTimeout())
	require.Equal(t, "raw", cfg.RecordLog.Level)
	require.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	// Untouched sections keep their defaults.
	require.Equal(t, 9100, cfg.Monitoring.MetricsPort)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MDFH_GROUP", "239.5.5.5")
	t.Setenv("MDFH_PORT", "32000")
	t.Setenv("MDFH_RECORD_LOG", "verbose")

	cfg, err := NewConfigLoader().LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "239.5.5.5", cfg.Feed.Group)
	require.Equal(t, uint16(32000), cfg.Feed.Port)
	require.Equal(t, "verbose", cfg.RecordLog.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"non-multicast group": `
feed:
  group: "10.1.2.3"
`,
		"window not a power of two": `
sequencer:
  window: 65537
`,
		"window too small": `
sequencer:
  window: 1024
`,
		"bad gap timeout": `
sequencer:
  gap_timeout: "soon"
`,
		"bad record log level": `
record_log:
  level: "loud"
`,
		"bad ingress mode": `
ring:
  mode: "xdp"
`,
		"unparseable block size": `
ring:
  block_size: "many"
`,
		"frame size below minimum": `
ring:
  frame_size: "32b"
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfigLoader().LoadConfig(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := NewConfigLoader().LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
