package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTimerRaisesTimeoutForOpenGap(t *testing.T) {
	s := newTestSequencer(t, 16)
	timer := NewTimer(s, TimerConfig{Timeout: 5 * time.Millisecond, CPU: -1}, zap.NewNop())
	timer.Start()
	defer timer.Stop()

	observeAll(t, s, 1, 5)
	require.True(t, s.GapOpen())

	require.Eventually(t, func() bool {
		return s.gapTimeout.Load()
	}, 500*time.Millisecond, time.Millisecond)
}

func TestTimerStaysQuietWithoutGap(t *testing.T) {
	s := newTestSequencer(t, 16)
	timer := NewTimer(s, TimerConfig{Timeout: 5 * time.Millisecond, CPU: -1}, zap.NewNop())
	timer.Start()
	defer timer.Stop()

	observeAll(t, s, 1, 2, 3)

	time.Sleep(30 * time.Millisecond)
	require.False(t, s.gapTimeout.Load())
}

func TestTimerStopJoins(t *testing.T) {
	s := newTestSequencer(t, 16)
	timer := NewTimer(s, TimerConfig{Timeout: time.Hour, CPU: -1}, zap.NewNop())
	timer.Start()

	done := make(chan struct{})
	go func() {
		timer.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
}

func BenchmarkObserveInOrder(b *testing.B) {
	s, err := New(1 << 20)
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Observe(uint32(i + 1)); err != nil {
			b.Fatal(err)
		}
	}
}
