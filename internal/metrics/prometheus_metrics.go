package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"microfeed/internal/sequencer"
)

// FeedMetrics exposes the sequencer counters and integrity events over
// prometheus. The hot path never touches these: the gauges are refreshed by
// the stats reporter from sequencer snapshots, and the counters fire on rare
// events (gaps, decode failures).
type FeedMetrics struct {
	// Sequencer state, mirrored from Stats snapshots
	MessagesParsed prometheus.Gauge
	Duplicates     prometheus.Gauge
	OutOfOrder     prometheus.Gauge
	MessagesLost   prometheus.Gauge
	NextSeq        prometheus.Gauge
	HighestSeq     prometheus.Gauge
	GapOpen        prometheus.Gauge

	// Integrity events
	GapsDetected prometheus.Counter
	GapSizes     prometheus.Histogram
	GapOpenTime  prometheus.Histogram

	// Ingress health
	DecodeErrors  prometheus.Counter
	RecordLatency prometheus.Histogram
	ServiceUptime prometheus.Gauge

	logger *zap.Logger
	server *http.Server
	start  time.Time
}

// NewFeedMetrics creates and registers the feed handler metrics.
func NewFeedMetrics(logger *zap.Logger) *FeedMetrics {
	m := &FeedMetrics{
		MessagesParsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_messages_parsed_total",
			Help: "Records classified in-order since start",
		}),
		Duplicates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_duplicates_total",
			Help: "Records classified as duplicates since start",
		}),
		OutOfOrder: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_out_of_order_total",
			Help: "Records classified out-of-order since start",
		}),
		MessagesLost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_messages_lost_total",
			Help: "Sequence numbers retired as lost since start",
		}),
		NextSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_next_seq",
			Help: "Smallest sequence number not yet retired",
		}),
		HighestSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_highest_seq",
			Help: "Largest sequence number observed",
		}),
		GapOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_gap_open",
			Help: "1 while a sequence gap is open",
		}),
		GapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdfh_gaps_detected_total",
			Help: "Total number of sequence gaps opened",
		}),
		GapSizes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdfh_gap_sizes",
			Help:    "Distribution of gap sizes at open time",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		GapOpenTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdfh_gap_open_seconds",
			Help:    "How long retired gaps stayed open",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdfh_decode_errors_total",
			Help: "Datagrams abandoned on a decode failure",
		}),
		RecordLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdfh_record_latency_seconds",
			Help:    "Sampled wall-clock delay between record timestamp and arrival",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfh_uptime_seconds",
			Help: "Feed handler uptime in seconds",
		}),
		logger: logger.Named("metrics"),
		start:  time.Now(),
	}

	prometheus.MustRegister(
		m.MessagesParsed,
		m.Duplicates,
		m.OutOfOrder,
		m.MessagesLost,
		m.NextSeq,
		m.HighestSeq,
		m.GapOpen,
		m.GapsDetected,
		m.GapSizes,
		m.GapOpenTime,
		m.DecodeErrors,
		m.RecordLatency,
		m.ServiceUptime,
	)
	return m
}

// Start serves /metrics and /health on the given port.
func (m *FeedMetrics) Start(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK")) //nolint:errcheck
	})

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	m.logger.Info("Metrics server starting", zap.Int("port", port))
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the metrics server down.
func (m *FeedMetrics) Stop() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

// UpdateStats refreshes the sequencer gauges from a snapshot.
func (m *FeedMetrics) UpdateStats(s sequencer.Stats) {
	m.MessagesParsed.Set(float64(s.Parsed))
	m.Duplicates.Set(float64(s.Duplicates))
	m.OutOfOrder.Set(float64(s.OutOfOrder))
	m.MessagesLost.Set(float64(s.Lost))
	m.NextSeq.Set(float64(s.NextSeq))
	m.HighestSeq.Set(float64(s.HighestSeq))
	if s.GapExists {
		m.GapOpen.Set(1)
	} else {
		m.GapOpen.Set(0)
	}
	m.ServiceUptime.Set(time.Since(m.start).Seconds())
}

// RecordGapOpened records a gap opening with its initial size.
func (m *FeedMetrics) RecordGapOpened(gapSize uint32) {
	m.GapsDetected.Inc()
	m.GapSizes.Observe(float64(gapSize))
}

// RecordGapRetired records how long a retired gap was open.
func (m *FeedMetrics) RecordGapRetired(openFor time.Duration) {
	m.GapOpenTime.Observe(openFor.Seconds())
}

// RecordDecodeError counts an abandoned datagram.
func (m *FeedMetrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordLatencySample records one sampled record delay.
func (m *FeedMetrics) RecordLatencySample(d time.Duration) {
	if d > 0 {
		m.RecordLatency.Observe(d.Seconds())
	}
}
