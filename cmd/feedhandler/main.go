package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"microfeed/internal/affinity"
	"microfeed/internal/config"
	"microfeed/internal/itch"
	"microfeed/internal/metrics"
	"microfeed/internal/ring"
	"microfeed/internal/sequencer"
	"microfeed/pkg/broadcaster"
	"microfeed/pkg/events"
	redispkg "microfeed/pkg/redis"
)

// latencySampleMask samples one record latency observation per 4096
// datagrams, keeping the clock read off the per-record path.
const latencySampleMask = 0xfff

// FeedHandler represents the main application: packet ring → decoder →
// sequencer on the ingress thread, the gap timer alongside, and the
// observer surfaces (metrics, websocket, redis) on top.
type FeedHandler struct {
	config      *config.Config
	logger      *zap.Logger
	metrics     *metrics.FeedMetrics
	broadcaster *broadcaster.Broadcaster
	publisher   *redispkg.Client

	seq       *sequencer.Sequencer
	timer     *sequencer.Timer
	source    ring.Source
	decoder   *itch.Decoder
	recordOut *bufio.Writer

	eventCh chan events.Event
	fatalCh chan error

	wsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the yaml configuration")
	flag.Parse()

	app := &FeedHandler{}

	if err := app.initialize(*configPath); err != nil {
		fmt.Printf("Failed to initialize feed handler: %v\n", err)
		os.Exit(1)
	}

	if err := app.start(); err != nil {
		fmt.Printf("Failed to start feed handler: %v\n", err)
		app.shutdown()
		os.Exit(1)
	}

	code := app.waitForShutdown()
	app.shutdown()
	os.Exit(code)
}

// initialize sets up all components; the ingress source is not opened yet.
// When redis is enabled, the event publisher connects here.
func (app *FeedHandler) initialize(configPath string) error {
	var err error

	app.ctx, app.cancel = context.WithCancel(context.Background())

	app.logger, err = app.setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	configLoader := config.NewConfigLoader()
	app.config, err = configLoader.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app.logger.Info("Configuration loaded",
		zap.String("group", app.config.Feed.Group),
		zap.Uint16("port", app.config.Feed.Port),
		zap.String("mode", app.config.Ring.Mode),
		zap.Uint32("window", app.config.Sequencer.Window),
		zap.String("gap_timeout", app.config.Sequencer.GapTimeout))

	app.metrics = metrics.NewFeedMetrics(app.logger)
	app.eventCh = make(chan events.Event, 256)
	app.fatalCh = make(chan error, 1)

	app.seq, err = sequencer.New(app.config.Sequencer.Window,
		sequencer.WithGapOpened(app.onGapOpened),
		sequencer.WithGapRetired(app.onGapRetired),
	)
	if err != nil {
		return fmt.Errorf("failed to build sequencer: %w", err)
	}

	app.timer = sequencer.NewTimer(app.seq, sequencer.TimerConfig{
		Timeout:       app.config.GapTimeout(),
		CPU:           app.config.Performance.TimerCPU,
		RaisePriority: app.config.Performance.RaiseTimerPriority,
	}, app.logger)

	level, err := itch.ParseLogLevel(app.config.RecordLog.Level)
	if err != nil {
		return fmt.Errorf("failed to parse record log level: %w", err)
	}
	app.recordOut = bufio.NewWriterSize(os.Stdout, 1<<16)
	app.decoder = itch.NewDecoder(app.seq, itch.NewRecordLogger(level, app.recordOut))

	if app.config.Broadcast.Enabled {
		app.broadcaster = broadcaster.NewBroadcaster(app.logger)
	}

	if app.config.Redis.Enabled {
		app.publisher, err = redispkg.NewClient(redispkg.ClientConfig{
			Addr:          app.config.RedisAddr(),
			Password:      app.config.Redis.Password,
			DB:            app.config.Redis.DB,
			ChannelPrefix: app.config.Redis.ChannelPrefix,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to connect event publisher: %w", err)
		}
	}

	app.logger.Info("Core components initialized")
	return nil
}

func (app *FeedHandler) setupLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}

// start acquires the ingress source and launches every worker.
func (app *FeedHandler) start() error {
	app.logger.Info("Starting feed handler")

	app.metrics.Start(app.config.Monitoring.MetricsPort)

	if app.broadcaster != nil {
		go app.broadcaster.Run()
		app.startWebSocketServer()
	}

	app.wg.Add(1)
	go app.runEventPump()

	app.wg.Add(1)
	go app.runStatsReporter()

	var err error
	app.source, err = app.openSource()
	if err != nil {
		return fmt.Errorf("failed to open ingress source: %w", err)
	}

	app.timer.Start()

	app.wg.Add(1)
	go app.runIngress()

	app.printStartupSummary()
	return nil
}

func (app *FeedHandler) openSource() (ring.Source, error) {
	cfg := ring.Config{
		Interface:  app.config.Feed.Interface,
		Group:      app.config.Group(),
		Port:       app.config.Feed.Port,
		BlockSize:  app.config.BlockSizeBytes(),
		BlockCount: app.config.Ring.BlockCount,
		FrameSize:  app.config.FrameSizeBytes(),
	}
	if app.config.Ring.Mode == "packet" {
		return ring.NewPacketRing(cfg, app.logger)
	}
	return ring.NewUDPSource(cfg, app.logger)
}

// runIngress is the hot loop: one OS thread pulling payloads from the ring
// and pushing them through the decoder and sequencer. It never blocks except
// inside Source.Next, and it is the only goroutine mutating window state.
func (app *FeedHandler) runIngress() {
	defer app.wg.Done()

	runtime.LockOSThread()
	if cpu := app.config.Performance.IngressCPU; cpu >= 0 {
		if err := affinity.Pin(cpu); err != nil {
			app.logger.Warn("Failed to pin ingress thread", zap.Error(err))
		}
	}

	app.logger.Info("Ingress loop running")

	var datagrams uint64
	for {
		payload, err := app.source.Next()
		if err != nil {
			if errors.Is(err, ring.ErrClosed) {
				app.logger.Info("Ingress loop stopped")
				return
			}
			app.logger.Error("Ingress read failed", zap.Error(err))
			continue
		}

		if err := app.decoder.Decode(payload); err != nil {
			var decodeErr *itch.DecodeError
			switch {
			case errors.As(err, &decodeErr):
				// The remainder of this datagram is discarded; records
				// decoded before the failure were already classified.
				app.metrics.RecordDecodeError()
				app.logger.Warn("Datagram abandoned on decode failure",
					zap.Int("offset", decodeErr.Offset),
					zap.String("tag", fmt.Sprintf("0x%02x", decodeErr.Tag)),
					zap.Error(decodeErr.Err))
			case errors.Is(err, sequencer.ErrWindowExceeded):
				app.fatal(err)
				return
			default:
				app.fatal(err)
				return
			}
		}

		app.seq.MaybeRetire()

		datagrams++
		if datagrams&latencySampleMask == 0 {
			app.metrics.RecordLatencySample(recordDelay(app.decoder.LastTimestamp()))
		}
	}
}

// fatal reports an unrecoverable ingress error and triggers shutdown.
func (app *FeedHandler) fatal(err error) {
	app.logger.Error("Fatal ingress error", zap.Error(err))
	select {
	case app.fatalCh <- err:
	default:
	}
}

// runEventPump drains integrity events to the configured sinks. Event loss
// here is acceptable; the sequencer counters remain authoritative.
func (app *FeedHandler) runEventPump() {
	defer app.wg.Done()

	for {
		select {
		case <-app.ctx.Done():
			return
		case ev := <-app.eventCh:
			data, err := json.Marshal(ev)
			if err != nil {
				app.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}
			if app.broadcaster != nil {
				app.broadcaster.Broadcast(data)
			}
			if app.publisher != nil {
				ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
				if err := app.publisher.Publish(ctx, ev); err != nil {
					app.logger.Warn("Failed to publish event", zap.Error(err))
				}
				cancel()
			}
		}
	}
}

// runStatsReporter periodically snapshots the sequencer for the metrics
// gauges and the downstream stats event.
func (app *FeedHandler) runStatsReporter() {
	defer app.wg.Done()

	ticker := time.NewTicker(app.config.StatsInterval())
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			snap := app.seq.Snapshot()
			app.metrics.UpdateStats(snap)
			app.emit(&events.FeedStats{
				Parsed:     snap.Parsed,
				Duplicates: snap.Duplicates,
				OutOfOrder: snap.OutOfOrder,
				Lost:       snap.Lost,
				NextSeq:    snap.NextSeq,
				HighestSeq: snap.HighestSeq,
				GapExists:  snap.GapExists,
				Timestamp:  time.Now(),
			})
		}
	}
}

// onGapOpened runs on the ingress thread; keep it cheap.
func (app *FeedHandler) onGapOpened(expected, received uint32) {
	app.metrics.RecordGapOpened(received - expected)
	app.emit(&events.GapOpened{
		ExpectedSeq: expected,
		ReceivedSeq: received,
		GapSize:     received - expected,
		Timestamp:   time.Now(),
	})
}

// onGapRetired runs on the ingress thread; keep it cheap.
func (app *FeedHandler) onGapRetired(from, to uint32, lost uint64, openFor time.Duration) {
	app.metrics.RecordGapRetired(openFor)
	app.emit(&events.GapRetired{
		FromSeq:   from,
		ToSeq:     to,
		Lost:      lost,
		OpenForMS: float64(openFor.Microseconds()) / 1000,
		Timestamp: time.Now(),
	})
}

// emit hands an event to the pump without ever blocking the producer.
func (app *FeedHandler) emit(ev events.Event) {
	select {
	case app.eventCh <- ev:
	default:
	}
}

func (app *FeedHandler) startWebSocketServer() {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			app.logger.Error("Failed to upgrade observer connection", zap.Error(err))
			return
		}
		app.broadcaster.Register(conn)
		defer app.broadcaster.Unregister(conn)

		// Block reading from the client; an error means the connection is
		// gone and the deferred unregister runs.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	})

	app.wsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Broadcast.Port),
		Handler: mux,
	}

	app.logger.Info("Observer websocket server starting", zap.Int("port", app.config.Broadcast.Port))
	go func() {
		if err := app.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("Observer websocket server failed", zap.Error(err))
		}
	}()
}

func (app *FeedHandler) printStartupSummary() {
	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Println("MICROFEED FEED HANDLER STARTED")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Feed:      %s:%d (%s ingress)\n", app.config.Feed.Group, app.config.Feed.Port, app.config.Ring.Mode)
	fmt.Printf("Window:    %d sequence numbers, gap timeout %s\n", app.config.Sequencer.Window, app.config.Sequencer.GapTimeout)
	fmt.Printf("Metrics:   http://localhost:%d/metrics\n", app.config.Monitoring.MetricsPort)
	if app.broadcaster != nil {
		fmt.Printf("Observers: ws://localhost:%d/ws\n", app.config.Broadcast.Port)
	}
	fmt.Println(strings.Repeat("=", 72))
}

// waitForShutdown blocks until a signal or a fatal ingress error. Returns
// the process exit code.
func (app *FeedHandler) waitForShutdown() int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		return 0
	case err := <-app.fatalCh:
		app.logger.Error("Terminating on fatal error", zap.Error(err))
		return 1
	}
}

// shutdown releases resources in reverse order of acquisition and is safe on
// every exit path, including a failed start.
func (app *FeedHandler) shutdown() {
	app.logger.Info("Shutting down feed handler")

	app.cancel()
	if app.source != nil {
		app.source.Stop()
	}

	// Bounded wait for the ingress loop and the reporters.
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		app.logger.Warn("Timeout waiting for workers to stop")
	}

	if app.source != nil {
		if err := app.source.Close(); err != nil {
			app.logger.Error("Error closing ingress source", zap.Error(err))
		}
	}
	if app.timer != nil {
		app.timer.Stop()
	}
	if app.recordOut != nil {
		app.recordOut.Flush() //nolint:errcheck
	}
	if app.broadcaster != nil {
		app.broadcaster.Stop()
	}
	if app.wsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		app.wsServer.Shutdown(ctx) //nolint:errcheck
		cancel()
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("Error closing event publisher", zap.Error(err))
		}
	}
	if err := app.metrics.Stop(); err != nil {
		app.logger.Error("Error stopping metrics server", zap.Error(err))
	}

	app.logger.Info("Feed handler shutdown complete")
}

// recordDelay derives the wall-clock delay of a record from its
// ns-since-midnight timestamp.
func recordDelay(tsNanos uint64) time.Duration {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	sinceMidnight := now.Sub(midnight)
	return sinceMidnight - time.Duration(tsNanos)
}
