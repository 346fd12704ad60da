// Command gapmon subscribes to the feed handler's integrity event channels
// on redis and prints them for operators.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"microfeed/pkg/events"
)

func main() {
	var (
		addr   = flag.String("addr", "localhost:6379", "redis address")
		db     = flag.Int("db", 0, "redis database")
		prefix = flag.String("prefix", "mdfh", "integrity event channel prefix")
	)
	flag.Parse()

	fmt.Println("=== MICROFEED GAP MONITOR ===")
	fmt.Println("Monitoring integrity event channels, press Ctrl+C to stop")
	fmt.Println()

	redisClient := redis.NewClient(&redis.Options{Addr: *addr, DB: *db})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	openedCh := *prefix + ":gap_opened"
	retiredCh := *prefix + ":gap_retired"
	statsCh := *prefix + ":stats"
	pubsub := redisClient.Subscribe(ctx, openedCh, retiredCh, statsCh)
	defer pubsub.Close() //nolint:errcheck

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	gapsOpened := 0
	gapsRetired := 0
	startTime := time.Now()

	go func() {
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error receiving message: %v", err)
				continue
			}

			switch msg.Channel {
			case openedCh:
				printGapOpened(msg.Payload)
				gapsOpened++
			case retiredCh:
				printGapRetired(msg.Payload)
				gapsRetired++
			case statsCh:
				printStats(msg.Payload)
			}
		}
	}()

	<-sigChan
	cancel()

	duration := time.Since(startTime)
	fmt.Printf("\nMonitor ran for %v: %d gaps opened, %d retired\n",
		duration.Round(time.Second), gapsOpened, gapsRetired)
}

func printGapOpened(payload string) {
	var ev events.GapOpened
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("Error parsing gap_opened event: %v", err)
		return
	}
	fmt.Printf("GAP OPENED   expected=%d received=%d size=%d at %s\n",
		ev.ExpectedSeq, ev.ReceivedSeq, ev.GapSize, ev.Timestamp.Format("15:04:05.000"))
}

func printGapRetired(payload string) {
	var ev events.GapRetired
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("Error parsing gap_retired event: %v", err)
		return
	}
	fmt.Printf("GAP RETIRED  seq %d..%d lost=%d after %.1fms\n",
		ev.FromSeq, ev.ToSeq, ev.Lost, ev.OpenForMS)
}

func printStats(payload string) {
	var ev events.FeedStats
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("Error parsing stats event: %v", err)
		return
	}
	fmt.Printf("STATS        parsed=%d dup=%d ooo=%d lost=%d next=%d high=%d gap=%v\n",
		ev.Parsed, ev.Duplicates, ev.OutOfOrder, ev.Lost, ev.NextSeq, ev.HighestSeq, ev.GapExists)
}
