package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reconcilehq/go-coord/v1/lock"
	"github.com/reconcilehq/go-coord/v1/queue"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 100000, "Requests")
	target      = flag.String("target", "all", "Target: lock, queue")
)

func main() {
	flag.Parse()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"lock", "queue"}
	}

	fmt.Printf("| %-10s | %-10s | %-12s | %-12s |\n", "System", "Ops/sec", "Avg Latency", "P99 Latency")
	fmt.Println("|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(strings.TrimSpace(t))
	}
}

func runBenchmark(name string) {
	var opFn func(ctx context.Context, worker int) error

	ctx := context.Background()

	switch name {
	case "lock":
		m := lock.New(lock.WithSweepInterval(0))
		defer m.Close()
		opFn = func(ctx context.Context, worker int) error {
			key := fmt.Sprintf("bench:%d", worker)
			id, ok := m.Acquire(ctx, key, "bench", nil)
			if !ok {
				return fmt.Errorf("contended")
			}
			m.Release(key, id)
			return nil
		}

	case "queue":
		q := queue.New(queue.WithMaxSize(*requests + 1))
		opFn = func(ctx context.Context, worker int) error {
			if _, err := q.Add("bench", nil, worker%10, 0); err != nil {
				return err
			}
			for _, it := range q.NextBatch(1) {
				q.Complete(it.ID, true)
			}
			return nil
		}

	default:
		log.Printf("Unknown target: %s", name)
		return
	}

	var wg sync.WaitGroup
	var ops int64
	totalReqs := *requests
	latencies := make([]int64, totalReqs)

	start := time.Now()
	chunk := totalReqs / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			offset := idx * chunk
			for j := 0; j < chunk; j++ {
				reqStart := time.Now()
				if err := opFn(ctx, idx); err == nil {
					atomic.AddInt64(&ops, 1)
					latencies[offset+j] = time.Since(reqStart).Nanoseconds()
				}
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if ops == 0 {
		fmt.Printf("| %-10s | %-10s | %-12s | %-12s |\n", name, "ERROR", "-", "-")
		return
	}

	throughput := float64(ops) / elapsed.Seconds()
	avgLat := float64(elapsed.Nanoseconds()) / float64(ops)

	p99 := "-"
	validLats := make([]int64, 0, ops)
	for _, l := range latencies {
		if l > 0 {
			validLats = append(validLats, l)
		}
	}
	if len(validLats) > 0 {
		sort.Slice(validLats, func(i, j int) bool { return validLats[i] < validLats[j] })
		p99Idx := int(float64(len(validLats)) * 0.99)
		if p99Idx >= len(validLats) {
			p99Idx = len(validLats) - 1
		}
		p99 = fmt.Sprintf("%d", validLats[p99Idx])
	}

	fmt.Printf("| %-10s | %-10.0f | %-12.0f | %-12s |\n", name, throughput, avgLat, p99)
}
