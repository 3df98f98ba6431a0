package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/myuser/mvccdb/internal/storage"
	"github.com/myuser/mvccdb/internal/storage/mvcc"
)

type result struct {
	commits   int64
	conflicts int64
	failures  int64
	elapsed   time.Duration
}

func main() {
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	duration := flag.Duration("duration", 10*time.Second, "Test duration")
	keys := flag.Int("keys", 100, "Number of counters; fewer means more conflicts")
	retries := flag.Int("retries", 10, "Conflict retries per increment")
	logPath := flag.String("log", "", "Use a log engine at this path instead of memory")
	flag.Parse()

	var engine storage.Engine = storage.NewMemoryStore()
	if *logPath != "" {
		ls, err := storage.OpenLogStore(*logPath, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		engine = ls
	}
	db, err := mvcc.New(engine, mvcc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Starting Benchmark: %d workers, %v duration, %d keys\n", *concurrency, *duration, *keys)

	res, err := run(db, *concurrency, *duration, *keys, *retries)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	total, err := sumCounters(db, *keys)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("Benchmark Finished.")
	fmt.Printf("Commits: %d\n", res.commits)
	fmt.Printf("Conflicts: %d\n", res.conflicts)
	fmt.Printf("Gave up: %d\n", res.failures)
	fmt.Printf("Duration: %v\n", res.elapsed)
	fmt.Printf("TPS: %.2f\n", float64(res.commits)/res.elapsed.Seconds())
	if total != res.commits {
		fmt.Printf("LOST UPDATES: counters sum to %d, want %d\n", total, res.commits)
		os.Exit(1)
	}
	fmt.Println("Counters consistent.")
}

// run submits read-modify-write increments to a bounded pool until duration
// elapses.
func run(db *mvcc.MVCC, concurrency int, duration time.Duration, keys, retries int) (result, error) {
	var res result
	pool, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(v any) {
		fmt.Fprintf(os.Stderr, "worker panic: %v\n", v)
	}))
	if err != nil {
		return res, err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	start := time.Now()
	deadline := start.Add(duration)
	for time.Now().Before(deadline) {
		key := counterKey(rand.Intn(keys))
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			for attempt := 0; attempt <= retries; attempt++ {
				err := increment(db, key)
				switch {
				case err == nil:
					atomic.AddInt64(&res.commits, 1)
					return
				case errors.Is(err, mvcc.ErrConflict):
					atomic.AddInt64(&res.conflicts, 1)
				default:
					fmt.Fprintf(os.Stderr, "increment %s: %v\n", key, err)
					atomic.AddInt64(&res.failures, 1)
					return
				}
			}
			atomic.AddInt64(&res.failures, 1)
		})
		if err != nil {
			wg.Done()
			return res, err
		}
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	return res, nil
}

func increment(db *mvcc.MVCC, key []byte) error {
	return db.Update(func(txn *mvcc.Transaction) error {
		raw, err := txn.Get(key)
		if err != nil {
			return err
		}
		n := int64(0)
		if raw != nil {
			if n, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
				return err
			}
		}
		return txn.Set(key, []byte(strconv.FormatInt(n+1, 10)))
	})
}

func sumCounters(db *mvcc.MVCC, keys int) (int64, error) {
	var total int64
	err := db.View(func(txn *mvcc.Transaction) error {
		entries, err := txn.ScanPrefix([]byte("counter/"))
		if err != nil {
			return err
		}
		for _, e := range entries {
			n, err := strconv.ParseInt(string(e.Value), 10, 64)
			if err != nil {
				return fmt.Errorf("counter %s: %w", e.Key, err)
			}
			total += n
		}
		if len(entries) > keys {
			return fmt.Errorf("found %d counters, want at most %d", len(entries), keys)
		}
		return nil
	})
	return total, err
}

func counterKey(i int) []byte {
	return []byte(fmt.Sprintf("counter/%05d", i))
}
