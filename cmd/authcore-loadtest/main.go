// Command authcore-loadtest measures the Redis-backed hot paths: session
// lookup, sliding-window admission and token verification.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/neaweb/authcore/internal/rate"
	"github.com/neaweb/authcore/jwt"
	"github.com/neaweb/authcore/session"
)

func main() {
	var (
		sessions    = pflag.Int("sessions", 100000, "number of sessions to seed")
		clients     = pflag.Int("clients", 10000, "distinct client keys for the admission phase")
		concurrency = pflag.Int("concurrency", 256, "number of concurrent workers")
		ops         = pflag.Int("ops", 200000, "operations per phase")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = pflag.String("prefix", "authcore:lt", "key prefix")
	)
	pflag.Parse()

	if *sessions <= 0 || *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewStore(client, *prefix+":sess", 24*time.Hour)

	fmt.Printf("seeding %d sessions...\n", *sessions)
	sids := make([]string, *sessions)
	startSeed := time.Now()
	for i := range sids {
		sid, err := store.Create(ctx, fmt.Sprintf("user-%d", i%1000))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		sids[i] = sid
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	limiter := rate.NewRedis(client, *prefix+":rl:", rate.Policies{
		"auth": {Window: 10 * time.Minute, Max: 5},
	}, time.Now)

	tokens, err := jwt.NewManager(jwt.Config{Secret: []byte("loadtest-secret-loadtest-secret!!")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "token manager: %v\n", err)
		os.Exit(1)
	}
	token, err := tokens.Issue("user-0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}

	lookupStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := store.Lookup(ctx, sids[r.Intn(len(sids))])
		return err
	})
	admitStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := limiter.Admit(ctx, "auth", fmt.Sprintf("10.0.%d", r.Intn(*clients)))
		return err
	})
	verifyStats := runPhase(*ops, *concurrency, func(*rand.Rand) error {
		_, err := tokens.Verify(token)
		return err
	})

	fmt.Println("---- results ----")
	printStats("session lookup", lookupStats)
	printStats("rate admit", admitStats)
	printStats("token verify", verifyStats)
}

// runPhase spreads ops calls of fn over concurrency workers.
func runPhase(ops, concurrency int, fn func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1))-1 >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
