package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vhorizon/authstate"
	"github.com/vhorizon/authstate/roles"
	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

// outageAuth simulates an auth backend that never answers within the budget.
type outageAuth struct{}

func (outageAuth) GetSession(ctx context.Context) (*session.Session, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (outageAuth) SignOut(context.Context) error { return nil }

func (outageAuth) OnAuthStateChange(func(session.Event, *session.Session)) func() {
	return func() {}
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of persisted sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (init + events)")
		initBudget  = flag.Duration("init-timeout", 20*time.Millisecond, "primary fetch budget per resolver")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authstate-load:", "token key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 || *initBudget <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, ops and init-timeout must be > 0")
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
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := tokenstore.NewRedisStore(client, *prefix, time.Hour)
	roleStore := roles.NewMemoryStore()

	fmt.Printf("seeding %d sessions...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		blob, err := session.Encode(buildSession(i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode failed: %v\n", err)
			os.Exit(1)
		}
		if err := store.Save(ctx, storageKey(i), blob); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
		if i%10 == 0 {
			roleStore.Grant(userID(i), "admin")
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	cfg := authstate.DefaultConfig()
	cfg.Init.Timeout = *initBudget
	cfg.Init.LateRefine = false
	cfg.Init.DeferRoleOnFallback = true
	cfg.Init.Retry = authstate.RetryConfig{MaxAttempts: 1}

	initStats := runInitPhase(ctx, cfg, store, roleStore, *users, *ops, *concurrency)
	eventStats := runEventPhase(ctx, cfg, store, roleStore, *users, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("init (outage, fallback)", initStats)
	printStats("auth events", eventStats)
}

// runInitPhase initializes one resolver per operation while the primary is
// down, so every run goes through the token-store fallback.
func runInitPhase(ctx context.Context, cfg authstate.Config, store tokenstore.Store, rs authstate.RoleStore, users, ops, concurrency int) phaseStats {
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
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				c := cfg
				c.Storage.Key = storageKey(r.Intn(users))
				res, err := authstate.New().
					WithConfig(c).
					WithAuthClient(outageAuth{}).
					WithRoleStore(rs).
					WithTokenStore(store).
					WithMetricsEnabled(false).
					Build()
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				out := res.Initialize(ctx)
				res.Close()
				if out.Outcome != authstate.OutcomeDegraded {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, out.Elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runEventPhase drives concurrent auth events through one resolver and checks
// the snapshot invariant after each.
func runEventPhase(ctx context.Context, cfg authstate.Config, store tokenstore.Store, rs authstate.RoleStore, users, ops, concurrency int) phaseStats {
	c := cfg
	c.Storage.Key = storageKey(0)
	res, err := authstate.New().
		WithConfig(c).
		WithAuthClient(outageAuth{}).
		WithRoleStore(rs).
		WithTokenStore(store).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build resolver: %v\n", err)
		os.Exit(1)
	}
	defer res.Close()
	res.Initialize(ctx)

	events := []session.Event{session.EventSignedIn, session.EventTokenRefreshed, session.EventUserUpdated, session.EventSignedOut}

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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				ev := events[r.Intn(len(events))]
				var s *session.Session
				if ev != session.EventSignedOut {
					s = buildSession(r.Intn(users))
				}

				t0 := time.Now()
				res.HandleAuthEvent(ctx, ev, s)
				d := time.Since(t0)

				snap := res.Snapshot()
				if snap.User == nil && (snap.Session != nil || snap.IsAdmin) {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
		return phaseStats{total: total, failures: failures}
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

func userID(i int) string     { return fmt.Sprintf("user-%d", i) }
func storageKey(i int) string { return fmt.Sprintf("sb-load%d-auth-token", i) }

func buildSession(i int) *session.Session {
	now := time.Now()
	return &session.Session{
		AccessToken:  fmt.Sprintf("access-%d", i),
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    now.Add(time.Hour).Unix(),
		RefreshToken: fmt.Sprintf("refresh-%d", i),
		User: &session.User{
			ID:    userID(i),
			Email: fmt.Sprintf("user-%d@load.test", i),
		},
	}
}
