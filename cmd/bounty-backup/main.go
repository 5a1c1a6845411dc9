package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bountyboard/bountyd/internal/bootstrap"
	"github.com/bountyboard/bountyd/internal/bountyapi"
	"github.com/bountyboard/bountyd/internal/leases"
	"github.com/bountyboard/bountyd/internal/metrics"
	"github.com/bountyboard/bountyd/internal/queue"
	"github.com/bountyboard/bountyd/internal/reconcile"
	"github.com/bountyboard/bountyd/internal/secrets"
	"github.com/bountyboard/bountyd/internal/sweep"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := bootstrap.LoadDotEnv(bootstrap.DotEnvFiles()...); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	var (
		listenAddr = flag.String("listen", bootstrap.EnvString("BOUNTYD_BACKUP_LISTEN", "127.0.0.1:8081"), "HTTP listen address")
		logLevel   = flag.String("log-level", bootstrap.EnvString("BOUNTYD_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")

		storeDriver = flag.String("store-driver", bootstrap.EnvString("BOUNTYD_STORE_DRIVER", bootstrap.StoreDriverPostgres), "storage driver (postgres|memory)")
		postgresDSN = flag.String("postgres-dsn", bootstrap.EnvString("BOUNTYD_POSTGRES_DSN", ""), "Postgres DSN, env:// or awssm:// reference (postgres driver)")
		redisURL    = flag.String("redis-url", bootstrap.EnvString("BOUNTYD_REDIS_URL", ""), "backup queue Redis URL, env:// or awssm:// reference (postgres driver)")
		redisPrefix = flag.String("redis-key-prefix", bootstrap.EnvString("BOUNTYD_REDIS_KEY_PREFIX", "bounty:"), "backup queue key prefix")

		chainName       = flag.String("chain", bootstrap.EnvString("BOUNTYD_CHAIN", "arbitrumSepolia"), "chain name or id")
		rpcURL          = flag.String("rpc-url", bootstrap.EnvString("BOUNTYD_RPC_URL", ""), "chain RPC URL, env:// or awssm:// reference (required)")
		rpcCallTimeout  = flag.Duration("rpc-call-timeout", bootstrap.EnvDuration("BOUNTYD_RPC_CALL_TIMEOUT", 15*time.Second), "timeout for one contract call or receipt lookup")
		storeWriteLimit = flag.Duration("store-write-timeout", bootstrap.EnvDuration("BOUNTYD_STORE_WRITE_TIMEOUT", 10*time.Second), "timeout for the store/backup stage of a verified write")

		queueDriver  = flag.String("queue-driver", bootstrap.EnvString("BOUNTYD_QUEUE_DRIVER", queue.DriverNone), "lifecycle event driver (kafka|stdio|none)")
		queueBrokers = flag.String("queue-brokers", bootstrap.EnvString("BOUNTYD_QUEUE_BROKERS", ""), "kafka brokers (comma-separated)")
		queueTLS     = flag.Bool("queue-kafka-tls", bootstrap.EnvBool("BOUNTYD_QUEUE_KAFKA_TLS", false), "connect to kafka over TLS")

		sweepEnabled      = flag.Bool("sweep", bootstrap.EnvBool("BOUNTYD_SWEEP_ENABLED", true), "run the scheduled backup sweep")
		sweepCron         = flag.String("sweep-cron", bootstrap.EnvString("BOUNTYD_SWEEP_CRON", sweep.DefaultCron), "cron expression for the backup sweep")
		sweepInterval     = flag.Duration("sweep-interval", bootstrap.EnvDuration("BOUNTYD_SWEEP_INTERVAL", 0), "fixed sweep interval; overrides --sweep-cron when > 0")
		sweepOnStart      = flag.Bool("sweep-on-start", bootstrap.EnvBool("BOUNTYD_SWEEP_ON_START", false), "sweep once at startup")
		sweepRunTimeout   = flag.Duration("sweep-run-timeout", bootstrap.EnvDuration("BOUNTYD_SWEEP_RUN_TIMEOUT", 30*time.Minute), "timeout for one sweep")
		sweepEntryTimeout = flag.Duration("sweep-entry-timeout", bootstrap.EnvDuration("BOUNTYD_SWEEP_ENTRY_TIMEOUT", 10*time.Second), "timeout for replaying one backup entry")
		sweepLeaseTTL     = flag.Duration("sweep-lease-ttl", bootstrap.EnvDuration("BOUNTYD_SWEEP_LEASE_TTL", 45*time.Minute), "TTL of the cross-replica sweep lease")

		rateLimitPerSecond = flag.Float64("rate-limit-per-ip-per-second", bootstrap.EnvFloat("BOUNTYD_RATE_LIMIT_PER_SECOND", 20), "per-IP refill rate for API rate limiting")
		rateLimitBurst     = flag.Int("rate-limit-burst", bootstrap.EnvInt("BOUNTYD_RATE_LIMIT_BURST", 40), "per-IP burst capacity for API rate limiting")
		rateLimitMaxIPs    = flag.Int("rate-limit-max-tracked-ips", bootstrap.EnvInt("BOUNTYD_RATE_LIMIT_MAX_IPS", 10000), "maximum tracked client IP entries in rate limiter")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 30*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := bootstrap.NewLogger(*logLevel)

	if strings.TrimSpace(*rpcURL) == "" {
		fmt.Fprintln(os.Stderr, "error: --rpc-url is required")
		os.Exit(2)
	}
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 || *rpcCallTimeout <= 0 || *storeWriteLimit <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}
	if *sweepEnabled {
		if err := checkSweepFlags(*sweepRunTimeout, *sweepEntryTimeout, *sweepLeaseTTL, *sweepInterval); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
	}
	if *rateLimitPerSecond <= 0 || *rateLimitBurst <= 0 || *rateLimitMaxIPs <= 0 {
		fmt.Fprintln(os.Stderr, "error: rate limit settings must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.ResolveAll(ctx, secrets.NewResolver(nil), postgresDSN, redisURL, rpcURL); err != nil {
		log.Error("resolve secrets", "err", err)
		os.Exit(2)
	}

	stores, err := bootstrap.OpenStores(ctx, bootstrap.StoreConfig{
		Driver:         *storeDriver,
		PostgresDSN:    *postgresDSN,
		RedisURL:       *redisURL,
		RedisKeyPrefix: *redisPrefix,
	})
	if err != nil {
		log.Error("init stores", "driver", *storeDriver, "err", err)
		os.Exit(2)
	}
	defer stores.Close()

	rpc, reader, err := bootstrap.OpenChainReader(ctx, *chainName, *rpcURL, *rpcCallTimeout, log)
	if err != nil {
		log.Error("init chain reader", "err", err)
		os.Exit(2)
	}
	defer rpc.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
		TLS:     *queueTLS,
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer producer.Close()
	events, err := queue.NewEvents(producer, time.Now)
	if err != nil {
		log.Error("init lifecycle events", "err", err)
		os.Exit(2)
	}
	events = events.WithMetrics(m)

	rec, err := reconcile.New(reader, stores.Bounties, stores.Backup, reconcile.Config{
		Chain:        reader.Chain(),
		WriteTimeout: *storeWriteLimit,
		Events:       events,
		Metrics:      m,
	}, log)
	if err != nil {
		log.Error("init reconciler", "err", err)
		os.Exit(2)
	}

	if *sweepEnabled {
		guard, err := leases.NewGuard(stores.Leases, leases.SweepLease, leases.NewOwner(), *sweepLeaseTTL)
		if err != nil {
			log.Error("init sweep lease", "err", err)
			os.Exit(2)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := guard.Release(releaseCtx); err != nil {
				log.Warn("release sweep lease", "err", err)
			}
		}()

		sweeper, err := sweep.New(stores.Bounties, stores.Backup, sweep.Config{
			EntryTimeout: *sweepEntryTimeout,
			Lease:        guard,
			Events:       events,
			Metrics:      m,
		}, log)
		if err != nil {
			log.Error("init sweeper", "err", err)
			os.Exit(2)
		}
		sched, err := sweep.NewScheduler(sweeper, sweep.SchedulerConfig{
			Cron:       *sweepCron,
			Interval:   *sweepInterval,
			RunTimeout: *sweepRunTimeout,
			RunOnStart: *sweepOnStart,
		}, log)
		if err != nil {
			log.Error("init sweep scheduler", "err", err)
			os.Exit(2)
		}
		sched.Start(ctx)
		defer func() {
			if err := sched.Shutdown(); err != nil {
				log.Warn("sweep scheduler shutdown", "err", err)
			}
		}()
		if next, err := sched.NextRun(); err == nil {
			log.Info("sweep scheduled", "owner", guard.Owner(), "nextRun", next)
		}
	}

	handler, err := bountyapi.NewBackupHandler(bountyapi.Config{
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
		Metrics:                 metrics.Handler(reg),
		Now:                     time.Now,
	}, rec, stores.Bounties, log)
	if err != nil {
		log.Error("init backup handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("bounty-backup listening", "addr", *listenAddr, "chain", reader.Chain().Name, "storeDriver", *storeDriver, "sweep", *sweepEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func checkSweepFlags(runTimeout, entryTimeout, leaseTTL, interval time.Duration) error {
	if runTimeout <= 0 || entryTimeout <= 0 || leaseTTL <= 0 || interval < 0 {
		return errors.New("sweep timeouts and lease ttl must be > 0")
	}
	if err := sweep.CheckLeaseTTL(leaseTTL, runTimeout); err != nil {
		return fmt.Errorf("--sweep-lease-ttl must exceed --sweep-run-timeout: %w", err)
	}
	return nil
}
