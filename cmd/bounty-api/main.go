package main

import (
	"context"
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
	"github.com/bountyboard/bountyd/internal/metrics"
	"github.com/bountyboard/bountyd/internal/queue"
	"github.com/bountyboard/bountyd/internal/reconcile"
	"github.com/bountyboard/bountyd/internal/secrets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := bootstrap.LoadDotEnv(bootstrap.DotEnvFiles()...); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	var (
		listenAddr = flag.String("listen", bootstrap.EnvString("BOUNTYD_LISTEN", "127.0.0.1:8080"), "HTTP listen address")
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

	rec, err := reconcile.New(reader, stores.Bounties, stores.Backup, reconcile.Config{
		Chain:        reader.Chain(),
		WriteTimeout: *storeWriteLimit,
		Events:       events.WithMetrics(m),
		Metrics:      m,
	}, log)
	if err != nil {
		log.Error("init reconciler", "err", err)
		os.Exit(2)
	}

	handler, err := bountyapi.NewPrimaryHandler(bountyapi.Config{
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
		Metrics:                 metrics.Handler(reg),
		Now:                     time.Now,
	}, rec, stores.Bounties, log)
	if err != nil {
		log.Error("init bounty api handler", "err", err)
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
		log.Info("bounty-api listening", "addr", *listenAddr, "chain", reader.Chain().Name, "storeDriver", *storeDriver, "queueDriver", *queueDriver)
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
