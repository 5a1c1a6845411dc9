package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bountyboard/bountyd/internal/bootstrap"
	"github.com/bountyboard/bountyd/internal/leases"
	"github.com/bountyboard/bountyd/internal/secrets"
	"github.com/bountyboard/bountyd/internal/sweep"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func run(args []string, stdout io.Writer) error {
	if err := bootstrap.LoadDotEnv(bootstrap.DotEnvFiles()...); err != nil {
		return usageError{msg: err.Error()}
	}

	fs := flag.NewFlagSet("bounty-sweep", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	postgresDSN := fs.String("postgres-dsn", bootstrap.EnvString("BOUNTYD_POSTGRES_DSN", ""), "Postgres DSN, env:// or awssm:// reference (required)")
	redisURL := fs.String("redis-url", bootstrap.EnvString("BOUNTYD_REDIS_URL", ""), "backup queue Redis URL, env:// or awssm:// reference (required)")
	redisPrefix := fs.String("redis-key-prefix", bootstrap.EnvString("BOUNTYD_REDIS_KEY_PREFIX", "bounty:"), "backup queue key prefix")
	entryTimeout := fs.Duration("entry-timeout", bootstrap.EnvDuration("BOUNTYD_SWEEP_ENTRY_TIMEOUT", 10*time.Second), "timeout for replaying one backup entry")
	runTimeout := fs.Duration("timeout", bootstrap.EnvDuration("BOUNTYD_SWEEP_RUN_TIMEOUT", 30*time.Minute), "overall timeout")
	useLease := fs.Bool("lease", true, "take the cross-replica sweep lease before running")
	leaseTTL := fs.Duration("lease-ttl", bootstrap.EnvDuration("BOUNTYD_SWEEP_LEASE_TTL", 45*time.Minute), "TTL of the sweep lease")
	logLevel := fs.String("log-level", bootstrap.EnvString("BOUNTYD_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")

	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if strings.TrimSpace(*postgresDSN) == "" || strings.TrimSpace(*redisURL) == "" {
		return usageError{msg: "--postgres-dsn and --redis-url are required"}
	}
	if *entryTimeout <= 0 || *runTimeout <= 0 || *leaseTTL <= 0 {
		return usageError{msg: "timeouts and --lease-ttl must be > 0"}
	}
	if *useLease {
		if err := sweep.CheckLeaseTTL(*leaseTTL, *runTimeout); err != nil {
			return usageError{msg: "--lease-ttl must exceed --timeout: " + err.Error()}
		}
	}

	log := bootstrap.NewLogger(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *runTimeout)
	defer cancel()

	if err := bootstrap.ResolveAll(ctx, secrets.NewResolver(nil), postgresDSN, redisURL); err != nil {
		return err
	}

	stores, err := bootstrap.OpenStores(ctx, bootstrap.StoreConfig{
		Driver:         bootstrap.StoreDriverPostgres,
		PostgresDSN:    *postgresDSN,
		RedisURL:       *redisURL,
		RedisKeyPrefix: *redisPrefix,
	})
	if err != nil {
		return err
	}
	defer stores.Close()

	cfg := sweep.Config{EntryTimeout: *entryTimeout}
	if *useLease {
		guard, err := leases.NewGuard(stores.Leases, leases.SweepLease, leases.NewOwner(), *leaseTTL)
		if err != nil {
			return err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = guard.Release(releaseCtx)
		}()
		cfg.Lease = guard
	}

	sweeper, err := sweep.New(stores.Bounties, stores.Backup, cfg, log)
	if err != nil {
		return err
	}
	report, sweepErr := sweeper.Sweep(ctx)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	return sweepErr
}
