// Package bootstrap holds the process wiring the bountyd binaries share:
// env-backed flag defaults, secret resolution and store/chain construction.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bountyboard/bountyd/internal/backup"
	"github.com/bountyboard/bountyd/internal/bounty"
	bountypg "github.com/bountyboard/bountyd/internal/bounty/postgres"
	"github.com/bountyboard/bountyd/internal/chainreader"
	"github.com/bountyboard/bountyd/internal/chains"
	"github.com/bountyboard/bountyd/internal/leases"
	leasespg "github.com/bountyboard/bountyd/internal/leases/postgres"
	"github.com/bountyboard/bountyd/internal/secrets"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("bootstrap: invalid config")

// EnvFileVar lists extra dotenv files, comma-separated.
const EnvFileVar = "BOUNTYD_ENV_FILE"

// DotEnvFiles returns the files named by EnvFileVar.
func DotEnvFiles() []string {
	var out []string
	for _, f := range strings.Split(os.Getenv(EnvFileVar), ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// LoadDotEnv loads the given files, or ./.env when none are named. A missing
// file is not an error; variables already set in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("bootstrap: load %s: %w", f, err)
		}
	}
	return nil
}

func EnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func EnvInt(key string, def int) int {
	if n, err := strconv.Atoi(EnvString(key, "")); err == nil {
		return n
	}
	return def
}

func EnvFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(EnvString(key, ""), 64); err == nil {
		return f
	}
	return def
}

func EnvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(EnvString(key, "")); err == nil {
		return d
	}
	return def
}

func EnvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(EnvString(key, "")); err == nil {
		return b
	}
	return def
}

// NewLogger returns the text logger every binary writes to stderr.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// ResolveAll resolves each non-empty secret reference in place.
func ResolveAll(ctx context.Context, r *secrets.Resolver, refs ...*string) error {
	for _, ref := range refs {
		if ref == nil || strings.TrimSpace(*ref) == "" {
			continue
		}
		v, err := r.Resolve(ctx, strings.TrimSpace(*ref))
		if err != nil {
			return err
		}
		*ref = v
	}
	return nil
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	// Driver is postgres (with Redis for the backup queue) or memory.
	Driver         string
	PostgresDSN    string
	RedisURL       string
	RedisKeyPrefix string
}

// Stores is the storage one process runs against.
type Stores struct {
	Bounties bounty.Store
	Backup   backup.Queue
	Leases   leases.Store

	closers []func()
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores builds the bounty store, backup queue and lease store for
// cfg.Driver. Postgres schemas are ensured before it returns.
func OpenStores(ctx context.Context, cfg StoreConfig) (*Stores, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case StoreDriverMemory:
		return &Stores{
			Bounties: bounty.NewMemoryStore(nil),
			Backup:   backup.NewMemoryQueue(),
			Leases:   leases.NewMemoryStore(nil),
		}, nil
	case StoreDriverPostgres, "":
	default:
		return nil, fmt.Errorf("%w: store driver %q", ErrInvalidConfig, cfg.Driver)
	}
	if strings.TrimSpace(cfg.PostgresDSN) == "" || strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, fmt.Errorf("%w: postgres dsn and redis url are required", ErrInvalidConfig)
	}

	s := &Stores{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: pgx pool: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	bounties, err := bountypg.New(pool)
	if err != nil {
		return nil, err
	}
	if err := bounties.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: ensure bounty schema: %w", err)
	}
	leaseStore, err := leasespg.New(pool)
	if err != nil {
		return nil, err
	}
	if err := leaseStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: ensure lease schema: %w", err)
	}

	rdb, err := backup.Dial(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bootstrap: redis ping: %w", err)
	}
	queue, err := backup.NewRedisQueue(rdb, backup.RedisConfig{KeyPrefix: cfg.RedisKeyPrefix})
	if err != nil {
		return nil, err
	}

	s.Bounties, s.Backup, s.Leases = bounties, queue, leaseStore
	ok = true
	return s, nil
}

// OpenChainReader resolves chain by name or id and dials its RPC endpoint.
// The caller closes the returned client.
func OpenChainReader(ctx context.Context, chain, rpcURL string, callTimeout time.Duration, log *slog.Logger) (*ethclient.Client, *chainreader.Reader, error) {
	ch, err := chains.Builtin().Lookup(chain)
	if err != nil {
		return nil, nil, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: dial rpc: %w", err)
	}
	reader, err := chainreader.New(client, chainreader.Config{Chain: ch, CallTimeout: callTimeout}, log)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, reader, nil
}
