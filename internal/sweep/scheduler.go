package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// DefaultCron runs the sweep at the top of every hour.
const DefaultCron = "0 * * * *"

type SchedulerConfig struct {
	// Cron is a five-field cron expression. Ignored when Interval is set.
	Cron     string
	Interval time.Duration
	Location *time.Location

	// RunTimeout bounds one scheduled sweep.
	RunTimeout time.Duration
	RunOnStart bool
}

// Scheduler runs a Sweeper on a schedule. A run that is still going when the
// next one is due causes that next run to be skipped.
type Scheduler struct {
	sched   gocron.Scheduler
	sweeper *Sweeper
	cfg     SchedulerConfig
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	job    gocron.Job
}

func NewScheduler(sw *Sweeper, cfg SchedulerConfig, log *slog.Logger) (*Scheduler, error) {
	if sw == nil {
		return nil, fmt.Errorf("%w: nil sweeper", ErrInvalidConfig)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: interval must be >= 0", ErrInvalidConfig)
	}
	cfg.Cron = strings.TrimSpace(cfg.Cron)
	if cfg.Interval == 0 && cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if sw.cfg.Lease != nil {
		if err := CheckLeaseTTL(sw.cfg.Lease.TTL(), cfg.RunTimeout); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sched, err := gocron.NewScheduler(
		gocron.WithLocation(cfg.Location),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("sweep: new scheduler: %w", err)
	}

	s := &Scheduler{sched: sched, sweeper: sw, cfg: cfg, log: log}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	def := gocron.CronJob(cfg.Cron, false)
	if cfg.Interval > 0 {
		def = gocron.DurationJob(cfg.Interval)
	}
	opts := []gocron.JobOption{
		gocron.WithName("bounty-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if cfg.RunOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	job, err := sched.NewJob(def, gocron.NewTask(s.run), opts...)
	if err != nil {
		_ = sched.Shutdown()
		s.cancel()
		return nil, fmt.Errorf("%w: schedule: %v", ErrInvalidConfig, err)
	}
	s.job = job
	return s, nil
}

// CheckLeaseTTL rejects a lease that could expire before a sweep bounded by
// runTimeout finishes. The lease is taken once per sweep, so a shorter TTL
// would let another replica start sweeping mid-run.
func CheckLeaseTTL(ttl, runTimeout time.Duration) error {
	if ttl <= runTimeout {
		return fmt.Errorf("%w: lease ttl %s must exceed run timeout %s", ErrInvalidConfig, ttl, runTimeout)
	}
	return nil
}

// Start begins scheduling. Runs started after ctx is done see a cancelled context.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
	s.sched.Start()
}

// NextRun reports when the sweep is next due.
func (s *Scheduler) NextRun() (time.Time, error) {
	return s.job.NextRun()
}

// Shutdown cancels a running sweep and waits for it to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("sweep: shutdown scheduler: %w", err)
	}
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RunTimeout)
	defer cancel()

	_, err := s.sweeper.Sweep(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.log.Info("scheduled sweep skipped, manual sweep running")
	case err != nil:
		s.log.Error("scheduled sweep", "err", err)
	}
}
