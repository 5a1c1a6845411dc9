package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bountyboard/bountyd/internal/backup"
	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/bountyboard/bountyd/internal/leases"
	"github.com/bountyboard/bountyd/internal/metrics"
	"github.com/bountyboard/bountyd/internal/reconcile"
)

var (
	ErrInvalidConfig   = errors.New("sweep: invalid config")
	ErrSweepInProgress = errors.New("sweep: already running")
)

type Config struct {
	// EntryTimeout bounds the load, replay and clear of one backup entry.
	EntryTimeout time.Duration

	// Lease, when set, restricts sweeps to the replica holding it.
	Lease *leases.Guard

	Events  reconcile.EventPublisher
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// PassReport tallies one pass over a pending set.
type PassReport struct {
	Pending    int    `json:"pending"`
	Reconciled int    `json:"reconciled"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

func (p PassReport) counts() metrics.SweepCounts {
	return metrics.SweepCounts{Reconciled: p.Reconciled, Failed: p.Failed, Skipped: p.Skipped}
}

type Report struct {
	StartedAt   time.Time  `json:"startedAt"`
	ElapsedMS   int64      `json:"elapsedMs"`
	NotLeader   bool       `json:"notLeader,omitempty"`
	Creations   PassReport `json:"creations"`
	Completions PassReport `json:"completions"`
}

// Result is the metrics label for the run.
func (r Report) Result() string {
	switch {
	case r.NotLeader:
		return "not_leader"
	case r.Creations.Error != "" || r.Completions.Error != "":
		return "error"
	case r.Creations.Failed > 0 || r.Completions.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Sweeper replays backup entries into the primary store. Entries were
// verified on chain before they were queued, so they are not re-verified.
type Sweeper struct {
	store  bounty.Store
	backup backup.Queue
	cfg    Config
	log    *slog.Logger

	running sync.Mutex
}

func New(store bounty.Store, queue backup.Queue, cfg Config, log *slog.Logger) (*Sweeper, error) {
	if store == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{store: store, backup: queue, cfg: cfg, log: log}, nil
}

// Sweep drains pending creations, then pending completions. A failure on one
// entry never stops the pass, and a failed listing of one set never stops the
// other pass. Entries that fail stay queued for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	start := s.cfg.Now()
	rep := Report{StartedAt: start.UTC()}

	if s.cfg.Lease != nil {
		ok, err := s.cfg.Lease.Hold(ctx)
		if err != nil {
			return rep, fmt.Errorf("sweep: %w", err)
		}
		if !ok {
			rep.NotLeader = true
			s.log.Info("sweep skipped, lease held elsewhere")
			s.cfg.Metrics.ObserveSweep(rep.Result(), 0, metrics.SweepCounts{}, metrics.SweepCounts{})
			return rep, nil
		}
	}

	var errs []error
	if err := s.pass(ctx, metrics.KindCreate, s.backup.PendingCreationIDs, s.replayCreation, &rep.Creations); err != nil {
		errs = append(errs, err)
	}
	if err := s.pass(ctx, metrics.KindComplete, s.backup.PendingCompletionIDs, s.replayCompletion, &rep.Completions); err != nil {
		errs = append(errs, err)
	}

	elapsed := s.cfg.Now().Sub(start)
	rep.ElapsedMS = elapsed.Milliseconds()
	s.cfg.Metrics.ObserveSweep(rep.Result(), elapsed, rep.Creations.counts(), rep.Completions.counts())
	s.log.Info("sweep finished",
		"result", rep.Result(),
		"creationsReconciled", rep.Creations.Reconciled,
		"creationsFailed", rep.Creations.Failed,
		"completionsReconciled", rep.Completions.Reconciled,
		"completionsFailed", rep.Completions.Failed,
		"elapsed", elapsed,
	)
	return rep, errors.Join(errs...)
}

type entryResult int

const (
	entryReconciled entryResult = iota
	entryFailed
	entrySkipped
)

func (s *Sweeper) pass(
	ctx context.Context,
	kind string,
	list func(context.Context) ([]string, error),
	replay func(context.Context, string) entryResult,
	out *PassReport,
) error {
	ids, err := list(ctx)
	if err != nil {
		s.log.Error("list pending backup entries", "kind", kind, "err", err)
		out.Error = err.Error()
		return fmt.Errorf("sweep: list %s: %w", kind, err)
	}
	out.Pending = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			out.Error = ctx.Err().Error()
			return fmt.Errorf("sweep: %s pass: %w", kind, ctx.Err())
		}
		if _, err := bounty.ParseID(id); err != nil {
			s.log.Warn("skip unparseable backup member", "kind", kind, "member", id, "err", err)
			out.Skipped++
			continue
		}

		ectx, cancel := context.WithTimeout(ctx, s.cfg.EntryTimeout)
		res := replay(ectx, id)
		cancel()

		switch res {
		case entryReconciled:
			out.Reconciled++
		case entrySkipped:
			out.Skipped++
		default:
			out.Failed++
		}
	}
	return nil
}

func (s *Sweeper) replayCreation(ctx context.Context, id string) entryResult {
	b, err := s.backup.LoadCreation(ctx, id)
	switch {
	case errors.Is(err, backup.ErrNotFound), errors.Is(err, backup.ErrMalformed):
		s.log.Warn("skip unreadable backup creation", "bountyId", id, "err", err)
		return entrySkipped
	case err != nil:
		s.log.Error("load backup creation", "bountyId", id, "err", err)
		return entryFailed
	}

	stored, err := s.store.InsertBounty(ctx, b)
	switch {
	case err == nil:
		s.publish(ctx, func(ctx context.Context) error { return s.cfg.Events.BountyCreated(ctx, stored) })
	case errors.Is(err, bounty.ErrDuplicate):
		s.log.Info("backup creation already in primary store", "bountyId", id)
	case errors.Is(err, bounty.ErrInvalid):
		s.log.Warn("skip invalid backup creation", "bountyId", id, "err", err)
		return entrySkipped
	default:
		s.log.Error("replay backup creation", "bountyId", id, "err", err)
		return entryFailed
	}

	if err := s.backup.ClearCreation(ctx, id); err != nil {
		s.log.Error("clear backup creation", "bountyId", id, "err", err)
		return entryFailed
	}
	return entryReconciled
}

func (s *Sweeper) replayCompletion(ctx context.Context, id string) entryResult {
	c, err := s.backup.LoadCompletion(ctx, id)
	switch {
	case errors.Is(err, backup.ErrNotFound), errors.Is(err, backup.ErrMalformed):
		s.log.Warn("skip unreadable backup completion", "bountyId", id, "err", err)
		return entrySkipped
	case err != nil:
		s.log.Error("load backup completion", "bountyId", id, "err", err)
		return entryFailed
	}

	changed, err := s.store.CompleteBounty(ctx, c.BountyID, c.SubmissionID, c.Winner)
	switch {
	case err == nil:
		if changed {
			s.publish(ctx, func(ctx context.Context) error { return s.cfg.Events.BountyCompleted(ctx, c) })
		}
	case errors.Is(err, bounty.ErrConflict):
		s.log.Warn("backup completion conflicts with stored winner, dropping", "bountyId", id, "submissionId", c.SubmissionID)
	case errors.Is(err, bounty.ErrSubmissionNotFound), errors.Is(err, bounty.ErrWinnerMismatch):
		// The bounty is stored, so no later pass can make this entry apply.
		s.log.Warn("backup completion names no paid submission, dropping", "bountyId", id, "submissionId", c.SubmissionID, "winner", c.Winner.Hex(), "err", err)
	case errors.Is(err, bounty.ErrInvalid):
		s.log.Warn("skip invalid backup completion", "bountyId", id, "err", err)
		return entrySkipped
	default:
		// ErrNotFound included: the bounty may still be waiting in the creation set.
		s.log.Error("replay backup completion", "bountyId", id, "err", err)
		return entryFailed
	}

	if err := s.backup.ClearCompletion(ctx, id); err != nil {
		s.log.Error("clear backup completion", "bountyId", id, "err", err)
		return entryFailed
	}
	return entryReconciled
}

func (s *Sweeper) publish(ctx context.Context, fn func(context.Context) error) {
	if s.cfg.Events == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.log.Warn("publish lifecycle event", "err", err)
	}
}
