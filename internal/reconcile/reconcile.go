package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bountyboard/bountyd/internal/backup"
	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/bountyboard/bountyd/internal/chainreader"
	"github.com/bountyboard/bountyd/internal/chains"
	"github.com/bountyboard/bountyd/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidConfig      = errors.New("reconcile: invalid config")
	ErrInvalid            = errors.New("reconcile: invalid request")
	ErrNotFound           = errors.New("reconcile: bounty not found on chain")
	ErrConflict           = errors.New("reconcile: conflict")
	ErrVerificationFailed = errors.New("reconcile: payment details not found")
	ErrUnavailable        = errors.New("reconcile: unavailable")
)

// Outcome tells a caller where a verified write landed.
type Outcome int

const (
	OutcomeStored Outcome = iota + 1
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomePending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

type ChainReader interface {
	VerifyBountyExists(ctx context.Context, id common.Hash, token string) (chainreader.OnChainBounty, error)
	VerifyPayment(ctx context.Context, txHash common.Hash, token string) (chainreader.Payment, bool, error)
}

// EventPublisher receives lifecycle events after the primary store accepted a write.
type EventPublisher interface {
	BountyCreated(ctx context.Context, b bounty.Bounty) error
	BountyCompleted(ctx context.Context, c bounty.Completion) error
}

type Config struct {
	Chain chains.Chain

	// WriteTimeout bounds the store/backup stage, which runs detached from the
	// caller's context once on-chain verification succeeded.
	WriteTimeout time.Duration

	Events  EventPublisher
	Metrics *metrics.Metrics
}

type Reconciler struct {
	chain  ChainReader
	store  bounty.Store
	backup backup.Queue
	cfg    Config
	log    *slog.Logger
}

func New(chain ChainReader, store bounty.Store, queue backup.Queue, cfg Config, log *slog.Logger) (*Reconciler, error) {
	if chain == nil || store == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.Chain.ID == 0 {
		return nil, fmt.Errorf("%w: chain is required", ErrInvalidConfig)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{chain: chain, store: store, backup: queue, cfg: cfg, log: log}, nil
}

// CreateBounty verifies the bounty on chain, then records it in the primary
// store or, failing that, in the backup queue. Amount and creator always come
// from the chain.
func (r *Reconciler) CreateBounty(ctx context.Context, in bounty.Bounty) (bounty.Bounty, Outcome, error) {
	b, err := r.normalizeCreation(in)
	if err != nil {
		r.observe(metrics.KindCreate, 0, err)
		return bounty.Bounty{}, 0, err
	}

	onchain, err := r.chain.VerifyBountyExists(ctx, b.ID, b.Token)
	if err != nil {
		err = classifyChainErr(err)
		r.observe(metrics.KindCreate, 0, err)
		return bounty.Bounty{}, 0, err
	}
	if onchain.Creator != b.Creator {
		r.log.Info("creator overridden by chain", "bountyId", b.ID.Hex(), "claimed", b.Creator.Hex(), "onchain", onchain.Creator.Hex())
	}
	b.Creator = onchain.Creator
	b.Amount = onchain.Amount

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()

	stored, err := r.store.InsertBounty(wctx, b)
	switch {
	case err == nil:
		r.observe(metrics.KindCreate, OutcomeStored, nil)
		r.publish(wctx, "created", func(ctx context.Context) error { return r.cfg.Events.BountyCreated(ctx, stored) })
		return stored, OutcomeStored, nil
	case errors.Is(err, bounty.ErrDuplicate):
		err = fmt.Errorf("%w: bounty %s already exists", ErrConflict, b.ID.Hex())
		r.observe(metrics.KindCreate, 0, err)
		return bounty.Bounty{}, 0, err
	case errors.Is(err, bounty.ErrInvalid):
		err = fmt.Errorf("%w: %w", ErrInvalid, err)
		r.observe(metrics.KindCreate, 0, err)
		return bounty.Bounty{}, 0, err
	}

	r.log.Warn("primary insert failed, falling back to backup", "bountyId", b.ID.Hex(), "err", err)
	if qerr := r.backup.EnqueueCreation(wctx, b); qerr != nil {
		r.log.Error("backup enqueue failed", "bountyId", b.ID.Hex(), "err", qerr)
		err = fmt.Errorf("%w: primary: %v; backup: %v", ErrUnavailable, err, qerr)
		r.observe(metrics.KindCreate, 0, err)
		return bounty.Bounty{}, 0, err
	}
	r.observe(metrics.KindCreate, OutcomePending, nil)
	return b, OutcomePending, nil
}

// CompleteBounty verifies the payout transaction, then marks the bounty and
// winning submission complete in the primary store or the backup queue.
// Nothing is written when verification fails.
func (r *Reconciler) CompleteBounty(ctx context.Context, c bounty.Completion) (Outcome, error) {
	c.TokenType = normalizeToken(c.TokenType)
	if err := c.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalid, err)
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	}
	if _, err := r.cfg.Chain.Token(c.TokenType); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalid, err)
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	}

	payment, ok, err := r.chain.VerifyPayment(ctx, c.Hash, c.TokenType)
	if err != nil {
		err = classifyChainErr(err)
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	}
	if !ok {
		r.observe(metrics.KindComplete, 0, ErrVerificationFailed)
		return 0, ErrVerificationFailed
	}
	if payment.BountyID != c.BountyID {
		r.log.Warn("payment is for another bounty", "bountyId", c.BountyID.Hex(), "paidBountyId", payment.BountyID.Hex(), "txHash", c.Hash.Hex())
		err = fmt.Errorf("%w: tx pays bounty %s", ErrVerificationFailed, payment.BountyID.Hex())
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	}

	if payment.Winner == (common.Address{}) {
		err = fmt.Errorf("%w: tx %s names no winner", ErrVerificationFailed, c.Hash.Hex())
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	}
	c.Winner = payment.Winner

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()

	changed, err := r.store.CompleteBounty(wctx, c.BountyID, c.SubmissionID, c.Winner)
	switch {
	case err == nil:
		r.observe(metrics.KindComplete, OutcomeStored, nil)
		if changed {
			r.publish(wctx, "completed", func(ctx context.Context) error { return r.cfg.Events.BountyCompleted(ctx, c) })
		}
		return OutcomeStored, nil
	case errors.Is(err, bounty.ErrConflict):
		err = fmt.Errorf("%w: bounty %s already completed by another submission", ErrConflict, c.BountyID.Hex())
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	case errors.Is(err, bounty.ErrWinnerMismatch):
		r.log.Warn("submission creator is not the paid winner", "bountyId", c.BountyID.Hex(), "submissionId", c.SubmissionID, "winner", c.Winner.Hex(), "txHash", c.Hash.Hex())
		err = fmt.Errorf("%w: tx pays %s, not the creator of submission %d", ErrVerificationFailed, c.Winner.Hex(), c.SubmissionID)
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	case errors.Is(err, bounty.ErrSubmissionNotFound):
		err = fmt.Errorf("%w: submission %d is not part of bounty %s", ErrInvalid, c.SubmissionID, c.BountyID.Hex())
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	case errors.Is(err, bounty.ErrInvalid):
		err = fmt.Errorf("%w: %w", ErrInvalid, err)
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	}

	// A missing bounty lands here too: its creation may still be pending in
	// the backup queue, and the sweep replays creations first. Submissions are
	// only written to the primary store, so a known bounty with an unknown
	// submission is rejected above instead.
	r.log.Warn("primary completion failed, falling back to backup", "bountyId", c.BountyID.Hex(), "err", err)
	if qerr := r.backup.EnqueueCompletion(wctx, c); qerr != nil {
		r.log.Error("backup enqueue failed", "bountyId", c.BountyID.Hex(), "err", qerr)
		err = fmt.Errorf("%w: primary: %v; backup: %v", ErrUnavailable, err, qerr)
		r.observe(metrics.KindComplete, 0, err)
		return 0, err
	}
	r.observe(metrics.KindComplete, OutcomePending, nil)
	return OutcomePending, nil
}

func (r *Reconciler) normalizeCreation(b bounty.Bounty) (bounty.Bounty, error) {
	b.Token = normalizeToken(b.Token)
	switch b.Status {
	case "", bounty.StatusOngoing:
		b.Status = bounty.StatusOngoing
	default:
		return bounty.Bounty{}, fmt.Errorf("%w: new bounties must be ongoing", ErrInvalid)
	}
	if b.ChainID == 0 {
		b.ChainID = r.cfg.Chain.ID
	}
	if b.ChainID != r.cfg.Chain.ID {
		return bounty.Bounty{}, fmt.Errorf("%w: chainId %d is not served here (want %d)", ErrInvalid, b.ChainID, r.cfg.Chain.ID)
	}
	if err := b.Validate(); err != nil {
		return bounty.Bounty{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := r.cfg.Chain.Token(b.Token); err != nil {
		return bounty.Bounty{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	b.CreatedAt = time.Time{}
	b.UpdatedAt = time.Time{}
	return b, nil
}

func (r *Reconciler) publish(ctx context.Context, what string, fn func(context.Context) error) {
	if r.cfg.Events == nil {
		return
	}
	if err := fn(ctx); err != nil {
		r.log.Warn("publish lifecycle event", "event", what, "err", err)
	}
}

func (r *Reconciler) observe(kind string, o Outcome, err error) {
	if err == nil {
		r.cfg.Metrics.ObserveReconcile(kind, o.String())
		return
	}
	r.cfg.Metrics.ObserveReconcile(kind, ErrorLabel(err))
}

// ErrorLabel names the error class of a reconcile failure.
func ErrorLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	default:
		return "unavailable"
	}
}

func classifyChainErr(err error) error {
	switch {
	case errors.Is(err, chainreader.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, chains.ErrUnknownToken):
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	default:
		return fmt.Errorf("%w: chain: %w", ErrUnavailable, err)
	}
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return chains.DefaultToken
	}
	return s
}
