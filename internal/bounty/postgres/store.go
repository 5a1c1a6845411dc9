package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("bounty/postgres: invalid config")

const pgUniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("bounty/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) InsertBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, error) {
	if s == nil || s.pool == nil {
		return bounty.Bounty{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if b.Status == "" {
		b.Status = bounty.StatusOngoing
	}
	if err := b.Validate(); err != nil {
		return bounty.Bounty{}, err
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO bounties (
			id,
			creator,
			title,
			description,
			token,
			amount,
			chain_id,
			status,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,now(),now())
		RETURNING created_at, updated_at
	`, b.ID[:], b.Creator[:], b.Title, b.Description, b.Token, b.Amount.String(), int64(b.ChainID), string(b.Status)).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return bounty.Bounty{}, bounty.ErrDuplicate
		}
		return bounty.Bounty{}, fmt.Errorf("bounty/postgres: insert bounty: %w", err)
	}
	return b, nil
}

const bountyColumns = `id, creator, title, description, token, amount::text, chain_id, status, created_at, updated_at`

func (s *Store) GetBounty(ctx context.Context, id common.Hash) (bounty.Bounty, error) {
	if s == nil || s.pool == nil {
		return bounty.Bounty{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	row := s.pool.QueryRow(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = $1`, id[:])
	b, err := scanBounty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bounty.Bounty{}, bounty.ErrNotFound
		}
		return bounty.Bounty{}, fmt.Errorf("bounty/postgres: get bounty: %w", err)
	}
	return b, nil
}

func (s *Store) ListBounties(ctx context.Context) ([]bounty.Bounty, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+bountyColumns+` FROM bounties ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("bounty/postgres: list bounties: %w", err)
	}
	defer rows.Close()

	out := make([]bounty.Bounty, 0)
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, fmt.Errorf("bounty/postgres: scan bounty: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bounty/postgres: list bounties: %w", err)
	}
	return out, nil
}

func (s *Store) InsertSubmission(ctx context.Context, sub bounty.Submission) (bounty.Submission, bool, error) {
	if s == nil || s.pool == nil {
		return bounty.Submission{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := sub.Validate(); err != nil {
		return bounty.Submission{}, false, err
	}

	// Only inserts while the parent bounty exists and is ongoing. FOR SHARE
	// waits out a concurrent CompleteBounty and rechecks the status after it.
	err := s.pool.QueryRow(ctx, `
		INSERT INTO submissions (bounty_id, creator, submission_description, is_complete, created_at, updated_at)
		SELECT b.id, $2, $3, false, now(), now()
		FROM bounties b
		WHERE b.id = $1 AND b.status = 'ongoing'
		FOR SHARE OF b
		RETURNING id, created_at, updated_at
	`, sub.BountyID[:], sub.Creator[:], sub.Description).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bounty.Submission{}, false, nil
		}
		if isUniqueViolation(err) {
			return bounty.Submission{}, false, bounty.ErrDuplicate
		}
		return bounty.Submission{}, false, fmt.Errorf("bounty/postgres: insert submission: %w", err)
	}
	sub.IsComplete = false
	return sub, true, nil
}

func (s *Store) ListSubmissions(ctx context.Context, bountyID common.Hash) ([]bounty.Submission, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, bounty_id, creator, submission_description, is_complete, created_at, updated_at
		FROM submissions
		WHERE bounty_id = $1
		ORDER BY id
	`, bountyID[:])
	if err != nil {
		return nil, fmt.Errorf("bounty/postgres: list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]bounty.Submission, 0)
	for rows.Next() {
		var (
			sub        bounty.Submission
			bountyRaw  []byte
			creatorRaw []byte
		)
		if err := rows.Scan(&sub.ID, &bountyRaw, &creatorRaw, &sub.Description, &sub.IsComplete, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("bounty/postgres: scan submission: %w", err)
		}
		if sub.BountyID, err = toHash(bountyRaw); err != nil {
			return nil, err
		}
		if sub.Creator, err = toAddress(creatorRaw); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bounty/postgres: list submissions: %w", err)
	}
	return out, nil
}

// CompleteBounty flips the bounty status and the winning submission flag in
// one transaction, holding the bounty row lock for the duration.
func (s *Store) CompleteBounty(ctx context.Context, bountyID common.Hash, submissionID int64, winner common.Address) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if winner == (common.Address{}) {
		return false, fmt.Errorf("%w: winner is required", bounty.ErrInvalid)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("bounty/postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM bounties WHERE id = $1 FOR UPDATE`, bountyID[:]).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, bounty.ErrNotFound
		}
		return false, fmt.Errorf("bounty/postgres: lock bounty: %w", err)
	}

	var (
		isComplete bool
		creatorRaw []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT is_complete, creator FROM submissions WHERE id = $1 AND bounty_id = $2 FOR UPDATE
	`, submissionID, bountyID[:]).Scan(&isComplete, &creatorRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, bounty.ErrSubmissionNotFound
		}
		return false, fmt.Errorf("bounty/postgres: lock submission: %w", err)
	}
	creator, err := toAddress(creatorRaw)
	if err != nil {
		return false, err
	}
	if creator != winner {
		return false, bounty.ErrWinnerMismatch
	}

	if bounty.Status(status) == bounty.StatusComplete {
		if isComplete {
			return false, nil
		}
		return false, bounty.ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		UPDATE bounties SET status = 'complete', updated_at = now() WHERE id = $1
	`, bountyID[:]); err != nil {
		return false, fmt.Errorf("bounty/postgres: update bounty: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE submissions SET is_complete = true, updated_at = now() WHERE id = $1
	`, submissionID); err != nil {
		return false, fmt.Errorf("bounty/postgres: update submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("bounty/postgres: commit: %w", err)
	}
	return true, nil
}

func scanBounty(row pgx.Row) (bounty.Bounty, error) {
	var (
		b          bounty.Bounty
		idRaw      []byte
		creatorRaw []byte
		amountText string
		chainID    int64
		status     string
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&idRaw, &creatorRaw, &b.Title, &b.Description, &b.Token, &amountText, &chainID, &status, &createdAt, &updatedAt); err != nil {
		return bounty.Bounty{}, err
	}

	var err error
	if b.ID, err = toHash(idRaw); err != nil {
		return bounty.Bounty{}, err
	}
	if b.Creator, err = toAddress(creatorRaw); err != nil {
		return bounty.Bounty{}, err
	}
	if b.Amount, err = decimal.NewFromString(amountText); err != nil {
		return bounty.Bounty{}, fmt.Errorf("bounty/postgres: amount %q: %w", amountText, err)
	}
	if chainID < 0 {
		return bounty.Bounty{}, fmt.Errorf("bounty/postgres: negative chain id %d", chainID)
	}
	b.ChainID = uint64(chainID)
	b.Status = bounty.Status(status)
	b.CreatedAt = createdAt.UTC()
	b.UpdatedAt = updatedAt.UTC()
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func toHash(b []byte) (common.Hash, error) {
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("bounty/postgres: expected 32 bytes, got %d", len(b))
	}
	return common.BytesToHash(b), nil
}

func toAddress(b []byte) (common.Address, error) {
	if len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("bounty/postgres: expected 20 bytes, got %d", len(b))
	}
	return common.BytesToAddress(b), nil
}

var _ bounty.Store = (*Store)(nil)
