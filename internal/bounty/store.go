package bounty

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalid   = errors.New("bounty: invalid")
	ErrNotFound  = errors.New("bounty: not found")
	ErrDuplicate = errors.New("bounty: duplicate")
	ErrConflict  = errors.New("bounty: conflict")

	// ErrSubmissionNotFound means the bounty exists but has no such submission.
	ErrSubmissionNotFound = errors.New("bounty: submission not found")
	// ErrWinnerMismatch means the submission was not made by the paid winner.
	ErrWinnerMismatch = errors.New("bounty: submission creator is not the paid winner")
)

// Store is the authoritative bounty/submission store.
//
// Semantics:
//   - InsertBounty fails with ErrDuplicate if the id already exists.
//   - InsertSubmission returns created=false (no error) when the bounty is missing
//     or no longer ongoing, and ErrDuplicate when the creator already submitted.
//   - CompleteBounty marks the bounty complete and the submission as the winner
//     in one step, reporting changed=true only on that transition. It fails
//     with ErrNotFound when the bounty is missing, ErrSubmissionNotFound when
//     the submission is not part of it and ErrWinnerMismatch when the
//     submission creator is not winner. Repeating it for the same submission
//     is a no-op; naming a different submission once complete fails with
//     ErrConflict.
type Store interface {
	InsertBounty(ctx context.Context, b Bounty) (Bounty, error)
	GetBounty(ctx context.Context, id common.Hash) (Bounty, error)
	ListBounties(ctx context.Context) ([]Bounty, error)

	InsertSubmission(ctx context.Context, s Submission) (Submission, bool, error)
	ListSubmissions(ctx context.Context, bountyID common.Hash) ([]Submission, error)

	CompleteBounty(ctx context.Context, bountyID common.Hash, submissionID int64, winner common.Address) (changed bool, err error)
}
