package bounty

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type submissionKey struct {
	bountyID common.Hash
	creator  common.Address
}

// MemoryStore is an in-memory Store intended for unit tests and single-process usage.
// It is safe for concurrent use.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	bounties    map[common.Hash]Bounty
	submissions map[int64]Submission
	byCreator   map[submissionKey]int64
	nextID      int64
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:         now,
		bounties:    make(map[common.Hash]Bounty),
		submissions: make(map[int64]Submission),
		byCreator:   make(map[submissionKey]int64),
	}
}

func (s *MemoryStore) InsertBounty(_ context.Context, b Bounty) (Bounty, error) {
	if b.Status == "" {
		b.Status = StatusOngoing
	}
	if err := b.Validate(); err != nil {
		return Bounty{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bounties[b.ID]; ok {
		return Bounty{}, ErrDuplicate
	}
	now := s.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.bounties[b.ID] = b
	return b, nil
}

func (s *MemoryStore) GetBounty(_ context.Context, id common.Hash) (Bounty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bounties[id]
	if !ok {
		return Bounty{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) ListBounties(_ context.Context) ([]Bounty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Bounty, 0, len(s.bounties))
	for _, b := range s.bounties {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Cmp(out[j].ID) < 0
	})
	return out, nil
}

func (s *MemoryStore) InsertSubmission(_ context.Context, sub Submission) (Submission, bool, error) {
	if err := sub.Validate(); err != nil {
		return Submission{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bounties[sub.BountyID]
	if !ok || b.Status != StatusOngoing {
		return Submission{}, false, nil
	}
	key := submissionKey{bountyID: sub.BountyID, creator: sub.Creator}
	if _, ok := s.byCreator[key]; ok {
		return Submission{}, false, ErrDuplicate
	}

	s.nextID++
	now := s.now().UTC()
	sub.ID = s.nextID
	sub.IsComplete = false
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.submissions[sub.ID] = sub
	s.byCreator[key] = sub.ID
	return sub, true, nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, bountyID common.Hash) ([]Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Submission, 0)
	for _, sub := range s.submissions {
		if sub.BountyID == bountyID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CompleteBounty(_ context.Context, bountyID common.Hash, submissionID int64, winner common.Address) (bool, error) {
	if winner == (common.Address{}) {
		return false, fmt.Errorf("%w: winner is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bounties[bountyID]
	if !ok {
		return false, ErrNotFound
	}
	sub, ok := s.submissions[submissionID]
	if !ok || sub.BountyID != bountyID {
		return false, ErrSubmissionNotFound
	}
	if sub.Creator != winner {
		return false, ErrWinnerMismatch
	}

	if b.Status == StatusComplete {
		if sub.IsComplete {
			return false, nil
		}
		return false, ErrConflict
	}

	now := s.now().UTC()
	b.Status = StatusComplete
	b.UpdatedAt = now
	s.bounties[bountyID] = b

	sub.IsComplete = true
	sub.UpdatedAt = now
	s.submissions[submissionID] = sub
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
