package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q, err := NewRedisQueue(rdb, RedisConfig{})
	if err != nil {
		t.Fatalf("NewRedisQueue: %v", err)
	}
	return q, mr
}

func sampleBounty() bounty.Bounty {
	return bounty.Bounty{
		ID:          common.HexToHash("0xabc"),
		Creator:     common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		Title:       "Fix the flaky test",
		Description: "It fails on Tuesdays.",
		Token:       "eth",
		Amount:      decimal.RequireFromString("3"),
		ChainID:     421614,
		Status:      bounty.StatusOngoing,
	}
}

func sampleCompletion() bounty.Completion {
	return bounty.Completion{
		Hash:         common.HexToHash("0xfeed"),
		BountyID:     common.HexToHash("0xabc"),
		SubmissionID: 7,
		TokenType:    "eth",
		Winner:       common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	}
}

func exerciseQueue(t *testing.T, q Queue) {
	t.Helper()
	ctx := context.Background()

	b := sampleBounty()
	c := sampleCompletion()
	member := Member(b.ID)

	if err := q.EnqueueCreation(ctx, b); err != nil {
		t.Fatalf("EnqueueCreation: %v", err)
	}
	if err := q.EnqueueCompletion(ctx, c); err != nil {
		t.Fatalf("EnqueueCompletion: %v", err)
	}

	creates, err := q.PendingCreationIDs(ctx)
	if err != nil {
		t.Fatalf("PendingCreationIDs: %v", err)
	}
	if len(creates) != 1 || creates[0] != member {
		t.Fatalf("pending creations: got %v want [%s]", creates, member)
	}
	completes, err := q.PendingCompletionIDs(ctx)
	if err != nil {
		t.Fatalf("PendingCompletionIDs: %v", err)
	}
	if len(completes) != 1 || completes[0] != member {
		t.Fatalf("pending completions: got %v want [%s]", completes, member)
	}

	gotB, err := q.LoadCreation(ctx, member)
	if err != nil {
		t.Fatalf("LoadCreation: %v", err)
	}
	if gotB.ID != b.ID || gotB.Creator != b.Creator || !gotB.Amount.Equal(b.Amount) || gotB.ChainID != b.ChainID || gotB.Title != b.Title {
		t.Fatalf("creation mismatch: got %+v want %+v", gotB, b)
	}
	gotC, err := q.LoadCompletion(ctx, member)
	if err != nil {
		t.Fatalf("LoadCompletion: %v", err)
	}
	if gotC != c {
		t.Fatalf("completion mismatch: got %+v want %+v", gotC, c)
	}

	// Clearing the creation must leave the pending completion intact.
	if err := q.ClearCreation(ctx, member); err != nil {
		t.Fatalf("ClearCreation: %v", err)
	}
	if _, err := q.LoadCreation(ctx, member); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadCreation after clear: expected ErrNotFound, got %v", err)
	}
	if _, err := q.LoadCompletion(ctx, member); err != nil {
		t.Fatalf("LoadCompletion after creation clear: %v", err)
	}
	if ids, _ := q.PendingCreationIDs(ctx); len(ids) != 0 {
		t.Fatalf("pending creations after clear: %v", ids)
	}

	if err := q.ClearCompletion(ctx, member); err != nil {
		t.Fatalf("ClearCompletion: %v", err)
	}
	if _, err := q.LoadCompletion(ctx, member); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadCompletion after clear: expected ErrNotFound, got %v", err)
	}

	// Clearing twice is a no-op.
	if err := q.ClearCompletion(ctx, member); err != nil {
		t.Fatalf("ClearCompletion #2: %v", err)
	}
}

func TestMemoryQueue(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	exerciseQueue(t, q)
	if _, ok := q.Raw(Member(sampleBounty().ID)); ok {
		t.Fatalf("entry left behind after both clears")
	}
}

func TestRedisQueue(t *testing.T) {
	t.Parallel()

	q, mr := newRedisQueue(t)
	exerciseQueue(t, q)
	if mr.Exists("bounty:" + Member(sampleBounty().ID)) {
		t.Fatalf("hash left behind after both clears")
	}
}

func TestRedisQueue_Layout(t *testing.T) {
	t.Parallel()

	q, mr := newRedisQueue(t)
	ctx := context.Background()
	b := sampleBounty()
	member := Member(b.ID)

	if err := q.EnqueueCreation(ctx, b); err != nil {
		t.Fatalf("EnqueueCreation: %v", err)
	}

	ok, err := mr.SIsMember("bounty:pending:create", member)
	if err != nil || !ok {
		t.Fatalf("pending set membership: ok=%v err=%v", ok, err)
	}
	if got := mr.HGet("bounty:"+member, "amount"); got != "3" {
		t.Fatalf("amount field: got %q want 3", got)
	}
	if got := mr.HGet("bounty:"+member, "chainId"); got != "421614" {
		t.Fatalf("chainId field: got %q want 421614", got)
	}
}

func TestRedisQueue_EnqueueFailsWhenRedisErrors(t *testing.T) {
	t.Parallel()

	q, mr := newRedisQueue(t)
	mr.SetError("LOADING redis is loading the dataset in memory")

	if err := q.EnqueueCreation(context.Background(), sampleBounty()); err == nil {
		t.Fatalf("expected enqueue error")
	}

	mr.SetError("")
	ids, err := q.PendingCreationIDs(context.Background())
	if err != nil {
		t.Fatalf("PendingCreationIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("pending after failed enqueue: %v", ids)
	}
}

func TestRedisQueue_MalformedEntry(t *testing.T) {
	t.Parallel()

	q, mr := newRedisQueue(t)
	mr.HSet("bounty:0xbad", "id", "0xbad", "creator", "nope")

	if _, err := q.LoadCreation(context.Background(), "0xbad"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := q.LoadCreation(context.Background(), "0xmissing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// A completion without the paid winner cannot be checked on replay.
	mr.HSet("bounty:0xfeed", "hash", "0xfeed", "bountyId", "0xfeed", "submissionId", "1", "tokenType", "eth")
	if _, err := q.LoadCompletion(context.Background(), "0xfeed"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("completion without winner: expected ErrMalformed, got %v", err)
	}
}

func TestNewRedisQueue_NilClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisQueue(nil, RedisConfig{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
