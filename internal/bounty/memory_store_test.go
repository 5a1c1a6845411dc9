package bounty

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func testBounty(id string) Bounty {
	return Bounty{
		ID:          common.HexToHash(id),
		Creator:     common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		Title:       "Fix the flaky test",
		Description: "It fails on Tuesdays.",
		Token:       "eth",
		Amount:      decimal.RequireFromString("3"),
		ChainID:     421614,
	}
}

func TestMemoryStore_InsertBountyRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	b, err := s.InsertBounty(ctx, testBounty("0xabc"))
	if err != nil {
		t.Fatalf("InsertBounty #1: %v", err)
	}
	if b.Status != StatusOngoing {
		t.Fatalf("status: got %q want %q", b.Status, StatusOngoing)
	}
	if !b.CreatedAt.Equal(now) {
		t.Fatalf("createdAt: got %v want %v", b.CreatedAt, now)
	}

	dup := testBounty("0xabc")
	dup.Title = "Another title"
	if _, err := s.InsertBounty(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	all, err := s.ListBounties(ctx)
	if err != nil {
		t.Fatalf("ListBounties: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("bounties: got %d want 1", len(all))
	}
	if all[0].Title != "Fix the flaky test" {
		t.Fatalf("title overwritten: got %q", all[0].Title)
	}
}

func TestMemoryStore_GetBountyNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	if _, err := s.GetBounty(context.Background(), common.HexToHash("0x01")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SubmissionsUniquePerCreatorAndOngoingOnly(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()

	b, err := s.InsertBounty(ctx, testBounty("0xabc"))
	if err != nil {
		t.Fatalf("InsertBounty: %v", err)
	}

	solver := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	sub := Submission{BountyID: b.ID, Creator: solver, Description: "PR #1"}

	got, created, err := s.InsertSubmission(ctx, sub)
	if err != nil {
		t.Fatalf("InsertSubmission #1: %v", err)
	}
	if !created || got.ID == 0 {
		t.Fatalf("expected created submission, got created=%v id=%d", created, got.ID)
	}

	if _, _, err := s.InsertSubmission(ctx, sub); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	other := sub
	other.Creator = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	if _, created, err := s.InsertSubmission(ctx, other); err != nil || !created {
		t.Fatalf("second solver: created=%v err=%v", created, err)
	}

	missing := sub
	missing.BountyID = common.HexToHash("0xdead")
	if _, created, err := s.InsertSubmission(ctx, missing); err != nil || created {
		t.Fatalf("missing bounty: created=%v err=%v", created, err)
	}

	if _, err := s.CompleteBounty(ctx, b.ID, got.ID, solver); err != nil {
		t.Fatalf("CompleteBounty: %v", err)
	}
	late := sub
	late.Creator = common.HexToAddress("0x00000000000000000000000000000000000000d3")
	if _, created, err := s.InsertSubmission(ctx, late); err != nil || created {
		t.Fatalf("complete bounty: created=%v err=%v", created, err)
	}

	subs, err := s.ListSubmissions(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("submissions: got %d want 2", len(subs))
	}
}

func TestMemoryStore_CompleteBounty(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()

	b, err := s.InsertBounty(ctx, testBounty("0xabc"))
	if err != nil {
		t.Fatalf("InsertBounty: %v", err)
	}
	winner := common.HexToAddress("0xd1")
	loser := common.HexToAddress("0xd2")
	win, _, err := s.InsertSubmission(ctx, Submission{BountyID: b.ID, Creator: winner, Description: "a"})
	if err != nil {
		t.Fatalf("InsertSubmission win: %v", err)
	}
	lose, _, err := s.InsertSubmission(ctx, Submission{BountyID: b.ID, Creator: loser, Description: "b"})
	if err != nil {
		t.Fatalf("InsertSubmission lose: %v", err)
	}

	if _, err := s.CompleteBounty(ctx, b.ID, 999, winner); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("missing submission: expected ErrSubmissionNotFound, got %v", err)
	}
	if _, err := s.CompleteBounty(ctx, common.HexToHash("0x01"), win.ID, winner); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing bounty: expected ErrNotFound, got %v", err)
	}
	if _, err := s.CompleteBounty(ctx, b.ID, lose.ID, winner); !errors.Is(err, ErrWinnerMismatch) {
		t.Fatalf("unpaid submission: expected ErrWinnerMismatch, got %v", err)
	}
	if _, err := s.CompleteBounty(ctx, b.ID, win.ID, common.Address{}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("zero winner: expected ErrInvalid, got %v", err)
	}

	changed, err := s.CompleteBounty(ctx, b.ID, win.ID, winner)
	if err != nil || !changed {
		t.Fatalf("CompleteBounty: changed=%v err=%v", changed, err)
	}
	changed, err = s.CompleteBounty(ctx, b.ID, win.ID, winner)
	if err != nil || changed {
		t.Fatalf("CompleteBounty repeat: changed=%v err=%v", changed, err)
	}
	if _, err := s.CompleteBounty(ctx, b.ID, lose.ID, loser); !errors.Is(err, ErrConflict) {
		t.Fatalf("other winner: expected ErrConflict, got %v", err)
	}

	got, err := s.GetBounty(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBounty: %v", err)
	}
	if got.Status != StatusComplete {
		t.Fatalf("status: got %q want %q", got.Status, StatusComplete)
	}
	subs, _ := s.ListSubmissions(ctx, b.ID)
	for _, sub := range subs {
		if sub.IsComplete != (sub.ID == win.ID) {
			t.Fatalf("submission %d isComplete=%v", sub.ID, sub.IsComplete)
		}
	}
}

func TestBountyValidate(t *testing.T) {
	t.Parallel()

	ok := testBounty("0xabc")
	ok.Status = StatusOngoing
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	mutations := map[string]func(*Bounty){
		"empty title":     func(b *Bounty) { b.Title = "  " },
		"long title":      func(b *Bounty) { b.Title = strings.Repeat("x", MaxTitleLen+1) },
		"long desc":       func(b *Bounty) { b.Description = strings.Repeat("x", MaxDescriptionLen+1) },
		"negative amount": func(b *Bounty) { b.Amount = decimal.NewFromInt(-1) },
		"zero id":         func(b *Bounty) { b.ID = common.Hash{} },
		"bad status":      func(b *Bounty) { b.Status = "paid" },
		"no chain":        func(b *Bounty) { b.ChainID = 0 },
	}
	for name, mut := range mutations {
		b := ok
		mut(&b)
		if err := b.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	short, err := ParseID("0xabc")
	if err != nil {
		t.Fatalf("ParseID short: %v", err)
	}
	if short != common.HexToHash("0x0abc") {
		t.Fatalf("short id: got %s", short.Hex())
	}

	full, err := ParseID(short.Hex())
	if err != nil {
		t.Fatalf("ParseID full: %v", err)
	}
	if full != short {
		t.Fatalf("full id: got %s want %s", full.Hex(), short.Hex())
	}

	for _, bad := range []string{"", "abc", "0x", "0xzz", "0x00", "0x" + strings.Repeat("a", 65)} {
		if _, err := ParseID(bad); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ParseID(%q): expected ErrInvalid, got %v", bad, err)
		}
	}
}
