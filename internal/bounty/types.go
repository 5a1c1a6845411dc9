package bounty

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOngoing  Status = "ongoing"
	StatusComplete Status = "complete"
)

func (s Status) Valid() bool {
	return s == StatusOngoing || s == StatusComplete
}

const (
	MaxTitleLen       = 255
	MaxDescriptionLen = 1000
)

// Bounty is the off-chain metadata cached for an escrowed on-chain bounty.
type Bounty struct {
	ID          common.Hash     `json:"id"`
	Creator     common.Address  `json:"creator"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Token       string          `json:"token"`
	Amount      decimal.Decimal `json:"amount"`
	ChainID     uint64          `json:"chainId"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Submission struct {
	ID          int64          `json:"id"`
	BountyID    common.Hash    `json:"bountyId"`
	Creator     common.Address `json:"creator"`
	Description string         `json:"submissionDescription"`
	IsComplete  bool           `json:"isComplete"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Completion names the payout transaction and the winning submission of a bounty.
// Winner is the payee decoded from the payout transaction, never client input.
type Completion struct {
	Hash         common.Hash    `json:"hash"`
	BountyID     common.Hash    `json:"bountyId"`
	SubmissionID int64          `json:"submissionId"`
	TokenType    string         `json:"tokenType"`
	Winner       common.Address `json:"winner,omitempty"`
}

// ParseID parses a 0x-prefixed hex bounty id of at most 32 bytes. Shorter ids
// are left-padded, so "0xabc" and its 32-byte form name the same bounty.
func ParseID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("%w: id must be 0x-prefixed hex", ErrInvalid)
	}
	h := s[2:]
	if h == "" || len(h) > 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: id must be 1..32 bytes", ErrInvalid)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: id: %v", ErrInvalid, err)
	}
	id := common.BytesToHash(b)
	if id == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("%w: id must be non-zero", ErrInvalid)
	}
	return id, nil
}

// ParseAddress parses a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return common.Address{}, fmt.Errorf("%w: address %q", ErrInvalid, s)
	}
	return common.HexToAddress(s), nil
}

// Validate checks the client-controlled fields of a bounty.
func (b Bounty) Validate() error {
	if b.ID == (common.Hash{}) {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if b.Creator == (common.Address{}) {
		return fmt.Errorf("%w: creator is required", ErrInvalid)
	}
	if err := checkText("title", b.Title, MaxTitleLen); err != nil {
		return err
	}
	if err := checkText("description", b.Description, MaxDescriptionLen); err != nil {
		return err
	}
	if strings.TrimSpace(b.Token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalid)
	}
	if b.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be >= 0", ErrInvalid)
	}
	if b.ChainID == 0 {
		return fmt.Errorf("%w: chainId is required", ErrInvalid)
	}
	if !b.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalid, b.Status)
	}
	return nil
}

func (s Submission) Validate() error {
	if s.BountyID == (common.Hash{}) {
		return fmt.Errorf("%w: bountyId is required", ErrInvalid)
	}
	if s.Creator == (common.Address{}) {
		return fmt.Errorf("%w: creator is required", ErrInvalid)
	}
	return checkText("submissionDescription", s.Description, MaxDescriptionLen)
}

func (c Completion) Validate() error {
	if c.Hash == (common.Hash{}) {
		return fmt.Errorf("%w: hash is required", ErrInvalid)
	}
	if c.BountyID == (common.Hash{}) {
		return fmt.Errorf("%w: bountyId is required", ErrInvalid)
	}
	if c.SubmissionID <= 0 {
		return fmt.Errorf("%w: submissionId must be > 0", ErrInvalid)
	}
	if strings.TrimSpace(c.TokenType) == "" {
		return fmt.Errorf("%w: tokenType is required", ErrInvalid)
	}
	return nil
}

func checkText(field, v string, max int) error {
	n := utf8.RuneCountInString(v)
	if strings.TrimSpace(v) == "" || n > max {
		return fmt.Errorf("%w: %s must be 1..%d characters", ErrInvalid, field, max)
	}
	return nil
}
