package backup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConfig = errors.New("backup: invalid config")
	ErrNotFound      = errors.New("backup: entry not found")
	ErrMalformed     = errors.New("backup: malformed entry")
)

// Queue is the secondary store that holds verified writes the primary store
// rejected. Each enqueue lands the field map and the pending-set membership
// together or not at all.
type Queue interface {
	EnqueueCreation(ctx context.Context, b bounty.Bounty) error
	EnqueueCompletion(ctx context.Context, c bounty.Completion) error

	PendingCreationIDs(ctx context.Context) ([]string, error)
	PendingCompletionIDs(ctx context.Context) ([]string, error)

	LoadCreation(ctx context.Context, id string) (bounty.Bounty, error)
	LoadCompletion(ctx context.Context, id string) (bounty.Completion, error)

	ClearCreation(ctx context.Context, id string) error
	ClearCompletion(ctx context.Context, id string) error
}

const DefaultKeyPrefix = "bounty:"

// Field names stored under bounty:<id>. Creation and completion fields are
// disjoint so both kinds can be pending for one id.
const (
	fieldID          = "id"
	fieldCreator     = "creator"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldToken       = "token"
	fieldAmount      = "amount"
	fieldChainID     = "chainId"
	fieldStatus      = "status"

	fieldHash         = "hash"
	fieldBountyID     = "bountyId"
	fieldSubmissionID = "submissionId"
	fieldTokenType    = "tokenType"
	fieldWinner       = "winner"
)

var (
	creationFields   = []string{fieldID, fieldCreator, fieldTitle, fieldDescription, fieldToken, fieldAmount, fieldChainID, fieldStatus}
	completionFields = []string{fieldHash, fieldBountyID, fieldSubmissionID, fieldTokenType, fieldWinner}
)

// Member is the pending-set member (and hash key suffix) for a bounty id.
func Member(id common.Hash) string {
	return strings.ToLower(id.Hex())
}

func encodeCreation(b bounty.Bounty) map[string]string {
	status := b.Status
	if status == "" {
		status = bounty.StatusOngoing
	}
	return map[string]string{
		fieldID:          Member(b.ID),
		fieldCreator:     b.Creator.Hex(),
		fieldTitle:       b.Title,
		fieldDescription: b.Description,
		fieldToken:       b.Token,
		fieldAmount:      b.Amount.String(),
		fieldChainID:     strconv.FormatUint(b.ChainID, 10),
		fieldStatus:      string(status),
	}
}

func decodeCreation(m map[string]string) (bounty.Bounty, error) {
	if _, ok := m[fieldID]; !ok {
		return bounty.Bounty{}, ErrNotFound
	}
	id, err := bounty.ParseID(m[fieldID])
	if err != nil {
		return bounty.Bounty{}, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	creator, err := bounty.ParseAddress(m[fieldCreator])
	if err != nil {
		return bounty.Bounty{}, fmt.Errorf("%w: creator: %v", ErrMalformed, err)
	}
	amount, err := decimal.NewFromString(m[fieldAmount])
	if err != nil {
		return bounty.Bounty{}, fmt.Errorf("%w: amount: %v", ErrMalformed, err)
	}
	chainID, err := strconv.ParseUint(m[fieldChainID], 10, 64)
	if err != nil {
		return bounty.Bounty{}, fmt.Errorf("%w: chainId: %v", ErrMalformed, err)
	}
	return bounty.Bounty{
		ID:          id,
		Creator:     creator,
		Title:       m[fieldTitle],
		Description: m[fieldDescription],
		Token:       m[fieldToken],
		Amount:      amount,
		ChainID:     chainID,
		Status:      bounty.Status(m[fieldStatus]),
	}, nil
}

func encodeCompletion(c bounty.Completion) map[string]string {
	return map[string]string{
		fieldHash:         strings.ToLower(c.Hash.Hex()),
		fieldBountyID:     Member(c.BountyID),
		fieldSubmissionID: strconv.FormatInt(c.SubmissionID, 10),
		fieldTokenType:    c.TokenType,
		fieldWinner:       strings.ToLower(c.Winner.Hex()),
	}
}

func decodeCompletion(m map[string]string) (bounty.Completion, error) {
	if _, ok := m[fieldBountyID]; !ok {
		return bounty.Completion{}, ErrNotFound
	}
	hash, err := bounty.ParseID(m[fieldHash])
	if err != nil {
		return bounty.Completion{}, fmt.Errorf("%w: hash: %v", ErrMalformed, err)
	}
	id, err := bounty.ParseID(m[fieldBountyID])
	if err != nil {
		return bounty.Completion{}, fmt.Errorf("%w: bountyId: %v", ErrMalformed, err)
	}
	subID, err := strconv.ParseInt(m[fieldSubmissionID], 10, 64)
	if err != nil {
		return bounty.Completion{}, fmt.Errorf("%w: submissionId: %v", ErrMalformed, err)
	}
	winner := m[fieldWinner]
	if !common.IsHexAddress(winner) || common.HexToAddress(winner) == (common.Address{}) {
		return bounty.Completion{}, fmt.Errorf("%w: winner %q", ErrMalformed, winner)
	}
	return bounty.Completion{
		Hash:         hash,
		BountyID:     id,
		SubmissionID: subID,
		TokenType:    m[fieldTokenType],
		Winner:       common.HexToAddress(winner),
	}, nil
}
