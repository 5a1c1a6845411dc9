package bountyabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/bountyboard/bountyd/internal/chains"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidInput = errors.New("bountyabi: invalid input")
	ErrUnknownKind  = errors.New("bountyabi: unknown token kind")
)

// BountyInfo mirrors the getBountyInfo return tuple. TokenType is only
// populated by the native escrow.
type BountyInfo struct {
	Creator   common.Address
	Amount    *big.Int
	IsPaid    bool
	TokenType uint8
}

// BountyPaid is the decoded payload of a BountyPaid event.
type BountyPaid struct {
	BountyID common.Hash
	Winner   common.Address
	Amount   *big.Int
}

var (
	initOnce sync.Once
	initErr  error

	nativeABI abi.ABI
	erc20ABI  abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		nativeABI, err = abi.JSON(strings.NewReader(nativeEscrowABIJSON))
		if err != nil {
			initErr = fmt.Errorf("bountyabi: parse native escrow ABI: %w", err)
			return
		}
		erc20ABI, err = abi.JSON(strings.NewReader(erc20EscrowABIJSON))
		if err != nil {
			initErr = fmt.Errorf("bountyabi: parse erc20 escrow ABI: %w", err)
			return
		}
	})
	return initErr
}

// ABI returns the parsed escrow ABI for a token kind.
func ABI(kind chains.TokenKind) (abi.ABI, error) {
	if err := initABI(); err != nil {
		return abi.ABI{}, err
	}
	switch kind {
	case chains.TokenKindNative:
		return nativeABI, nil
	case chains.TokenKindERC20:
		return erc20ABI, nil
	default:
		return abi.ABI{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

func PackGetBountyInfo(kind chains.TokenKind, id common.Hash) ([]byte, error) {
	a, err := ABI(kind)
	if err != nil {
		return nil, err
	}
	b, err := a.Pack("getBountyInfo", id)
	if err != nil {
		return nil, fmt.Errorf("bountyabi: pack getBountyInfo: %w", err)
	}
	return b, nil
}

func UnpackGetBountyInfo(kind chains.TokenKind, data []byte) (BountyInfo, error) {
	a, err := ABI(kind)
	if err != nil {
		return BountyInfo{}, err
	}
	vals, err := a.Unpack("getBountyInfo", data)
	if err != nil {
		return BountyInfo{}, fmt.Errorf("bountyabi: unpack getBountyInfo: %w", err)
	}

	want := 3
	if kind == chains.TokenKindNative {
		want = 4
	}
	if len(vals) != want {
		return BountyInfo{}, fmt.Errorf("%w: getBountyInfo returned %d values, want %d", ErrInvalidInput, len(vals), want)
	}

	creator, ok := vals[0].(common.Address)
	if !ok {
		return BountyInfo{}, fmt.Errorf("%w: creator: got %T", ErrInvalidInput, vals[0])
	}
	amount, ok := vals[1].(*big.Int)
	if !ok || amount == nil {
		return BountyInfo{}, fmt.Errorf("%w: amount: got %T", ErrInvalidInput, vals[1])
	}
	isPaid, ok := vals[2].(bool)
	if !ok {
		return BountyInfo{}, fmt.Errorf("%w: isPaid: got %T", ErrInvalidInput, vals[2])
	}
	info := BountyInfo{Creator: creator, Amount: amount, IsPaid: isPaid}
	if want == 4 {
		tt, ok := vals[3].(uint8)
		if !ok {
			return BountyInfo{}, fmt.Errorf("%w: tokenType: got %T", ErrInvalidInput, vals[3])
		}
		info.TokenType = tt
	}
	return info, nil
}

// BountyPaidTopic returns topic[0] of the BountyPaid event for a token kind.
func BountyPaidTopic(kind chains.TokenKind) (common.Hash, error) {
	a, err := ABI(kind)
	if err != nil {
		return common.Hash{}, err
	}
	return a.Events["BountyPaid"].ID, nil
}

// PackBountyPaidData encodes the non-indexed data section of a BountyPaid log.
// The native escrow appends tokenType 0.
func PackBountyPaidData(kind chains.TokenKind, ev BountyPaid) ([]byte, error) {
	a, err := ABI(kind)
	if err != nil {
		return nil, err
	}
	if ev.Amount == nil {
		return nil, fmt.Errorf("%w: amount is nil", ErrInvalidInput)
	}
	args := a.Events["BountyPaid"].Inputs.NonIndexed()
	var b []byte
	if kind == chains.TokenKindNative {
		b, err = args.Pack(ev.BountyID, ev.Winner, ev.Amount, uint8(0))
	} else {
		b, err = args.Pack(ev.BountyID, ev.Winner, ev.Amount)
	}
	if err != nil {
		return nil, fmt.Errorf("bountyabi: pack BountyPaid: %w", err)
	}
	return b, nil
}

// DecodeBountyPaid decodes lg as a BountyPaid event emitted by contract.
// Logs from other addresses, other events or with malformed data report false.
func DecodeBountyPaid(kind chains.TokenKind, contract common.Address, lg *types.Log) (BountyPaid, bool) {
	if lg == nil || lg.Address != contract || len(lg.Topics) == 0 {
		return BountyPaid{}, false
	}
	a, err := ABI(kind)
	if err != nil {
		return BountyPaid{}, false
	}
	event := a.Events["BountyPaid"]
	if lg.Topics[0] != event.ID {
		return BountyPaid{}, false
	}

	fields, err := event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil || len(fields) < 3 {
		return BountyPaid{}, false
	}
	id, ok := fields[0].([32]byte)
	if !ok {
		return BountyPaid{}, false
	}
	winner, ok := fields[1].(common.Address)
	if !ok {
		return BountyPaid{}, false
	}
	amount, ok := fields[2].(*big.Int)
	if !ok || amount == nil {
		return BountyPaid{}, false
	}
	return BountyPaid{BountyID: common.Hash(id), Winner: winner, Amount: amount}, true
}
