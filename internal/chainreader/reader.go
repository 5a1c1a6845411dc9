package chainreader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/bountyboard/bountyd/internal/bountyabi"
	"github.com/bountyboard/bountyd/internal/chains"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConfig = errors.New("chainreader: invalid config")
	ErrNotFound      = errors.New("chainreader: bounty not found on chain")
)

// Backend is the subset of ethclient.Client the reader needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	Chain       chains.Chain
	CallTimeout time.Duration
}

// OnChainBounty is what the escrow contract reports for a bounty id.
type OnChainBounty struct {
	Creator   common.Address
	RawAmount *big.Int
	Amount    decimal.Decimal
	IsPaid    bool
}

// Payment is a decoded BountyPaid event.
type Payment struct {
	BountyID common.Hash
	Winner   common.Address
	Amount   decimal.Decimal
}

type Reader struct {
	backend Backend
	cfg     Config
	log     *slog.Logger
}

func New(backend Backend, cfg Config, log *slog.Logger) (*Reader, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidConfig)
	}
	if cfg.Chain.ID == 0 || len(cfg.Chain.Symbols()) == 0 {
		return nil, fmt.Errorf("%w: chain is required", ErrInvalidConfig)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reader{backend: backend, cfg: cfg, log: log}, nil
}

func (r *Reader) Chain() chains.Chain { return r.cfg.Chain }

// VerifyBountyExists reads getBountyInfo from the escrow that backs token.
func (r *Reader) VerifyBountyExists(ctx context.Context, id common.Hash, token string) (OnChainBounty, error) {
	tok, err := r.cfg.Chain.Token(token)
	if err != nil {
		return OnChainBounty{}, err
	}
	calldata, err := bountyabi.PackGetBountyInfo(tok.Kind, id)
	if err != nil {
		return OnChainBounty{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	contract := tok.Contract
	ret, err := r.backend.CallContract(cctx, ethereum.CallMsg{To: &contract, Data: calldata}, nil)
	if err != nil {
		return OnChainBounty{}, fmt.Errorf("chainreader: getBountyInfo %s: %w", id.Hex(), err)
	}
	info, err := bountyabi.UnpackGetBountyInfo(tok.Kind, ret)
	if err != nil {
		return OnChainBounty{}, err
	}
	if info.Creator == (common.Address{}) {
		return OnChainBounty{}, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}

	return OnChainBounty{
		Creator:   info.Creator,
		RawAmount: info.Amount,
		Amount:    ToDecimal(info.Amount, tok.Decimals),
		IsPaid:    info.IsPaid,
	}, nil
}

// VerifyPayment looks for a BountyPaid event from the token's escrow in the
// receipt of txHash. A missing or reverted receipt reports false without error.
func (r *Reader) VerifyPayment(ctx context.Context, txHash common.Hash, token string) (Payment, bool, error) {
	tok, err := r.cfg.Chain.Token(token)
	if err != nil {
		return Payment{}, false, err
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	receipt, err := r.backend.TransactionReceipt(cctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, fmt.Errorf("chainreader: receipt %s: %w", txHash.Hex(), err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		r.log.Info("payment tx not successful", "txHash", txHash.Hex())
		return Payment{}, false, nil
	}

	for _, lg := range receipt.Logs {
		ev, ok := bountyabi.DecodeBountyPaid(tok.Kind, tok.Contract, lg)
		if !ok || ev.BountyID == (common.Hash{}) {
			continue
		}
		return Payment{
			BountyID: ev.BountyID,
			Winner:   ev.Winner,
			Amount:   ToDecimal(ev.Amount, tok.Decimals),
		}, true, nil
	}
	return Payment{}, false, nil
}

// ToDecimal converts a fixed-point integer into human units.
func ToDecimal(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
