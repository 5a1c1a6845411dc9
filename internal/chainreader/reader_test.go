package chainreader

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/bountyboard/bountyd/internal/bountyabi"
	"github.com/bountyboard/bountyd/internal/chains"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeBackend struct {
	mu sync.Mutex

	callRet  []byte
	callErr  error
	lastCall ethereum.CallMsg

	receipts   map[common.Hash]*types.Receipt
	receiptErr error
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCall = msg
	return b.callRet, b.callErr
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receiptErr != nil {
		return nil, b.receiptErr
	}
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func testChain(t *testing.T) chains.Chain {
	t.Helper()

	c, err := chains.Builtin().ByID(chains.ArbitrumSepoliaID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	return c
}

func packInfo(t *testing.T, kind chains.TokenKind, creator common.Address, amount *big.Int) []byte {
	t.Helper()

	a, err := bountyabi.ABI(kind)
	if err != nil {
		t.Fatalf("ABI: %v", err)
	}
	var b []byte
	if kind == chains.TokenKindNative {
		b, err = a.Methods["getBountyInfo"].Outputs.Pack(creator, amount, false, uint8(0))
	} else {
		b, err = a.Methods["getBountyInfo"].Outputs.Pack(creator, amount, false)
	}
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return b
}

func paidLog(t *testing.T, kind chains.TokenKind, contract common.Address, id common.Hash, winner common.Address, amount *big.Int) *types.Log {
	t.Helper()

	topic, err := bountyabi.BountyPaidTopic(kind)
	if err != nil {
		t.Fatalf("BountyPaidTopic: %v", err)
	}
	data, err := bountyabi.PackBountyPaidData(kind, bountyabi.BountyPaid{BountyID: id, Winner: winner, Amount: amount})
	if err != nil {
		t.Fatalf("PackBountyPaidData: %v", err)
	}
	return &types.Log{Address: contract, Topics: []common.Hash{topic}, Data: data}
}

func TestVerifyBountyExists_ConvertsAmountFromChain(t *testing.T) {
	t.Parallel()

	chain := testChain(t)
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	raw, _ := new(big.Int).SetString("3000000000000000000", 10)

	be := &fakeBackend{callRet: packInfo(t, chains.TokenKindNative, creator, raw)}
	r, err := New(be, Config{Chain: chain}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.VerifyBountyExists(context.Background(), common.HexToHash("0xabc"), "eth")
	if err != nil {
		t.Fatalf("VerifyBountyExists: %v", err)
	}
	if got.Creator != creator {
		t.Fatalf("creator: got %s want %s", got.Creator, creator)
	}
	if got.Amount.String() != "3" {
		t.Fatalf("amount: got %s want 3", got.Amount)
	}

	eth, _ := chain.Token("eth")
	if be.lastCall.To == nil || *be.lastCall.To != eth.Contract {
		t.Fatalf("call target: got %v want %s", be.lastCall.To, eth.Contract)
	}
}

func TestVerifyBountyExists_ERC20UsesTokenDecimals(t *testing.T) {
	t.Parallel()

	chain := testChain(t)
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	be := &fakeBackend{callRet: packInfo(t, chains.TokenKindERC20, creator, big.NewInt(2_500_000))}
	r, err := New(be, Config{Chain: chain}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.VerifyBountyExists(context.Background(), common.HexToHash("0x01"), "usdc")
	if err != nil {
		t.Fatalf("VerifyBountyExists: %v", err)
	}
	if got.Amount.String() != "2.5" {
		t.Fatalf("amount: got %s want 2.5", got.Amount)
	}
	usdc, _ := chain.Token("usdc")
	if *be.lastCall.To != usdc.Contract {
		t.Fatalf("call target: got %s want %s", be.lastCall.To, usdc.Contract)
	}
}

func TestVerifyBountyExists_ZeroCreatorIsNotFound(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{callRet: packInfo(t, chains.TokenKindNative, common.Address{}, big.NewInt(0))}
	r, err := New(be, Config{Chain: testChain(t)}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.VerifyBountyExists(context.Background(), common.HexToHash("0x01"), "eth"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyBountyExists_UnknownToken(t *testing.T) {
	t.Parallel()

	r, err := New(&fakeBackend{}, Config{Chain: testChain(t)}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.VerifyBountyExists(context.Background(), common.HexToHash("0x01"), "doge"); !errors.Is(err, chains.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestVerifyPayment_FirstNonZeroDecode(t *testing.T) {
	t.Parallel()

	chain := testChain(t)
	eth, _ := chain.Token("eth")
	winner := common.HexToAddress("0x0000000000000000000000000000000000000def")
	id := common.HexToHash("0xabc")
	txHash := common.HexToHash("0xfeed")

	foreign := paidLog(t, chains.TokenKindNative, common.HexToAddress("0x01"), common.HexToHash("0x99"), winner, big.NewInt(1))
	zero := paidLog(t, chains.TokenKindNative, eth.Contract, common.Hash{}, winner, big.NewInt(1))
	junk := &types.Log{Address: eth.Contract, Topics: []common.Hash{common.HexToHash("0x1234")}, Data: []byte{1, 2, 3}}
	raw, _ := new(big.Int).SetString("1500000000000000000", 10)
	good := paidLog(t, chains.TokenKindNative, eth.Contract, id, winner, raw)

	be := &fakeBackend{receipts: map[common.Hash]*types.Receipt{
		txHash: {Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{foreign, zero, junk, good}},
	}}
	r, err := New(be, Config{Chain: chain}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, ok, err := r.VerifyPayment(context.Background(), txHash, "eth")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if !ok {
		t.Fatalf("expected payment")
	}
	if p.BountyID != id || p.Winner != winner {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if p.Amount.String() != "1.5" {
		t.Fatalf("amount: got %s want 1.5", p.Amount)
	}
}

func TestVerifyPayment_NoMatch(t *testing.T) {
	t.Parallel()

	chain := testChain(t)
	eth, _ := chain.Token("eth")
	id := common.HexToHash("0xabc")
	reverted := common.HexToHash("0x01")
	unrelated := common.HexToHash("0x02")

	be := &fakeBackend{receipts: map[common.Hash]*types.Receipt{
		reverted: {
			Status: types.ReceiptStatusFailed,
			Logs:   []*types.Log{paidLog(t, chains.TokenKindNative, eth.Contract, id, common.HexToAddress("0x02"), big.NewInt(1))},
		},
		unrelated: {Status: types.ReceiptStatusSuccessful},
	}}
	r, err := New(be, Config{Chain: chain}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, h := range []common.Hash{reverted, unrelated, common.HexToHash("0x03")} {
		_, ok, err := r.VerifyPayment(context.Background(), h, "eth")
		if err != nil {
			t.Fatalf("VerifyPayment(%s): %v", h, err)
		}
		if ok {
			t.Fatalf("VerifyPayment(%s): expected no payment", h)
		}
	}

	// An ERC-20 lookup ignores logs from the native escrow.
	be.receipts[unrelated].Logs = []*types.Log{paidLog(t, chains.TokenKindNative, eth.Contract, id, common.HexToAddress("0x02"), big.NewInt(1))}
	if _, ok, err := r.VerifyPayment(context.Background(), unrelated, "usdc"); err != nil || ok {
		t.Fatalf("usdc lookup: ok=%v err=%v", ok, err)
	}
}

func TestVerifyPayment_RPCErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	r, err := New(&fakeBackend{receiptErr: boom}, Config{Chain: testChain(t)}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := r.VerifyPayment(context.Background(), common.HexToHash("0x01"), "eth"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped rpc error, got %v", err)
	}
}

func TestNew_RequiresBackendAndChain(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Config{Chain: testChain(t)}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil backend: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(&fakeBackend{}, Config{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero chain: expected ErrInvalidConfig, got %v", err)
	}
}
