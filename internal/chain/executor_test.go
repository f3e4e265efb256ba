package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	testKeyHex   = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	testProxy    = "0x4444444444444444444444444444444444444444"
	testInterval = 100 * time.Millisecond
)

type fakeBackend struct {
	mu sync.Mutex

	estimateGas uint64
	estimateErr error
	gasPrice    *big.Int
	sendErr     error

	sent         []*types.Transaction
	receiptCalls int
	receiptAfter int // receipt appears on this lookup; 0 means never
	reverted     bool
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return b.estimateGas, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if b.gasPrice == nil {
		return big.NewInt(1000), nil
	}
	return new(big.Int).Set(b.gasPrice), nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(137), nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptCalls++
	if b.receiptAfter == 0 || b.receiptCalls < b.receiptAfter {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if b.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status:      status,
		TxHash:      txHash,
		BlockNumber: big.NewInt(1234),
		GasUsed:     90000,
	}, nil
}

func newTestExecutor(t *testing.T, backend Backend, attempts int) *Executor {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	ex, err := NewExecutor(backend, key, zap.NewNop(), Config{
		ProxyAddress:        testProxy,
		FallbackGasLimit:    500000,
		ReceiptPollInterval: testInterval,
		ReceiptPollAttempts: attempts,
	})
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	return ex
}

func TestExecuteConfirmsOnSecondPoll(t *testing.T) {
	backend := &fakeBackend{estimateGas: 100000, receiptAfter: 2}
	ex := newTestExecutor(t, backend, 5)

	res, err := ex.Execute(context.Background(), []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateConfirmed {
		t.Fatalf("state=%s want=%s", res.State, StateConfirmed)
	}
	if res.GasLimit != 125000 {
		t.Fatalf("gas limit=%d want=125000", res.GasLimit)
	}
	if res.GasPrice.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("gas price=%s want=1100", res.GasPrice)
	}
	if backend.receiptCalls != 2 {
		t.Fatalf("receipt lookups=%d want=2", backend.receiptCalls)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sends=%d want=1", len(backend.sent))
	}
	if res.Receipt == nil || res.Receipt.GasUsed != 90000 {
		t.Fatalf("receipt not recorded: %+v", res.Receipt)
	}
}

func TestExecuteFallsBackOnEstimateFailure(t *testing.T) {
	backend := &fakeBackend{estimateErr: errors.New("execution reverted"), receiptAfter: 1}
	ex := newTestExecutor(t, backend, 3)

	res, err := ex.Execute(context.Background(), []byte{0x01})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// fallback 500000 scaled by the default 1.25 multiplier
	if res.GasLimit != 625000 {
		t.Fatalf("gas limit=%d want=625000", res.GasLimit)
	}
}

func TestExecuteBroadcastFailureIsTerminal(t *testing.T) {
	backend := &fakeBackend{estimateGas: 100000, sendErr: errors.New("nonce too low")}
	ex := newTestExecutor(t, backend, 3)

	payload := []byte{0xaa, 0xbb}
	res, err := ex.Execute(context.Background(), payload)
	if !errors.Is(err, ErrBroadcastFailed) {
		t.Fatalf("err=%v want ErrBroadcastFailed", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state=%s want=%s", res.State, StateFailed)
	}
	if string(res.Payload) != string(payload) {
		t.Fatalf("payload must be preserved for inspection")
	}
	if backend.receiptCalls != 0 {
		t.Fatalf("receipt lookups=%d want=0 after failed broadcast", backend.receiptCalls)
	}
}

func TestExecuteTimesOutAfterExactAttempts(t *testing.T) {
	backend := &fakeBackend{estimateGas: 100000} // receipt never appears
	ex := newTestExecutor(t, backend, 3)

	res, err := ex.Execute(context.Background(), []byte{0x01})
	if !errors.Is(err, ErrConfirmTimeout) {
		t.Fatalf("err=%v want ErrConfirmTimeout", err)
	}
	if res.State != StateTimedOut {
		t.Fatalf("state=%s want=%s", res.State, StateTimedOut)
	}
	if backend.receiptCalls != 3 {
		t.Fatalf("receipt lookups=%d want=3", backend.receiptCalls)
	}
	// The transaction may still land later. It must not be resent.
	if len(backend.sent) != 1 {
		t.Fatalf("sends=%d want=1", len(backend.sent))
	}
}

func TestExecuteRevertedReceiptFails(t *testing.T) {
	backend := &fakeBackend{estimateGas: 100000, receiptAfter: 1, reverted: true}
	ex := newTestExecutor(t, backend, 3)

	res, err := ex.Execute(context.Background(), []byte{0x01})
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("err=%v want ErrReverted", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state=%s want=%s", res.State, StateFailed)
	}
	if res.Receipt == nil {
		t.Fatalf("reverted receipt must be recorded")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{ProxyAddress: testProxy, FallbackGasLimit: 1500000}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.GasLimitMultiplier != 1.25 || cfg.GasPriceMultiplier != 1.10 {
		t.Fatalf("multiplier defaults not applied: %+v", cfg)
	}
	if cfg.ReceiptPollInterval != time.Second || cfg.ReceiptPollAttempts != 60 {
		t.Fatalf("polling defaults not applied: %+v", cfg)
	}

	bad := []Config{
		{ProxyAddress: "nope", FallbackGasLimit: 1500000},
		{ProxyAddress: testProxy, FallbackGasLimit: 20000},
		{ProxyAddress: testProxy, FallbackGasLimit: 1500000, GasLimitMultiplier: -1},
		{ProxyAddress: testProxy, FallbackGasLimit: 1500000, ReceiptPollInterval: time.Millisecond},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("config %d must be rejected", i)
		}
	}
}
