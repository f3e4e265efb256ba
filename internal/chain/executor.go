package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the settlement lifecycle position of one transaction attempt.
type State string

const (
	StateEstimating   State = "ESTIMATING"
	StateBroadcasting State = "BROADCASTING"
	StateConfirming   State = "CONFIRMING"
	StateConfirmed    State = "CONFIRMED"
	StateTimedOut     State = "TIMED_OUT"
	StateFailed       State = "FAILED"
)

var (
	// ErrBroadcastFailed wraps a node rejection of the signed transaction.
	ErrBroadcastFailed = errors.New("transaction broadcast failed")
	// ErrConfirmTimeout marks a transaction that was accepted but produced
	// no receipt within the polling window. The transaction may still land;
	// callers must not resubmit the same payload.
	ErrConfirmTimeout = errors.New("receipt confirmation timed out")
	// ErrReverted marks a mined transaction whose receipt reports failure.
	ErrReverted = errors.New("transaction reverted")
)

const (
	defaultGasLimitMultiplier  = 1.25
	defaultGasPriceMultiplier  = 1.10
	defaultReceiptPollInterval = time.Second
	defaultReceiptPollAttempts = 60
	minGasLimit                = 21000
	minReceiptPollInterval     = 100 * time.Millisecond
)

// Backend is the node surface the executor needs. *ethclient.Client
// satisfies it.
type Backend interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config tunes one executor. Zero multipliers and polling parameters are
// replaced by defaults in Validate.
type Config struct {
	ProxyAddress        string
	FallbackGasLimit    uint64
	GasLimitMultiplier  float64
	GasPriceMultiplier  float64
	ReceiptPollInterval time.Duration
	ReceiptPollAttempts int
}

// Validate checks the hard constraints and fills unset tunables.
func (c *Config) Validate() error {
	if _, err := parseAddress(c.ProxyAddress); err != nil {
		return fmt.Errorf("proxy address: %w", err)
	}
	if c.FallbackGasLimit < minGasLimit {
		return fmt.Errorf("fallback gas limit %d below minimum %d", c.FallbackGasLimit, minGasLimit)
	}
	if c.GasLimitMultiplier < 0 || c.GasPriceMultiplier < 0 {
		return errors.New("gas multipliers must not be negative")
	}
	if c.GasLimitMultiplier == 0 {
		c.GasLimitMultiplier = defaultGasLimitMultiplier
	}
	if c.GasPriceMultiplier == 0 {
		c.GasPriceMultiplier = defaultGasPriceMultiplier
	}
	if c.ReceiptPollInterval == 0 {
		c.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if c.ReceiptPollInterval < minReceiptPollInterval {
		return fmt.Errorf("receipt poll interval %s below minimum %s", c.ReceiptPollInterval, minReceiptPollInterval)
	}
	if c.ReceiptPollAttempts == 0 {
		c.ReceiptPollAttempts = defaultReceiptPollAttempts
	}
	if c.ReceiptPollAttempts < 1 {
		return errors.New("receipt poll attempts must be at least 1")
	}
	return nil
}

// Result records everything about one settlement attempt. Payload is always
// kept so a FAILED or TIMED_OUT attempt can be inspected and replayed by an
// operator.
type Result struct {
	State    State
	TxHash   common.Hash
	Payload  []byte
	GasLimit uint64
	GasPrice *big.Int
	Receipt  *types.Receipt
	Err      error
}

// Executor drives one settlement transaction through estimate, broadcast and
// confirmation against a single proxy contract.
type Executor struct {
	Backend Backend
	Key     *ecdsa.PrivateKey
	Logger  *zap.Logger
	Config  Config

	proxy common.Address
	from  common.Address
}

// NewExecutor validates cfg and binds the signer.
func NewExecutor(backend Backend, key *ecdsa.PrivateKey, logger *zap.Logger, cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	proxy, err := parseAddress(cfg.ProxyAddress)
	if err != nil {
		return nil, err
	}
	return &Executor{
		Backend: backend,
		Key:     key,
		Logger:  logger,
		Config:  cfg,
		proxy:   proxy,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Execute submits payload to the proxy contract and waits for its receipt.
// The returned Result is never nil; its State is terminal. A non-nil error
// always matches Result.Err.
func (e *Executor) Execute(ctx context.Context, payload []byte) (*Result, error) {
	res := &Result{State: StateEstimating, Payload: payload}

	gasLimit, err := e.Backend.EstimateGas(ctx, ethereum.CallMsg{
		From: e.from,
		To:   &e.proxy,
		Data: payload,
	})
	if err != nil {
		e.Logger.Warn("gas estimation failed, using fallback limit",
			zap.Uint64("fallback", e.Config.FallbackGasLimit), zap.Error(err))
		gasLimit = e.Config.FallbackGasLimit
	}
	res.GasLimit = scaleGasLimit(gasLimit, e.Config.GasLimitMultiplier)

	price, err := e.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return fail(res, fmt.Errorf("suggest gas price: %w", err))
	}
	res.GasPrice = scaleGasPrice(price, e.Config.GasPriceMultiplier)

	nonce, err := e.Backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return fail(res, fmt.Errorf("pending nonce: %w", err))
	}
	chainID, err := e.Backend.ChainID(ctx)
	if err != nil {
		return fail(res, fmt.Errorf("chain id: %w", err))
	}

	res.State = StateBroadcasting
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: res.GasPrice,
		Gas:      res.GasLimit,
		To:       &e.proxy,
		Value:    big.NewInt(0),
		Data:     payload,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), e.Key)
	if err != nil {
		return fail(res, fmt.Errorf("sign transaction: %w", err))
	}
	if err := e.Backend.SendTransaction(ctx, signed); err != nil {
		return fail(res, fmt.Errorf("%w: %v", ErrBroadcastFailed, err))
	}
	res.TxHash = signed.Hash()
	e.Logger.Info("settlement transaction broadcast",
		zap.String("tx", res.TxHash.Hex()),
		zap.Uint64("gasLimit", res.GasLimit),
		zap.String("gasPrice", res.GasPrice.String()))

	res.State = StateConfirming
	return e.awaitReceipt(ctx, res)
}

// awaitReceipt waits one interval before each lookup and performs exactly
// ReceiptPollAttempts lookups. Transient lookup errors consume an attempt.
func (e *Executor) awaitReceipt(ctx context.Context, res *Result) (*Result, error) {
	timer := time.NewTimer(e.Config.ReceiptPollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= e.Config.ReceiptPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fail(res, ctx.Err())
		case <-timer.C:
		}

		receipt, err := e.Backend.TransactionReceipt(ctx, res.TxHash)
		switch {
		case err == nil && receipt != nil:
			res.Receipt = receipt
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fail(res, fmt.Errorf("%w: tx %s", ErrReverted, res.TxHash.Hex()))
			}
			res.State = StateConfirmed
			e.Logger.Info("settlement transaction confirmed",
				zap.String("tx", res.TxHash.Hex()),
				zap.Uint64("block", receipt.BlockNumber.Uint64()),
				zap.Uint64("gasUsed", receipt.GasUsed))
			return res, nil
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet.
		default:
			e.Logger.Warn("receipt lookup failed",
				zap.String("tx", res.TxHash.Hex()),
				zap.Int("attempt", attempt), zap.Error(err))
		}
		timer.Reset(e.Config.ReceiptPollInterval)
	}

	res.State = StateTimedOut
	res.Err = fmt.Errorf("%w: tx %s after %d polls", ErrConfirmTimeout, res.TxHash.Hex(), e.Config.ReceiptPollAttempts)
	return res, res.Err
}

func fail(res *Result, err error) (*Result, error) {
	res.State = StateFailed
	res.Err = err
	return res, err
}

func scaleGasLimit(gas uint64, mult float64) uint64 {
	return uint64(math.Ceil(float64(gas) * mult))
}

func scaleGasPrice(price *big.Int, mult float64) *big.Int {
	scaled := decimal.NewFromBigInt(price, 0).Mul(decimal.NewFromFloat(mult))
	return scaled.Ceil().BigInt()
}
