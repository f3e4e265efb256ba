// Package mirror decides, per observed trade, whether and at what size the
// fund follows the trader, then hands the sized order to on-chain settlement.
package mirror

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mirrorfund/internal/chain"
	"mirrorfund/internal/config"
	"mirrorfund/internal/models"
	"mirrorfund/internal/sizing"
)

// IndexSource resolves an observed wallet to its index membership.
type IndexSource interface {
	ConstituentByAddress(ctx context.Context, indexName, wallet string) (*models.IndexConstituent, error)
}

// MarketSource reports when a market closes. ok is false when the market is
// unknown to the metadata cache.
type MarketSource interface {
	EndTime(ctx context.Context, conditionID string) (time.Time, bool)
}

// CallBuilder turns one sized fund order into the elementary proxy calls that
// express it on-chain (approvals, exchange fills).
type CallBuilder interface {
	Build(ctx context.Context, ev models.TradeEvent, fundShares decimal.Decimal) ([]chain.ProxyCall, error)
}

// Settler submits encoded calldata and waits for its receipt.
type Settler interface {
	Execute(ctx context.Context, payload []byte) (*chain.Result, error)
}

// Service mirrors index-constituent trades into fund orders. In DryRun mode
// sized orders are logged instead of settled. Outside dry run, a nil Builder
// or Settler means live placement is not integrated and orders are dropped.
type Service struct {
	Index   IndexSource
	Markets MarketSource
	Builder CallBuilder
	Settler Settler
	Logger  *zap.Logger

	IndexName  string
	Kind       models.FundKind
	Product    models.ProductKind
	CapitalUSD decimal.Decimal
	DryRun     bool

	handled  atomic.Int64
	mirrored atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
}

// NewService parses the fund configuration into typed fields.
func NewService(cfg config.FundConfig, indexName string, index IndexSource, markets MarketSource, logger *zap.Logger) (*Service, error) {
	kind, err := models.ParseFundKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	product, err := models.ParseProductKind(cfg.Product)
	if err != nil {
		return nil, err
	}
	return &Service{
		Index:      index,
		Markets:    markets,
		Logger:     logger,
		IndexName:  indexName,
		Kind:       kind,
		Product:    product,
		CapitalUSD: decimal.NewFromFloat(cfg.CapitalUSD),
		DryRun:     cfg.DryRun,
	}, nil
}

// Stats is a point-in-time counter snapshot for the status endpoint.
type Stats struct {
	Handled  int64 `json:"handled"`
	Mirrored int64 `json:"mirrored"`
	Skipped  int64 `json:"skipped"`
	Failures int64 `json:"failures"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Handled:  s.handled.Load(),
		Mirrored: s.mirrored.Load(),
		Skipped:  s.skipped.Load(),
		Failures: s.failures.Load(),
	}
}

// HandleTrade runs one trade through the mirror decision chain: fund kind,
// index membership, product gate, market liveness, sizing, settlement.
func (s *Service) HandleTrade(ctx context.Context, ev models.TradeEvent) error {
	s.handled.Add(1)

	switch s.Kind {
	case models.FundMirror:
	case models.FundActive:
		// Active funds trade their own book; the feed is signal only.
		s.skipped.Add(1)
		return nil
	default:
		return fmt.Errorf("unknown fund kind %q", s.Kind)
	}

	c, err := s.Index.ConstituentByAddress(ctx, s.IndexName, ev.ProxyWallet)
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("constituent lookup: %w", err)
	}
	if c == nil {
		s.skipped.Add(1)
		return nil
	}

	now := time.Now()
	switch s.Product {
	case models.ProductPSI:
	case models.ProductAlpha:
		if !c.Active(now) {
			s.skipped.Add(1)
			s.Logger.Debug("constituent inactive, trade not mirrored",
				zap.String("username", c.Username), zap.Time("lastTradeAt", c.LastTradeAt))
			return nil
		}
	default:
		return fmt.Errorf("unknown product kind %q", s.Product)
	}

	if end, ok := s.Markets.EndTime(ctx, ev.ConditionID); ok && !end.After(now) {
		s.skipped.Add(1)
		s.Logger.Debug("market already closed, trade not mirrored",
			zap.String("conditionId", ev.ConditionID), zap.Time("endTime", end))
		return nil
	}

	shares := sizing.FundShares(ev.Size, s.CapitalUSD, *c)
	if shares.LessThanOrEqual(decimal.Zero) {
		s.skipped.Add(1)
		return nil
	}

	if s.DryRun {
		s.mirrored.Add(1)
		s.Logger.Info("dry run, mirror order not settled",
			zap.String("username", c.Username),
			zap.String("side", ev.Side),
			zap.String("asset", ev.Asset),
			zap.String("market", ev.Slug),
			zap.String("price", ev.Price.String()),
			zap.String("traderShares", ev.Size.String()),
			zap.String("fundShares", shares.String()))
		return nil
	}
	if s.Builder == nil || s.Settler == nil {
		s.skipped.Add(1)
		s.Logger.Warn("live settlement not integrated, order dropped",
			zap.String("username", c.Username),
			zap.String("fundShares", shares.String()))
		return nil
	}

	return s.settle(ctx, ev, c, shares)
}

func (s *Service) settle(ctx context.Context, ev models.TradeEvent, c *models.IndexConstituent, shares decimal.Decimal) error {
	calls, err := s.Builder.Build(ctx, ev, shares)
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("build proxy calls: %w", err)
	}
	if len(calls) == 0 {
		s.skipped.Add(1)
		return nil
	}
	payload, err := chain.EncodeProxyCalls(calls)
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("encode proxy calls: %w", err)
	}

	res, err := s.Settler.Execute(ctx, payload)
	switch res.State {
	case chain.StateConfirmed:
		s.mirrored.Add(1)
		s.Logger.Info("mirror order settled",
			zap.String("username", c.Username),
			zap.String("fundShares", shares.String()),
			zap.String("tx", res.TxHash.Hex()))
		return nil
	case chain.StateTimedOut:
		// The transaction may still land. Hold the position open and let an
		// operator reconcile; resubmitting would risk a double fill.
		s.failures.Add(1)
		s.Logger.Warn("settlement unconfirmed, holding without resubmit",
			zap.String("tx", res.TxHash.Hex()), zap.Error(err))
		return err
	default:
		s.failures.Add(1)
		s.Logger.Error("settlement failed",
			zap.String("state", string(res.State)), zap.Error(err))
		return err
	}
}

// Run consumes trade events until the channel closes or ctx is cancelled.
// Per-trade errors are logged and never stop the loop.
func (s *Service) Run(ctx context.Context, events <-chan models.TradeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.HandleTrade(ctx, ev); err != nil {
				s.Logger.Error("trade handling failed",
					zap.String("tx", ev.TransactionHash), zap.Error(err))
			}
		}
	}
}
