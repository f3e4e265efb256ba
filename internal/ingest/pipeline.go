// Package ingest polls the external trade feed, deduplicates fills, and
// republishes them onto the event stream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mirrorfund/internal/bus"
	"mirrorfund/internal/client/dataapi"
	"mirrorfund/internal/config"
	"mirrorfund/internal/dedup"
	"mirrorfund/internal/models"
)

const (
	sourceTag = "polymarket"
	eventType = "trade"
)

// Feed is the slice of the data API the pipeline needs.
type Feed interface {
	Trades(ctx context.Context, limit, offset int) ([]dataapi.Trade, error)
}

// Pipeline turns raw feed pages into deduplicated published trade events.
// Poll never returns an error: feed failures are counted and logged so the
// next scheduled tick can try again.
type Pipeline struct {
	Feed   Feed
	Bus    bus.Publisher
	Seen   *dedup.Set
	Logger *zap.Logger
	Config config.IngestConfig

	// OnEvent, when set, receives each published event in-process in publish
	// order. It must not block.
	OnEvent func(models.TradeEvent)

	polling   atomic.Bool
	polls     atomic.Int64
	published atomic.Int64
	skipped   atomic.Int64
	failures  atomic.Int64
	lastPoll  atomic.Int64 // unix milli
}

// Stats is the read-only observability snapshot.
type Stats struct {
	Polls     int64     `json:"polls"`
	Published int64     `json:"published"`
	Skipped   int64     `json:"skipped"`
	Failures  int64     `json:"failures"`
	LastPoll  time.Time `json:"last_poll"`
	SeenSize  int       `json:"seen_size"`
}

func (p *Pipeline) Stats() Stats {
	var last time.Time
	if ms := p.lastPoll.Load(); ms > 0 {
		last = time.UnixMilli(ms).UTC()
	}
	return Stats{
		Polls:     p.polls.Load(),
		Published: p.published.Load(),
		Skipped:   p.skipped.Load(),
		Failures:  p.failures.Load(),
		LastPoll:  last,
		SeenSize:  p.Seen.Size(),
	}
}

// Poll fetches one page of recent fills and publishes the ones not seen
// before. An overlapping invocation is a no-op.
func (p *Pipeline) Poll(ctx context.Context) {
	if !p.polling.CompareAndSwap(false, true) {
		return
	}
	defer p.polling.Store(false)

	p.polls.Add(1)
	p.lastPoll.Store(time.Now().UnixMilli())

	trades, err := p.Feed.Trades(ctx, p.pageSize(), 0)
	if err != nil {
		p.failures.Add(1)
		p.Logger.Warn("trade poll failed", zap.Error(err))
		return
	}
	p.publishNew(ctx, trades)
}

// Backfill walks forward through feed pages until the configured page limit
// or the first empty page. A page fetch failure aborts the walk but keeps
// everything already published; cancellation during the inter-page delay is a
// clean stop, not a failure.
func (p *Pipeline) Backfill(ctx context.Context) error {
	maxPages := p.Config.BackfillMaxPages
	if maxPages <= 0 {
		return nil
	}
	delay := p.Config.BackfillPageDelay
	if delay <= 0 {
		delay = time.Second
	}

	for page := 0; page < maxPages; page++ {
		trades, err := p.Feed.Trades(ctx, p.pageSize(), page*p.pageSize())
		if err != nil {
			p.failures.Add(1)
			return fmt.Errorf("backfill page %d: %w", page, err)
		}
		if len(trades) == 0 {
			break
		}
		p.publishNew(ctx, trades)

		if page+1 == maxPages {
			break
		}
		// Rate-limit against the upstream feed between pages.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
	return nil
}

// publishNew walks one feed page oldest-to-newest (the feed returns newest
// first) and publishes each fill not already in the dedup set.
func (p *Pipeline) publishNew(ctx context.Context, trades []dataapi.Trade) {
	for i := len(trades) - 1; i >= 0; i-- {
		raw := trades[i]
		if strings.TrimSpace(raw.TransactionHash) == "" {
			continue
		}
		ev, err := normalize(raw)
		if err != nil {
			p.Logger.Warn("skipping malformed trade record",
				zap.String("tx", raw.TransactionHash),
				zap.Error(err),
			)
			continue
		}
		key := ev.DedupKey()
		if !p.Seen.Add(key) {
			p.skipped.Add(1)
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			p.failures.Add(1)
			p.Logger.Warn("trade event marshal failed", zap.String("key", key), zap.Error(err))
			continue
		}
		env := bus.Envelope{
			TS:     time.Now().UnixMilli(),
			Source: sourceTag,
			Type:   eventType,
			Key:    key,
			Data:   data,
		}
		if err := p.Bus.Publish(ctx, env); err != nil {
			p.failures.Add(1)
			p.Logger.Warn("trade event publish failed", zap.String("key", key), zap.Error(err))
			continue
		}
		p.published.Add(1)
		if p.OnEvent != nil {
			p.OnEvent(ev)
		}
	}
}

func (p *Pipeline) pageSize() int {
	if p.Config.PageSize > 0 {
		return p.Config.PageSize
	}
	return 100
}

func normalize(t dataapi.Trade) (models.TradeEvent, error) {
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("bad price %q: %w", t.Price, err)
	}
	size, err := decimal.NewFromString(t.Size)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("bad size %q: %w", t.Size, err)
	}
	return models.TradeEvent{
		Pseudonym:       t.Pseudonym,
		ProxyWallet:     t.ProxyWallet,
		ConditionID:     t.ConditionID,
		Asset:           t.Asset,
		OutcomeIndex:    t.OutcomeIndex,
		Outcome:         t.Outcome,
		Slug:            t.Slug,
		Title:           t.Title,
		Side:            strings.ToUpper(strings.TrimSpace(t.Side)),
		Price:           price,
		Size:            size,
		TransactionHash: t.TransactionHash,
		Timestamp:       t.Time(),
	}, nil
}
