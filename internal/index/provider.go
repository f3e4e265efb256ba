// Package index serves the ranked constituents of each mirrored index from a
// TTL cache over the analytical store.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mirrorfund/internal/client/analytics"
	"mirrorfund/internal/models"
)

const defaultTTL = 60 * time.Second

// Querier is the slice of the analytics client the provider needs.
type Querier interface {
	Query(ctx context.Context, query string) ([]json.RawMessage, error)
}

// Provider caches each named index independently. A snapshot is immutable
// once stored and replaced as a whole on reload, so readers either see the
// previous index or the next one, never a half-built state.
type Provider struct {
	Analytics Querier
	Logger    *zap.Logger
	TTL       time.Duration

	mu      sync.Mutex
	indexes map[string]*entry
}

type entry struct {
	reloading atomic.Bool
	snap      atomic.Pointer[snapshot]
}

type snapshot struct {
	constituents []models.IndexConstituent
	byUser       map[string]int
	byWallet     map[string]int
	loadedAt     time.Time
}

type memberRow struct {
	Username string  `json:"username"`
	Wallet   string  `json:"wallet"`
	Weight   float64 `json:"weight"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	Strategy string  `json:"strategy"`
}

type statsRow struct {
	Username            string  `json:"username"`
	EstimatedCapitalUSD float64 `json:"estimated_capital_usd"`
	LastTradeAt         int64   `json:"last_trade_at"` // epoch seconds
}

// Constituents returns the index members ranked by descending weight.
func (p *Provider) Constituents(ctx context.Context, indexName string) ([]models.IndexConstituent, error) {
	snap, err := p.current(ctx, indexName)
	if err != nil {
		return nil, err
	}
	out := make([]models.IndexConstituent, len(snap.constituents))
	copy(out, snap.constituents)
	return out, nil
}

// Constituent looks one member up by username; nil means not in the index.
func (p *Provider) Constituent(ctx context.Context, indexName, username string) (*models.IndexConstituent, error) {
	snap, err := p.current(ctx, indexName)
	if err != nil {
		return nil, err
	}
	i, ok := snap.byUser[strings.ToLower(username)]
	if !ok {
		return nil, nil
	}
	c := snap.constituents[i]
	return &c, nil
}

// ConstituentByAddress looks one member up by wallet address.
func (p *Provider) ConstituentByAddress(ctx context.Context, indexName, wallet string) (*models.IndexConstituent, error) {
	snap, err := p.current(ctx, indexName)
	if err != nil {
		return nil, err
	}
	i, ok := snap.byWallet[strings.ToLower(wallet)]
	if !ok {
		return nil, nil
	}
	c := snap.constituents[i]
	return &c, nil
}

// Contains reports index membership by username.
func (p *Provider) Contains(ctx context.Context, indexName, username string) (bool, error) {
	c, err := p.Constituent(ctx, indexName, username)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// Weight returns the member's weight, or 0.0 when the trader is not in the
// index or the index cannot be loaded.
func (p *Provider) Weight(ctx context.Context, indexName, username string) float64 {
	c, err := p.Constituent(ctx, indexName, username)
	if err != nil {
		p.Logger.Warn("weight lookup failed", zap.String("index", indexName), zap.Error(err))
		return 0
	}
	if c == nil {
		return 0
	}
	return c.Weight
}

// Refresh forces a reload of one index regardless of TTL.
func (p *Provider) Refresh(ctx context.Context, indexName string) error {
	snap, err := p.load(ctx, indexName)
	if err != nil {
		return err
	}
	p.entry(indexName).snap.Store(snap)
	return nil
}

func (p *Provider) entry(indexName string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexes == nil {
		p.indexes = make(map[string]*entry)
	}
	e := p.indexes[indexName]
	if e == nil {
		e = &entry{}
		p.indexes[indexName] = e
	}
	return e
}

// current returns a fresh snapshot, reloading synchronously on TTL expiry.
// While one caller reloads, others keep the previous snapshot.
func (p *Provider) current(ctx context.Context, indexName string) (*snapshot, error) {
	e := p.entry(indexName)
	s := e.snap.Load()
	if s != nil && time.Since(s.loadedAt) < p.ttl() {
		return s, nil
	}

	if e.reloading.CompareAndSwap(false, true) {
		defer e.reloading.Store(false)
		ns, err := p.load(ctx, indexName)
		if err != nil {
			if s != nil {
				p.Logger.Warn("index reload failed; serving stale snapshot",
					zap.String("index", indexName), zap.Error(err))
				return s, nil
			}
			return nil, err
		}
		e.snap.Store(ns)
		return ns, nil
	}

	// Another caller is already reloading; a stale snapshot is acceptable.
	if s != nil {
		return s, nil
	}
	ns, err := p.load(ctx, indexName)
	if err != nil {
		return nil, err
	}
	e.snap.Store(ns)
	return ns, nil
}

func (p *Provider) load(ctx context.Context, indexName string) (*snapshot, error) {
	memberQuery := fmt.Sprintf(
		"SELECT username, wallet, weight, rank, score, strategy FROM index_constituents WHERE index_name = %s ORDER BY weight DESC FORMAT JSONEachRow",
		analytics.Quote(indexName),
	)
	memberRows, err := p.Analytics.Query(ctx, memberQuery)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", indexName, err)
	}

	statsQuery := fmt.Sprintf(
		"SELECT username, estimated_capital_usd, toUnixTimestamp(last_trade_at) AS last_trade_at FROM trader_stats WHERE username IN (SELECT username FROM index_constituents WHERE index_name = %s) FORMAT JSONEachRow",
		analytics.Quote(indexName),
	)
	statsRows, err := p.Analytics.Query(ctx, statsQuery)
	if err != nil {
		return nil, fmt.Errorf("load trader stats for %s: %w", indexName, err)
	}

	stats := make(map[string]statsRow, len(statsRows))
	for _, raw := range statsRows {
		var row statsRow
		if err := json.Unmarshal(raw, &row); err != nil || row.Username == "" {
			p.Logger.Warn("skipping malformed trader stats row", zap.ByteString("row", raw), zap.Error(err))
			continue
		}
		stats[strings.ToLower(row.Username)] = row
	}

	now := time.Now().UTC()
	constituents := make([]models.IndexConstituent, 0, len(memberRows))
	for _, raw := range memberRows {
		var row memberRow
		if err := json.Unmarshal(raw, &row); err != nil || row.Username == "" {
			p.Logger.Warn("skipping malformed constituent row", zap.ByteString("row", raw), zap.Error(err))
			continue
		}
		c := models.IndexConstituent{
			Username:       row.Username,
			Wallet:         row.Wallet,
			Weight:         row.Weight,
			Rank:           row.Rank,
			Score:          row.Score,
			Strategy:       row.Strategy,
			MaterializedAt: now,
		}
		// A miss on the capital join means "capital unknown"; sizing treats
		// zero capital explicitly.
		if st, ok := stats[strings.ToLower(row.Username)]; ok {
			if st.EstimatedCapitalUSD > 0 {
				c.EstimatedCapitalUSD = decimal.NewFromFloat(st.EstimatedCapitalUSD)
			}
			if st.LastTradeAt > 0 {
				c.LastTradeAt = time.Unix(st.LastTradeAt, 0).UTC()
			}
		}
		constituents = append(constituents, c)
	}

	sort.SliceStable(constituents, func(i, j int) bool {
		return constituents[i].Weight > constituents[j].Weight
	})

	byUser := make(map[string]int, len(constituents))
	byWallet := make(map[string]int, len(constituents))
	for i, c := range constituents {
		byUser[strings.ToLower(c.Username)] = i
		if c.Wallet != "" {
			byWallet[strings.ToLower(c.Wallet)] = i
		}
	}

	return &snapshot{
		constituents: constituents,
		byUser:       byUser,
		byWallet:     byWallet,
		loadedAt:     time.Now(),
	}, nil
}

func (p *Provider) ttl() time.Duration {
	if p.TTL > 0 {
		return p.TTL
	}
	return defaultTTL
}
