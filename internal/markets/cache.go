// Package markets caches market end times so sizing decisions can skip
// positions in markets that already settled.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mirrorfund/internal/client/analytics"
)

const (
	defaultRefreshTTL = 5 * time.Minute
	defaultWindow     = 7 * 24 * time.Hour
)

// Querier is the slice of the analytics client the cache needs.
type Querier interface {
	Query(ctx context.Context, query string) ([]json.RawMessage, error)
}

// EndTimeCache maps condition IDs to market end timestamps. The backing query
// only covers markets ending within the window, so a missing entry does not
// prove the market is unknown.
//
// Refresh is lazy: the first lookup in each TTL window issues one bulk query;
// concurrent lookups and lookups after a failed refresh serve the previous
// snapshot. The map is swapped wholesale, never mutated under readers.
type EndTimeCache struct {
	Analytics Querier
	Logger    *zap.Logger
	TTL       time.Duration
	Window    time.Duration

	mu          sync.Mutex
	byCondition map[string]time.Time
	lastRefresh time.Time
}

type endTimeRow struct {
	ConditionID string `json:"condition_id"`
	EndTime     int64  `json:"end_time"` // epoch seconds
}

// EndTime returns the cached end time for a condition, refreshing the cache
// first if the current window has not been queried yet.
func (c *EndTimeCache) EndTime(ctx context.Context, conditionID string) (time.Time, bool) {
	c.maybeRefresh(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.byCondition[conditionID]
	return t, ok
}

// Size reports the number of cached entries.
func (c *EndTimeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byCondition)
}

func (c *EndTimeCache) maybeRefresh(ctx context.Context) {
	c.mu.Lock()
	if time.Since(c.lastRefresh) < c.ttl() {
		c.mu.Unlock()
		return
	}
	// Claim the window before querying so at most one refresh runs per TTL
	// window even when the query fails.
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	days := int(c.window() / (24 * time.Hour))
	query := fmt.Sprintf(
		"SELECT condition_id, toUnixTimestamp(end_time) AS end_time FROM markets WHERE end_time >= now() - INTERVAL %d DAY FORMAT JSONEachRow",
		days,
	)
	rows, err := c.Analytics.Query(ctx, query)
	if err != nil {
		c.Logger.Warn("market end-time refresh failed; serving stale cache", zap.Error(err))
		return
	}

	fresh := make(map[string]time.Time, len(rows))
	for _, raw := range rows {
		var row endTimeRow
		if err := json.Unmarshal(raw, &row); err != nil || row.ConditionID == "" || row.EndTime <= 0 {
			c.Logger.Warn("skipping malformed market row", zap.ByteString("row", raw), zap.Error(err))
			continue
		}
		fresh[row.ConditionID] = time.Unix(row.EndTime, 0).UTC()
	}

	c.mu.Lock()
	merged := make(map[string]time.Time, len(c.byCondition)+len(fresh))
	for k, v := range c.byCondition {
		merged[k] = v
	}
	for k, v := range fresh {
		merged[k] = v
	}
	c.byCondition = merged
	c.mu.Unlock()

	c.Logger.Debug("market end-time cache refreshed",
		zap.Int("rows", len(rows)),
		zap.Int("entries", len(merged)),
	)
}

func (c *EndTimeCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return defaultRefreshTTL
}

func (c *EndTimeCache) window() time.Duration {
	if c.Window > 0 {
		return c.Window
	}
	return defaultWindow
}

var _ Querier = (*analytics.Client)(nil)
