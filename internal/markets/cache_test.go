package markets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeQuerier struct {
	rows  []json.RawMessage
	err   error
	calls int
}

func (q *fakeQuerier) Query(ctx context.Context, query string) ([]json.RawMessage, error) {
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func rowsJSON(lines ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(lines))
	for _, l := range lines {
		out = append(out, json.RawMessage(l))
	}
	return out
}

func TestLookupWithinTTLQueriesOnce(t *testing.T) {
	q := &fakeQuerier{rows: rowsJSON(`{"condition_id":"0xc1","end_time":1700000000}`)}
	c := &EndTimeCache{Analytics: q, Logger: zap.NewNop(), TTL: time.Hour}

	end, ok := c.EndTime(context.Background(), "0xc1")
	if !ok {
		t.Fatalf("expected 0xc1 to be cached")
	}
	if end.Unix() != 1700000000 {
		t.Fatalf("end=%d want=1700000000", end.Unix())
	}
	c.EndTime(context.Background(), "0xc1")
	c.EndTime(context.Background(), "0xmissing")

	if q.calls != 1 {
		t.Fatalf("backing queries=%d want=1", q.calls)
	}
}

func TestExpiredTTLTriggersExactlyOneReload(t *testing.T) {
	q := &fakeQuerier{rows: rowsJSON(`{"condition_id":"0xc1","end_time":1700000000}`)}
	c := &EndTimeCache{Analytics: q, Logger: zap.NewNop(), TTL: time.Hour}

	c.EndTime(context.Background(), "0xc1")
	c.mu.Lock()
	c.lastRefresh = time.Now().Add(-2 * time.Hour)
	c.mu.Unlock()
	c.EndTime(context.Background(), "0xc1")
	c.EndTime(context.Background(), "0xc1")

	if q.calls != 2 {
		t.Fatalf("backing queries=%d want=2", q.calls)
	}
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	q := &fakeQuerier{rows: rowsJSON(
		`{"condition_id":"0xc1","end_time":1700000000}`,
		`{"condition_id":"","end_time":1700000000}`,
		`not json`,
	)}
	c := &EndTimeCache{Analytics: q, Logger: zap.NewNop()}

	if _, ok := c.EndTime(context.Background(), "0xc1"); !ok {
		t.Fatalf("well-formed row must survive malformed neighbors")
	}
	if got := c.Size(); got != 1 {
		t.Fatalf("entries=%d want=1", got)
	}
}

func TestQueryFailureKeepsStaleEntries(t *testing.T) {
	q := &fakeQuerier{rows: rowsJSON(`{"condition_id":"0xc1","end_time":1700000000}`)}
	c := &EndTimeCache{Analytics: q, Logger: zap.NewNop(), TTL: time.Hour}

	c.EndTime(context.Background(), "0xc1")

	q.err = errors.New("analytics down")
	c.mu.Lock()
	c.lastRefresh = time.Now().Add(-2 * time.Hour)
	c.mu.Unlock()

	if _, ok := c.EndTime(context.Background(), "0xc1"); !ok {
		t.Fatalf("stale entry must survive a failed refresh")
	}
	if q.calls != 2 {
		t.Fatalf("backing queries=%d want=2", q.calls)
	}
	// The failed window is claimed; no immediate retry.
	c.EndTime(context.Background(), "0xc1")
	if q.calls != 2 {
		t.Fatalf("backing queries=%d want=2 after claimed window", q.calls)
	}
}
