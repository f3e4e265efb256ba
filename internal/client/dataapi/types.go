package dataapi

import "time"

// Trade is one raw fill record as the feed returns it. Price and size arrive
// as strings; the timestamp may be epoch seconds or milliseconds.
type Trade struct {
	ProxyWallet     string `json:"proxyWallet"`
	Pseudonym       string `json:"pseudonym"`
	Side            string `json:"side"`
	Asset           string `json:"asset"`
	ConditionID     string `json:"conditionId"`
	OutcomeIndex    int    `json:"outcomeIndex"`
	Outcome         string `json:"outcome"`
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	Price           string `json:"price"`
	Size            string `json:"size"`
	Timestamp       int64  `json:"timestamp"`
	TransactionHash string `json:"transactionHash"`
}

// Time normalizes the feed timestamp. Thirteen-digit values are taken as
// milliseconds, anything smaller as seconds.
func (t Trade) Time() time.Time {
	if t.Timestamp > 1_000_000_000_000 {
		return time.UnixMilli(t.Timestamp).UTC()
	}
	return time.Unix(t.Timestamp, 0).UTC()
}
