package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent is one externally observed fill by a tracked trader, built from
// a single feed record and immutable afterwards.
type TradeEvent struct {
	Pseudonym    string `json:"pseudonym"`
	ProxyWallet  string `json:"proxyWallet"`
	ConditionID  string `json:"conditionId"`
	Asset        string `json:"asset"`
	OutcomeIndex int    `json:"outcomeIndex"`
	Outcome      string `json:"outcome"`
	Slug         string `json:"slug"`
	Title        string `json:"title"`

	Side  string          `json:"side"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`

	TransactionHash string    `json:"transactionHash"`
	Timestamp       time.Time `json:"timestamp"`
}

// DedupKey identifies a fill for deduplication. One transaction can carry
// several distinct fills, so the hash alone is not a usable key.
func (e TradeEvent) DedupKey() string {
	return strings.Join([]string{
		e.TransactionHash,
		e.Asset,
		strconv.Itoa(e.OutcomeIndex),
		e.Side,
		e.Price.String(),
		e.Size.String(),
		strconv.FormatInt(e.Timestamp.Unix(), 10),
	}, "|")
}
