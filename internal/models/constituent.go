package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FundKind distinguishes funds that mirror an index from funds trading their
// own book.
type FundKind string

const (
	FundMirror FundKind = "mirror"
	FundActive FundKind = "active"
)

func ParseFundKind(s string) (FundKind, error) {
	switch FundKind(strings.ToLower(strings.TrimSpace(s))) {
	case FundMirror:
		return FundMirror, nil
	case FundActive:
		return FundActive, nil
	default:
		return "", fmt.Errorf("unknown fund kind %q", s)
	}
}

// ProductKind selects the mirrored product line. PSI mirrors the whole index;
// ALPHA only mirrors constituents that traded recently.
type ProductKind string

const (
	ProductPSI   ProductKind = "psi"
	ProductAlpha ProductKind = "alpha"
)

func ParseProductKind(s string) (ProductKind, error) {
	switch ProductKind(strings.ToLower(strings.TrimSpace(s))) {
	case ProductPSI:
		return ProductPSI, nil
	case ProductAlpha:
		return ProductAlpha, nil
	default:
		return "", fmt.Errorf("unknown product kind %q", s)
	}
}

// activeWindow is how far back a constituent's last trade may lie before the
// trader counts as inactive.
const activeWindow = 7 * 24 * time.Hour

// IndexConstituent is one trader's membership in a named index. Snapshots are
// replaced wholesale on refresh; individual records are never mutated.
type IndexConstituent struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet"`

	Weight float64 `json:"weight"` // expected in [0,1]
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`

	EstimatedCapitalUSD decimal.Decimal `json:"estimatedCapitalUsd"` // zero means unknown
	Strategy            string          `json:"strategy"`

	LastTradeAt    time.Time `json:"lastTradeAt"`
	MaterializedAt time.Time `json:"materializedAt"`
}

// Active reports whether the trader has traded within the last 7 days.
func (c IndexConstituent) Active(now time.Time) bool {
	if c.LastTradeAt.IsZero() {
		return false
	}
	return now.Sub(c.LastTradeAt) <= activeWindow
}
