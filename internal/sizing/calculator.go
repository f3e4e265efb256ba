// Package sizing converts an observed trader fill into the fund-side order
// size. Pure arithmetic: no I/O, no state.
package sizing

import (
	"github.com/shopspring/decimal"

	"mirrorfund/internal/models"
)

// ratioPlaces is the precision the capital ratio is rounded to before use.
const ratioPlaces = 4

// CapitalRatio is fundCapital / traderCapital rounded half-up to 4 decimal
// places. Callers must ensure traderCapital is positive.
func CapitalRatio(fundCapitalUSD, traderCapitalUSD decimal.Decimal) decimal.Decimal {
	return fundCapitalUSD.DivRound(traderCapitalUSD, ratioPlaces)
}

// FundShares sizes the mirrored order.
//
// With the trader's capital unknown (zero or negative) the fund simply
// mirrors a weight fraction of the raw share count. Otherwise the fill is
// additionally scaled by the fund's capital relative to the trader's inferred
// bankroll, so a larger trader produces proportionally smaller mirrored fills
// per fund dollar.
func FundShares(traderShares, fundCapitalUSD decimal.Decimal, c models.IndexConstituent) decimal.Decimal {
	weight := decimal.NewFromFloat(c.Weight)
	if c.EstimatedCapitalUSD.LessThanOrEqual(decimal.Zero) {
		return traderShares.Mul(weight)
	}
	return traderShares.Mul(CapitalRatio(fundCapitalUSD, c.EstimatedCapitalUSD)).Mul(weight)
}
