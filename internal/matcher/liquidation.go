// Package matcher implements the simulated futures matching engine:
// entry/exit fills, fee model, tiered-maintenance-margin liquidation
// pricing and funding application. Grounded verbatim on
// original_source/backend/services/{position_service.py,
// portfolio_service.py}; see DESIGN.md Open Question 2 for the pinned
// liquidation formula.
package matcher

import "bot_trading/internal/model"

// MMRTier is one row of a tiered maintenance-margin schedule, ascending
// by notional threshold.
type MMRTier struct {
	NotionalThreshold float64
	MMR               float64
	MaintAmount       float64
}

func selectTier(tiers []MMRTier, notional float64) MMRTier {
	for _, t := range tiers {
		if notional <= t.NotionalThreshold {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// CalcLiqPrice approximates the liquidation price for a position using
// the tiered maintenance-margin schedule. Formula pinned from
// portfolio_service.py.calc_liq_price:
//
//	LONG:  liq = (margin - entry*qty - maint_amt) / ((mmr-1)*qty)
//	SHORT: liq = (margin + entry*qty - maint_amt) / ((1+mmr)*qty)
func CalcLiqPrice(tiers []MMRTier, side model.Side, entry, qty, margin float64) float64 {
	if qty == 0 {
		return 0
	}
	notional := entry * qty
	tier := selectTier(tiers, notional)

	if side == model.SideLong {
		return (margin - entry*qty - tier.MaintAmount) / ((tier.MMR - 1) * qty)
	}
	return (margin + entry*qty - tier.MaintAmount) / ((1 + tier.MMR) * qty)
}
