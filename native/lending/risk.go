package lending

import (
	"github.com/google/uuid"

	"lendcore/fixedpoint"
)

// healthMode selects which collateral weighting the health ratio applies:
// the loan-to-value ratio when gating new borrows and withdrawals of
// borrow-backing collateral, or the liquidation threshold when deciding
// liquidation eligibility. Threshold >= LTV, so a position can be blocked
// from borrowing while not yet liquidatable.
type healthMode int

const (
	borrowGate healthMode = iota
	liquidationGate
)

// healthRatio values a position's collateral against its debt at current
// prices and indices. The boolean reports whether the position carries debt
// at all; with zero debt the ratio is undefined and the position is always
// healthy. Collateral is valued rounding down and debt rounding up, so the
// ratio never overstates health.
func healthRatio(pos *Position, reserves map[uuid.UUID]*Reserve, prices map[uuid.UUID]fixedpoint.Value, mode healthMode) (fixedpoint.Value, bool, error) {
	collateralValue := fixedpoint.Zero()
	for reserveID, shares := range pos.Collateral {
		reserve, ok := reserves[reserveID]
		if !ok {
			return fixedpoint.Zero(), false, ErrReserveNotFound
		}
		price, ok := prices[reserveID]
		if !ok {
			return fixedpoint.Zero(), false, ErrInvalidPrice
		}
		amount, err := reserve.collateralToAmount(shares)
		if err != nil {
			return fixedpoint.Zero(), false, err
		}
		value, err := amount.MulDown(price)
		if err != nil {
			return fixedpoint.Zero(), false, err
		}
		weightBps := reserve.Params.MaxLTVBps
		if mode == liquidationGate {
			weightBps = reserve.Params.LiquidationThresholdBps
		}
		weighted, err := value.PercentageDown(weightBps)
		if err != nil {
			return fixedpoint.Zero(), false, err
		}
		collateralValue, err = collateralValue.Add(weighted)
		if err != nil {
			return fixedpoint.Zero(), false, err
		}
	}

	debtValue := fixedpoint.Zero()
	for reserveID, shares := range pos.Debt {
		reserve, ok := reserves[reserveID]
		if !ok {
			return fixedpoint.Zero(), false, ErrReserveNotFound
		}
		price, ok := prices[reserveID]
		if !ok {
			return fixedpoint.Zero(), false, ErrInvalidPrice
		}
		amount, err := reserve.debtToAmount(shares)
		if err != nil {
			return fixedpoint.Zero(), false, err
		}
		value, err := amount.MulUp(price)
		if err != nil {
			return fixedpoint.Zero(), false, err
		}
		debtValue, err = debtValue.Add(value)
		if err != nil {
			return fixedpoint.Zero(), false, err
		}
	}

	if debtValue.IsZero() {
		return fixedpoint.Zero(), false, nil
	}
	ratio, err := collateralValue.DivDown(debtValue)
	if err != nil {
		return fixedpoint.Zero(), false, err
	}
	return ratio, true, nil
}

// isHealthy reports whether the health ratio holds at or above 1.0 under the
// given mode. Positions without debt are always healthy.
func isHealthy(pos *Position, reserves map[uuid.UUID]*Reserve, prices map[uuid.UUID]fixedpoint.Value, mode healthMode) (bool, error) {
	ratio, hasDebt, err := healthRatio(pos, reserves, prices, mode)
	if err != nil {
		return false, err
	}
	if !hasDebt {
		return true, nil
	}
	return ratio.Cmp(fixedpoint.One()) >= 0, nil
}

// liquidationPlan is the sized outcome of one liquidation, before it is
// applied to the ledgers.
type liquidationPlan struct {
	// settle is the debt value repaid, in debt-reserve token units.
	settle fixedpoint.Value
	// repayTokens is what the liquidator pays, settle rounded up.
	repayTokens uint64
	// debtSharesBurned come off the position's debt entry.
	debtSharesBurned fixedpoint.Value
	// collateralSharesBurned come off the position's collateral entry.
	collateralSharesBurned fixedpoint.Value
	// seized is the collateral value leaving the pool, in collateral-reserve
	// token units; seizedTokens is its floor paid to the liquidator.
	seized       fixedpoint.Value
	seizedTokens uint64
	// partialFill is set when the requested repay was scaled back because
	// the seizure would have exceeded the deposited collateral.
	partialFill bool
}

// calculateLiquidation sizes a liquidation per the reserve's close factor and
// bonus. The repay request is capped at the close-factor fraction of the
// outstanding debt; when the implied seizure exceeds the position's
// collateral in the reserve, all remaining collateral is seized and the
// repayment scales back proportionally rather than failing. All rounding
// goes against the liquidated position: it loses at least as much as the
// liquidator gains.
func calculateLiquidation(pos *Position, debtReserve, collateralReserve *Reserve, priceDebt, priceCollateral fixedpoint.Value, repayAmount uint64) (liquidationPlan, error) {
	var plan liquidationPlan

	debtShares := pos.DebtShares(debtReserve.ID)
	if debtShares.IsZero() {
		return plan, ErrNoDebt
	}
	collateralShares := pos.CollateralShares(collateralReserve.ID)
	if collateralShares.IsZero() {
		return plan, ErrInsufficientCollateralToSeize
	}
	if repayAmount == 0 {
		return plan, ErrInvalidAmount
	}

	outstanding, err := debtReserve.debtToAmount(debtShares)
	if err != nil {
		return plan, err
	}
	maxRepay, err := outstanding.PercentageDown(debtReserve.Params.CloseFactorBps)
	if err != nil {
		return plan, err
	}
	if maxRepay.IsZero() {
		// Dust debt below close-factor resolution closes in full.
		maxRepay = outstanding
	}

	settle := maxRepay
	if repayAmount != LiquidateMax {
		requested := fixedpoint.FromTokens(repayAmount)
		if requested.Cmp(maxRepay) < 0 {
			settle = requested
		}
	}

	// Seizure = settle * priceDebt / priceCollateral * (1 + bonus).
	debtValue, err := settle.MulDown(priceDebt)
	if err != nil {
		return plan, err
	}
	seized, err := debtValue.DivDown(priceCollateral)
	if err != nil {
		return plan, err
	}
	bonusRate, err := fixedpoint.One().Add(fixedpoint.FromBps(debtReserve.Params.LiquidationBonusBps))
	if err != nil {
		return plan, err
	}
	seized, err = seized.MulDown(bonusRate)
	if err != nil {
		return plan, err
	}

	collateralAmount, err := collateralReserve.collateralToAmount(collateralShares)
	if err != nil {
		return plan, err
	}

	if seized.Cmp(collateralAmount) > 0 {
		// Partial fill: seize everything and scale the repayment back.
		scaled, err := settle.MulDown(collateralAmount)
		if err != nil {
			return plan, err
		}
		settle, err = scaled.DivDown(seized)
		if err != nil {
			return plan, err
		}
		if settle.IsZero() {
			return plan, ErrInsufficientCollateralToSeize
		}
		seized = collateralAmount
		plan.collateralSharesBurned = collateralShares
		plan.partialFill = true
	} else {
		burned, err := seized.DivUp(collateralReserve.SupplyIndex)
		if err != nil {
			return plan, err
		}
		if burned.Cmp(collateralShares) > 0 {
			burned = collateralShares
		}
		plan.collateralSharesBurned = burned
	}

	plan.settle = settle
	plan.seized = seized
	plan.seizedTokens, err = seized.TokensFloor()
	if err != nil {
		return plan, err
	}
	plan.repayTokens, err = settle.TokensCeil()
	if err != nil {
		return plan, err
	}
	plan.debtSharesBurned, err = settle.DivDown(debtReserve.BorrowIndex)
	if err != nil {
		return plan, err
	}
	if plan.debtSharesBurned.Cmp(debtShares) > 0 {
		plan.debtSharesBurned = debtShares
	}
	return plan, nil
}
