package lending

import (
	"github.com/google/uuid"

	"lendcore/fixedpoint"
)

// RepayMax and LiquidateMax are sentinel amounts requesting the maximum the
// ledger allows: full repayment of the outstanding debt, or liquidation up to
// the close-factor cap.
const (
	RepayMax     = ^uint64(0)
	LiquidateMax = ^uint64(0)
)

// NewReserve initialises a reserve with unit indices and validated params.
func NewReserve(id uuid.UUID, params ReserveParams, now int64) (*Reserve, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Reserve{
		ID:                  id,
		BorrowIndex:         fixedpoint.One(),
		SupplyIndex:         fixedpoint.One(),
		LastUpdateTimestamp: now,
		Params:              params,
	}, nil
}

// Utilization returns totalBorrowed / (totalBorrowed + availableLiquidity),
// defined as zero for an empty reserve.
func (r *Reserve) Utilization() (fixedpoint.Value, error) {
	total, err := r.TotalBorrowed.Add(r.AvailableLiquidity)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if total.IsZero() {
		return fixedpoint.Zero(), nil
	}
	return r.TotalBorrowed.DivDown(total)
}

// Accrue advances the cumulative indices to now using simple per-second
// compounding of the curve's annual rates. A no-op for non-increasing
// timestamps, so accrual never runs backward or twice for one timestamp.
// Every step rounds down, so repeated small accruals can never mint value.
// The interest delta net of the protocol fee is credited to the supply side;
// the fee is retained in the reserve's FeeAccrual.
func (r *Reserve) Accrue(now int64, curve RateCurve) error {
	if now <= r.LastUpdateTimestamp {
		return nil
	}
	elapsed := uint64(now - r.LastUpdateTimestamp)

	utilization, err := r.Utilization()
	if err != nil {
		return err
	}
	borrowRate, err := curve.BorrowRate(utilization)
	if err != nil {
		return err
	}
	supplyRate, err := curve.SupplyRate(borrowRate, utilization, r.Params.ReserveFeeBps)
	if err != nil {
		return err
	}

	borrowGrowth, err := rateOverPeriod(borrowRate, elapsed)
	if err != nil {
		return err
	}
	supplyGrowth, err := rateOverPeriod(supplyRate, elapsed)
	if err != nil {
		return err
	}

	one := fixedpoint.One()
	borrowFactor, err := one.Add(borrowGrowth)
	if err != nil {
		return err
	}
	supplyFactor, err := one.Add(supplyGrowth)
	if err != nil {
		return err
	}

	newBorrowIndex, err := r.BorrowIndex.MulDown(borrowFactor)
	if err != nil {
		return err
	}
	newSupplyIndex, err := r.SupplyIndex.MulDown(supplyFactor)
	if err != nil {
		return err
	}

	interest, err := r.TotalBorrowed.MulDown(borrowGrowth)
	if err != nil {
		return err
	}
	fee, err := interest.PercentageDown(r.Params.ReserveFeeBps)
	if err != nil {
		return err
	}
	supplySide, err := interest.Sub(fee)
	if err != nil {
		return err
	}

	newBorrowed, err := r.TotalBorrowed.Add(interest)
	if err != nil {
		return err
	}
	newAvailable, err := r.AvailableLiquidity.Add(supplySide)
	if err != nil {
		return err
	}
	newFees, err := r.Fees.Protocol.Add(fee)
	if err != nil {
		return err
	}

	r.BorrowIndex = newBorrowIndex
	r.SupplyIndex = newSupplyIndex
	r.TotalBorrowed = newBorrowed
	r.AvailableLiquidity = newAvailable
	r.Fees.Protocol = newFees
	r.LastUpdateTimestamp = now
	return nil
}

// rateOverPeriod scales an annual rate to the elapsed period, rounding down.
func rateOverPeriod(annualRate fixedpoint.Value, elapsedSec uint64) (fixedpoint.Value, error) {
	scaled, err := annualRate.MulDown(fixedpoint.FromUint64(elapsedSec))
	if err != nil {
		return fixedpoint.Zero(), err
	}
	return scaled.DivDown(fixedpoint.FromUint64(SecondsPerYear))
}

// depositLiquidity credits amount to the pool and returns the supply shares
// minted against the current supply index, rounded down.
func (r *Reserve) depositLiquidity(amount uint64) (fixedpoint.Value, error) {
	if amount == 0 {
		return fixedpoint.Zero(), ErrInvalidAmount
	}
	deposit := fixedpoint.FromTokens(amount)
	shares, err := deposit.DivDown(r.SupplyIndex)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	newAvailable, err := r.AvailableLiquidity.Add(deposit)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	r.AvailableLiquidity = newAvailable
	return shares, nil
}

// withdrawLiquidity burns supply shares and debits the corresponding amount,
// rounded down so withdrawals never pay out more than was deposited plus
// accrued index growth.
func (r *Reserve) withdrawLiquidity(shares fixedpoint.Value) (fixedpoint.Value, error) {
	if shares.IsZero() {
		return fixedpoint.Zero(), ErrInvalidAmount
	}
	amount, err := shares.MulDown(r.SupplyIndex)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if amount.Cmp(r.AvailableLiquidity) > 0 {
		return fixedpoint.Zero(), ErrInsufficientLiquidity
	}
	newAvailable, err := r.AvailableLiquidity.Sub(amount)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	r.AvailableLiquidity = newAvailable
	return amount, nil
}

// borrowLiquidity moves amount from cash to borrowed and returns the debt
// shares, rounded up so the position owes at least what it received. The
// post-state utilization must stay strictly below the configured cap.
func (r *Reserve) borrowLiquidity(amount uint64) (fixedpoint.Value, error) {
	if amount == 0 {
		return fixedpoint.Zero(), ErrInvalidAmount
	}
	out := fixedpoint.FromTokens(amount)
	if out.Cmp(r.AvailableLiquidity) > 0 {
		return fixedpoint.Zero(), ErrInsufficientLiquidity
	}
	newBorrowed, err := r.TotalBorrowed.Add(out)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	newAvailable, err := r.AvailableLiquidity.Sub(out)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	total, err := newBorrowed.Add(newAvailable)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	utilization, err := newBorrowed.DivDown(total)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if utilization.Cmp(fixedpoint.FromBps(r.Params.MaxUtilizationBps)) >= 0 {
		return fixedpoint.Zero(), ErrUtilizationExceeded
	}
	debtShares, err := out.DivUp(r.BorrowIndex)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	r.TotalBorrowed = newBorrowed
	r.AvailableLiquidity = newAvailable
	return debtShares, nil
}

// repayLiquidity settles part or all of a debt. amount is in token units, or
// RepayMax for full repayment. Paying more than the outstanding debt is
// refused with ErrExcessRepayment rather than refunded. Returns the settled
// value, the debt shares burned, and the token amount the payer owes. The
// cash side is credited with the rounded token amount the payer actually
// transfers, so AvailableLiquidity always matches the vault.
func (r *Reserve) repayLiquidity(amount uint64, debtShares fixedpoint.Value) (settle, burned fixedpoint.Value, repayTokens uint64, err error) {
	if amount == 0 {
		return fixedpoint.Zero(), fixedpoint.Zero(), 0, ErrInvalidAmount
	}
	if debtShares.IsZero() {
		return fixedpoint.Zero(), fixedpoint.Zero(), 0, ErrNoDebt
	}
	outstanding, err := r.debtToAmount(debtShares)
	if err != nil {
		return fixedpoint.Zero(), fixedpoint.Zero(), 0, err
	}
	if amount == RepayMax {
		settle = outstanding
	} else {
		settle = fixedpoint.FromTokens(amount)
		if settle.Cmp(outstanding) > 0 {
			return fixedpoint.Zero(), fixedpoint.Zero(), 0, ErrExcessRepayment
		}
	}
	repayTokens, err = settle.TokensCeil()
	if err != nil {
		return fixedpoint.Zero(), fixedpoint.Zero(), 0, err
	}
	burned, err = settle.DivDown(r.BorrowIndex)
	if err != nil {
		return fixedpoint.Zero(), fixedpoint.Zero(), 0, err
	}
	if burned.Cmp(debtShares) > 0 {
		burned = debtShares
	}
	// Ledger totals may lag the per-position view by a rounding dust unit;
	// settle against what the reserve still records.
	if settle.Cmp(r.TotalBorrowed) > 0 {
		r.TotalBorrowed = fixedpoint.Zero()
	} else {
		newBorrowed, subErr := r.TotalBorrowed.Sub(settle)
		if subErr != nil {
			return fixedpoint.Zero(), fixedpoint.Zero(), 0, subErr
		}
		r.TotalBorrowed = newBorrowed
	}
	newAvailable, err := r.AvailableLiquidity.Add(fixedpoint.FromTokens(repayTokens))
	if err != nil {
		return fixedpoint.Zero(), fixedpoint.Zero(), 0, err
	}
	r.AvailableLiquidity = newAvailable
	return settle, burned, repayTokens, nil
}

// collateralToAmount converts supply shares to token value, rounding down.
func (r *Reserve) collateralToAmount(shares fixedpoint.Value) (fixedpoint.Value, error) {
	return shares.MulDown(r.SupplyIndex)
}

// debtToAmount converts debt shares to token value, rounding up so debt is
// never understated.
func (r *Reserve) debtToAmount(shares fixedpoint.Value) (fixedpoint.Value, error) {
	return shares.MulUp(r.BorrowIndex)
}

// settleDebt applies a liquidation settlement to the borrow ledger: the
// settled value leaves the borrowed total while the cash side gains credited,
// the rounded token amount the liquidator actually pays in.
func (r *Reserve) settleDebt(settle, credited fixedpoint.Value) error {
	if settle.Cmp(r.TotalBorrowed) > 0 {
		r.TotalBorrowed = fixedpoint.Zero()
	} else {
		newBorrowed, err := r.TotalBorrowed.Sub(settle)
		if err != nil {
			return err
		}
		r.TotalBorrowed = newBorrowed
	}
	newAvailable, err := r.AvailableLiquidity.Add(credited)
	if err != nil {
		return err
	}
	r.AvailableLiquidity = newAvailable
	return nil
}

// releaseCollateral debits seized collateral from the pool's cash on its way
// to the liquidator.
func (r *Reserve) releaseCollateral(seized fixedpoint.Value) error {
	if seized.Cmp(r.AvailableLiquidity) > 0 {
		return ErrInsufficientLiquidity
	}
	newAvailable, err := r.AvailableLiquidity.Sub(seized)
	if err != nil {
		return err
	}
	r.AvailableLiquidity = newAvailable
	return nil
}
