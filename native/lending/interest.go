package lending

import "lendcore/fixedpoint"

// RateCurve maps utilization to an annual borrow rate via a piecewise-linear
// curve with a kink at OptimalUtilization. Below the kink the rate climbs by
// Slope1 per unit of utilization; above it Slope2 applies to the excess,
// discouraging borrows that drain liquidity.
type RateCurve struct {
	BaseRate           fixedpoint.Value
	Slope1             fixedpoint.Value
	Slope2             fixedpoint.Value
	OptimalUtilization fixedpoint.Value
}

// NewRateCurve constructs a curve from basis-point inputs, e.g. a 2% base
// rate is 200 and an 80% kink is 8000.
func NewRateCurve(baseBps, slope1Bps, slope2Bps, kinkBps uint64) RateCurve {
	return RateCurve{
		BaseRate:           fixedpoint.FromBps(baseBps),
		Slope1:             fixedpoint.FromBps(slope1Bps),
		Slope2:             fixedpoint.FromBps(slope2Bps),
		OptimalUtilization: fixedpoint.FromBps(kinkBps),
	}
}

// BorrowRate derives the annual borrow rate for the given utilization. Pure
// and deterministic; fails with ErrInvalidUtilization outside [0, 1] and with
// ErrInvalidConfig when the curve's kink is zero or above 1, so a
// misconfigured curve never silently degrades to the Slope1-only branch.
func (c RateCurve) BorrowRate(utilization fixedpoint.Value) (fixedpoint.Value, error) {
	kink := c.OptimalUtilization
	if kink.IsZero() || kink.Cmp(fixedpoint.One()) > 0 {
		return fixedpoint.Zero(), ErrInvalidConfig
	}
	if utilization.Cmp(fixedpoint.One()) > 0 {
		return fixedpoint.Zero(), ErrInvalidUtilization
	}
	if utilization.IsZero() {
		return c.BaseRate, nil
	}

	if utilization.Cmp(kink) <= 0 {
		// Linear region before the kink.
		step, err := c.Slope1.MulDown(utilization)
		if err != nil {
			return fixedpoint.Zero(), err
		}
		return c.BaseRate.Add(step)
	}

	// Rate at the kink using Slope1.
	atKink, err := c.Slope1.MulDown(kink)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	rate, err := c.BaseRate.Add(atKink)
	if err != nil {
		return fixedpoint.Zero(), err
	}

	// Additional rate beyond the kink using Slope2.
	excess, err := utilization.Sub(kink)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	step, err := c.Slope2.MulDown(excess)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	return rate.Add(step)
}

// SupplyRate derives the supply-side annual rate: the borrow rate weighted by
// utilization, net of the protocol's reserve fee.
func (c RateCurve) SupplyRate(borrowRate, utilization fixedpoint.Value, reserveFeeBps uint64) (fixedpoint.Value, error) {
	if utilization.Cmp(fixedpoint.One()) > 0 {
		return fixedpoint.Zero(), ErrInvalidUtilization
	}
	if reserveFeeBps > fixedpoint.BpsDenominator {
		return fixedpoint.Zero(), ErrInvalidConfig
	}
	gross, err := borrowRate.MulDown(utilization)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	return gross.PercentageDown(fixedpoint.BpsDenominator - reserveFeeBps)
}
