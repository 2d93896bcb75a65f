package lending

// Config captures the runtime configuration of the lending module: the
// interest curve constants and the default risk parameters applied to newly
// initialised reserves. Everything is explicit configuration passed into the
// engine, never hidden global state, so tests can vary parameters freely.
type Config struct {
	// Curve constants, in basis points.
	BaseRateBps           uint64 `toml:"BaseRateBps"`
	Slope1Bps             uint64 `toml:"Slope1Bps"`
	Slope2Bps             uint64 `toml:"Slope2Bps"`
	OptimalUtilizationBps uint64 `toml:"OptimalUtilizationBps"`

	// Default per-reserve risk parameters.
	Reserve ReserveParams `toml:"reserve"`
}

// DefaultConfig mirrors a conservative mainnet-style parameterisation: a 2%
// base rate with an 80% kink, 75% LTV against an 80% threshold, 5%
// liquidation bonus, 10% reserve fee, 90% utilization cap, 50% close factor,
// and a 60 second price staleness bound.
func DefaultConfig() Config {
	return Config{
		BaseRateBps:           200,
		Slope1Bps:             1_500,
		Slope2Bps:             6_000,
		OptimalUtilizationBps: 8_000,
		Reserve: ReserveParams{
			MaxLTVBps:               7_500,
			LiquidationThresholdBps: 8_000,
			LiquidationBonusBps:     500,
			ReserveFeeBps:           1_000,
			MaxUtilizationBps:       9_000,
			CloseFactorBps:          5_000,
			MaxPriceAgeSec:          60,
			MaxConfidenceBps:        200,
		},
	}
}

// Curve builds the rate curve from the configured constants.
func (c Config) Curve() RateCurve {
	return NewRateCurve(c.BaseRateBps, c.Slope1Bps, c.Slope2Bps, c.OptimalUtilizationBps)
}

// Validate checks the curve constants and the default reserve parameters.
func (c Config) Validate() error {
	if c.OptimalUtilizationBps == 0 || c.OptimalUtilizationBps > 10_000 {
		return ErrInvalidConfig
	}
	return c.Reserve.Validate()
}
