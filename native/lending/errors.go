package lending

import "errors"

// Sentinel errors surfaced by the reserve ledger and risk engine. Every
// arithmetic or invariant violation aborts the whole operation; callers
// dispatch on these with errors.Is and surface the kind verbatim.
var (
	ErrNilState           = errors.New("lending: state not configured")
	ErrInvalidConfig      = errors.New("lending: invalid configuration")
	ErrInvalidAmount      = errors.New("lending: amount must be positive")
	ErrInvalidUtilization = errors.New("lending: utilization outside [0,1]")

	ErrReserveNotFound = errors.New("lending: reserve not found")
	ErrReserveExists   = errors.New("lending: reserve already initialised")

	ErrPositionNotFound = errors.New("lending: position not found")
	ErrNotPositionOwner = errors.New("lending: caller does not own position")
	ErrPositionNotEmpty = errors.New("lending: position still holds shares")

	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrUtilizationExceeded    = errors.New("lending: utilization cap exceeded")
	ErrExcessRepayment        = errors.New("lending: repayment exceeds outstanding debt")
	ErrNoDebt                 = errors.New("lending: no outstanding debt")

	ErrNotLiquidatable               = errors.New("lending: position not eligible for liquidation")
	ErrInsufficientCollateralToSeize = errors.New("lending: seizure exceeds deposited collateral")
	ErrSelfLiquidation               = errors.New("lending: cannot liquidate own position")

	ErrStalePrice   = errors.New("lending: oracle price outside freshness bound")
	ErrInvalidPrice = errors.New("lending: oracle price invalid")
)
