package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lendcore/fixedpoint"
)

// SecondsPerYear is the compounding denominator for annual rates.
const SecondsPerYear = 31_536_000

// ReserveParams groups the per-reserve risk limits. All fractions are
// expressed in basis points for deterministic accounting.
type ReserveParams struct {
	// MaxLTVBps is the loan-to-value ratio applied when gating new borrows.
	MaxLTVBps uint64 `toml:"MaxLTVBps"`
	// LiquidationThresholdBps is the LTV at which positions become eligible
	// for liquidation. Must be >= MaxLTVBps, giving a buffer zone where
	// borrowing is blocked but liquidation is not yet triggered.
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	// LiquidationBonusBps is the discount granted to liquidators on seized
	// collateral.
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps"`
	// ReserveFeeBps is the share of accrued interest retained by the
	// protocol.
	ReserveFeeBps uint64 `toml:"ReserveFeeBps"`
	// MaxUtilizationBps bounds borrow utilization; a borrow whose post-state
	// utilization reaches this bound fails.
	MaxUtilizationBps uint64 `toml:"MaxUtilizationBps"`
	// CloseFactorBps is the maximum fraction of a position's debt that one
	// liquidation may repay.
	CloseFactorBps uint64 `toml:"CloseFactorBps"`
	// MaxPriceAgeSec is the oracle staleness bound in seconds.
	MaxPriceAgeSec uint64 `toml:"MaxPriceAgeSec"`
	// MaxConfidenceBps bounds the oracle confidence interval relative to the
	// quoted price.
	MaxConfidenceBps uint64 `toml:"MaxConfidenceBps"`
}

// Validate checks the parameter ranges before a reserve is created.
func (p ReserveParams) Validate() error {
	if p.MaxLTVBps == 0 || p.MaxLTVBps > fixedpoint.BpsDenominator {
		return ErrInvalidConfig
	}
	if p.LiquidationThresholdBps < p.MaxLTVBps || p.LiquidationThresholdBps > fixedpoint.BpsDenominator {
		return ErrInvalidConfig
	}
	if p.LiquidationBonusBps > fixedpoint.BpsDenominator {
		return ErrInvalidConfig
	}
	if p.ReserveFeeBps > fixedpoint.BpsDenominator {
		return ErrInvalidConfig
	}
	if p.MaxUtilizationBps == 0 || p.MaxUtilizationBps > fixedpoint.BpsDenominator {
		return ErrInvalidConfig
	}
	if p.CloseFactorBps == 0 || p.CloseFactorBps > fixedpoint.BpsDenominator {
		return ErrInvalidConfig
	}
	if p.MaxPriceAgeSec == 0 {
		return ErrInvalidConfig
	}
	return nil
}

// FeeAccrual tracks the protocol fee retained out of accrued interest,
// denominated in the reserve's underlying token.
type FeeAccrual struct {
	Protocol fixedpoint.Value
}

// Reserve is the aggregate state of one lending pool. Cash and borrow totals
// are denominated in the reserve's underlying token; indices are cumulative
// wad multipliers since reserve creation.
type Reserve struct {
	ID uuid.UUID

	// AvailableLiquidity is the supply-side cash of the pool.
	AvailableLiquidity fixedpoint.Value
	// TotalBorrowed is the outstanding debt across all positions, including
	// compounded interest.
	TotalBorrowed fixedpoint.Value

	// BorrowIndex and SupplyIndex are monotonically non-decreasing.
	BorrowIndex fixedpoint.Value
	SupplyIndex fixedpoint.Value

	// LastUpdateTimestamp is the unix time the indices were last advanced.
	LastUpdateTimestamp int64

	Params ReserveParams
	Fees   FeeAccrual
}

// Clone returns a deep copy of the reserve. fixedpoint.Value is a value
// type, so a field copy is sufficient.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Position is the collateral and debt record of one borrower. Shares are wad
// units against the owning reserve's cumulative indices; entries with zero
// shares are pruned so health computation stays bounded by active
// relationships.
type Position struct {
	ID         uuid.UUID
	Owner      common.Address
	Collateral map[uuid.UUID]fixedpoint.Value
	Debt       map[uuid.UUID]fixedpoint.Value
}

// TransferDirection tells the external token-transfer collaborator which way
// tokens move relative to the pool.
type TransferDirection string

const (
	// TransferIn moves tokens from the counterparty into the pool vault.
	TransferIn TransferDirection = "in"
	// TransferOut moves tokens from the pool vault to the counterparty.
	TransferOut TransferDirection = "out"
)

// TransferIntent is the instruction the core emits for the token-transfer
// collaborator. The core itself never moves tokens.
type TransferIntent struct {
	ReserveID    uuid.UUID
	Direction    TransferDirection
	Amount       uint64
	Counterparty common.Address
}
