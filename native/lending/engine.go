package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lendcore/fixedpoint"
	nativecommon "lendcore/native/common"
)

const moduleName = "lending"

// engineState is the persistence boundary of the core. Implementations
// return nil (not an error) for absent records, and must persist whole
// records atomically per Put.
type engineState interface {
	GetReserve(id uuid.UUID) (*Reserve, error)
	PutReserve(reserve *Reserve) error
	GetPosition(id uuid.UUID) (*Position, error)
	PutPosition(position *Position) error
	DeletePosition(id uuid.UUID) error
}

// Engine executes the primary state transitions of the lending core. Each
// operation is a pure transition over (state, inputs, price, timestamp):
// state is re-read and re-accrued at the start of every operation, all
// checks run against the computed post-state, and nothing is persisted
// unless every check passes. The surrounding execution environment
// serializes operations; the engine holds no locks.
type Engine struct {
	state  engineState
	curve  RateCurve
	oracle PriceSource
	pauses nativecommon.PauseView
}

// NewEngine constructs an engine with the given interest rate curve. The
// state, oracle, and pause view are wired separately.
func NewEngine(curve RateCurve) *Engine {
	return &Engine{curve: curve}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetPriceSource wires the external oracle client.
func (e *Engine) SetPriceSource(source PriceSource) {
	if e == nil {
		return
	}
	e.oracle = source
}

// SetPauses installs the administrative pause view checked by every
// operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetRateCurve replaces the interest rate curve used for accrual.
func (e *Engine) SetRateCurve(curve RateCurve) {
	if e == nil {
		return
	}
	e.curve = curve
}

// DepositResult reports the shares minted and the transfer the token
// collaborator must execute.
type DepositResult struct {
	PositionID uuid.UUID
	Shares     fixedpoint.Value
	Intent     TransferIntent
}

// WithdrawResult reports the amount released.
type WithdrawResult struct {
	Amount uint64
	Intent TransferIntent
}

// BorrowResult reports the debt shares recorded against the position.
type BorrowResult struct {
	DebtShares fixedpoint.Value
	Intent     TransferIntent
}

// RepayResult reports the token amount the payer owes for the settlement.
type RepayResult struct {
	Repaid uint64
	Intent TransferIntent
}

// LiquidationResult pairs the repayment collected from the liquidator with
// the collateral released to them.
type LiquidationResult struct {
	Repaid      uint64
	Seized      uint64
	PartialFill bool
	RepayIntent TransferIntent
	SeizeIntent TransferIntent
}

// HealthReport is the liquidation-threshold view of a position's health.
type HealthReport struct {
	Ratio        fixedpoint.Value
	HasDebt      bool
	Liquidatable bool
}

// InitReserve creates a new reserve. Administrative; reserves are never
// destroyed while positions reference them.
func (e *Engine) InitReserve(id uuid.UUID, params ReserveParams, now int64) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	existing, err := e.state.GetReserve(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrReserveExists
	}
	reserve, err := NewReserve(id, params, now)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	return reserve, nil
}

// Deposit accrues the reserve and credits amount against a position,
// minting supply shares at the current index. A zero position id opens a
// new position for the owner.
func (e *Engine) Deposit(owner common.Address, positionID, reserveID uuid.UUID, amount uint64, now int64) (*DepositResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	reserve, err := e.loadReserve(reserveID, now)
	if err != nil {
		return nil, err
	}

	var pos *Position
	if positionID == uuid.Nil {
		pos = NewPosition(owner)
	} else {
		pos, err = e.loadOwnedPosition(positionID, owner)
		if err != nil {
			return nil, err
		}
	}

	shares, err := reserve.depositLiquidity(amount)
	if err != nil {
		return nil, err
	}
	if err := pos.addCollateral(reserveID, shares); err != nil {
		return nil, err
	}

	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	return &DepositResult{
		PositionID: pos.ID,
		Shares:     shares,
		Intent: TransferIntent{
			ReserveID:    reserveID,
			Direction:    TransferIn,
			Amount:       amount,
			Counterparty: owner,
		},
	}, nil
}

// Withdraw burns supply shares and releases the underlying tokens. When the
// position carries debt, the post-withdraw state must stay above the
// liquidation threshold across all of its reserves.
func (e *Engine) Withdraw(owner common.Address, positionID, reserveID uuid.UUID, shares fixedpoint.Value, now int64) (*WithdrawResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	pos, err := e.loadOwnedPosition(positionID, owner)
	if err != nil {
		return nil, err
	}
	reserve, err := e.loadReserve(reserveID, now)
	if err != nil {
		return nil, err
	}

	if err := pos.removeCollateral(reserveID, shares); err != nil {
		return nil, err
	}
	amount, err := reserve.withdrawLiquidity(shares)
	if err != nil {
		return nil, err
	}

	if len(pos.Debt) > 0 {
		reserves, prices, err := e.portfolio(pos, now, map[uuid.UUID]*Reserve{reserveID: reserve})
		if err != nil {
			return nil, err
		}
		healthy, err := isHealthy(pos, reserves, prices, liquidationGate)
		if err != nil {
			return nil, err
		}
		if !healthy {
			return nil, ErrInsufficientCollateral
		}
	}

	tokens, err := amount.TokensFloor()
	if err != nil {
		return nil, err
	}

	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	return &WithdrawResult{
		Amount: tokens,
		Intent: TransferIntent{
			ReserveID:    reserveID,
			Direction:    TransferOut,
			Amount:       tokens,
			Counterparty: owner,
		},
	}, nil
}

// Borrow draws amount from the reserve against the position's collateral.
// Health must hold after the action, not before: the check runs with the new
// debt already applied, at loan-to-value weighting.
func (e *Engine) Borrow(owner common.Address, positionID, reserveID uuid.UUID, amount uint64, now int64) (*BorrowResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	pos, err := e.loadOwnedPosition(positionID, owner)
	if err != nil {
		return nil, err
	}
	reserve, err := e.loadReserve(reserveID, now)
	if err != nil {
		return nil, err
	}

	debtShares, err := reserve.borrowLiquidity(amount)
	if err != nil {
		return nil, err
	}
	if err := pos.addDebt(reserveID, debtShares); err != nil {
		return nil, err
	}

	reserves, prices, err := e.portfolio(pos, now, map[uuid.UUID]*Reserve{reserveID: reserve})
	if err != nil {
		return nil, err
	}
	healthy, err := isHealthy(pos, reserves, prices, borrowGate)
	if err != nil {
		return nil, err
	}
	if !healthy {
		return nil, ErrInsufficientCollateral
	}

	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	return &BorrowResult{
		DebtShares: debtShares,
		Intent: TransferIntent{
			ReserveID:    reserveID,
			Direction:    TransferOut,
			Amount:       amount,
			Counterparty: owner,
		},
	}, nil
}

// Repay settles up to the outstanding debt. Anyone may repay a position;
// amounts above the outstanding debt are refused with ErrExcessRepayment,
// and RepayMax requests exact full settlement.
func (e *Engine) Repay(payer common.Address, positionID, reserveID uuid.UUID, amount uint64, now int64) (*RepayResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	pos, err := e.loadPosition(positionID)
	if err != nil {
		return nil, err
	}
	reserve, err := e.loadReserve(reserveID, now)
	if err != nil {
		return nil, err
	}

	_, burned, repayTokens, err := reserve.repayLiquidity(amount, pos.DebtShares(reserveID))
	if err != nil {
		return nil, err
	}
	if err := pos.removeDebt(reserveID, burned); err != nil {
		return nil, err
	}

	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	return &RepayResult{
		Repaid: repayTokens,
		Intent: TransferIntent{
			ReserveID:    reserveID,
			Direction:    TransferIn,
			Amount:       repayTokens,
			Counterparty: payer,
		},
	}, nil
}

// Liquidate repays part of an unhealthy position's debt in exchange for a
// discounted amount of its collateral. Both reserves accrue first; the
// repayment is bounded by the close factor, and the seizure by the deposited
// collateral (partial fill). Owners cannot liquidate themselves.
func (e *Engine) Liquidate(liquidator common.Address, positionID, debtReserveID, collateralReserveID uuid.UUID, repayAmount uint64, now int64) (*LiquidationResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	pos, err := e.loadPosition(positionID)
	if err != nil {
		return nil, err
	}
	if pos.Owner == liquidator {
		return nil, ErrSelfLiquidation
	}

	debtReserve, err := e.loadReserve(debtReserveID, now)
	if err != nil {
		return nil, err
	}
	var collateralReserve *Reserve
	if collateralReserveID == debtReserveID {
		collateralReserve = debtReserve
	} else {
		collateralReserve, err = e.loadReserve(collateralReserveID, now)
		if err != nil {
			return nil, err
		}
	}

	overrides := map[uuid.UUID]*Reserve{
		debtReserveID:       debtReserve,
		collateralReserveID: collateralReserve,
	}
	reserves, prices, err := e.portfolio(pos, now, overrides)
	if err != nil {
		return nil, err
	}
	healthy, err := isHealthy(pos, reserves, prices, liquidationGate)
	if err != nil {
		return nil, err
	}
	if healthy {
		return nil, ErrNotLiquidatable
	}

	priceDebt, ok := prices[debtReserveID]
	if !ok {
		return nil, ErrInvalidPrice
	}
	priceCollateral, ok := prices[collateralReserveID]
	if !ok {
		return nil, ErrInvalidPrice
	}

	plan, err := calculateLiquidation(pos, debtReserve, collateralReserve, priceDebt, priceCollateral, repayAmount)
	if err != nil {
		return nil, err
	}

	if err := debtReserve.settleDebt(plan.settle, fixedpoint.FromTokens(plan.repayTokens)); err != nil {
		return nil, err
	}
	if err := collateralReserve.releaseCollateral(plan.seized); err != nil {
		return nil, err
	}
	if err := pos.removeDebt(debtReserveID, plan.debtSharesBurned); err != nil {
		return nil, err
	}
	if err := pos.removeCollateral(collateralReserveID, plan.collateralSharesBurned); err != nil {
		return nil, err
	}

	if err := e.state.PutReserve(debtReserve); err != nil {
		return nil, err
	}
	if collateralReserveID != debtReserveID {
		if err := e.state.PutReserve(collateralReserve); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	return &LiquidationResult{
		Repaid:      plan.repayTokens,
		Seized:      plan.seizedTokens,
		PartialFill: plan.partialFill,
		RepayIntent: TransferIntent{
			ReserveID:    debtReserveID,
			Direction:    TransferIn,
			Amount:       plan.repayTokens,
			Counterparty: liquidator,
		},
		SeizeIntent: TransferIntent{
			ReserveID:    collateralReserveID,
			Direction:    TransferOut,
			Amount:       plan.seizedTokens,
			Counterparty: liquidator,
		},
	}, nil
}

// ClosePosition removes a fully empty position. Only the owner may close.
func (e *Engine) ClosePosition(owner common.Address, positionID uuid.UUID) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pos, err := e.loadOwnedPosition(positionID, owner)
	if err != nil {
		return err
	}
	if !pos.IsEmpty() {
		return ErrPositionNotEmpty
	}
	return e.state.DeletePosition(positionID)
}

// ClaimProtocolFees transfers the accrued protocol fees of a reserve to the
// recipient and resets the accrual to the claimed remainder.
func (e *Engine) ClaimProtocolFees(reserveID uuid.UUID, recipient common.Address, now int64) (*WithdrawResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	reserve, err := e.loadReserve(reserveID, now)
	if err != nil {
		return nil, err
	}
	tokens, err := reserve.Fees.Protocol.TokensFloor()
	if err != nil {
		return nil, err
	}
	if tokens == 0 {
		return nil, ErrInvalidAmount
	}
	remaining, err := reserve.Fees.Protocol.Sub(fixedpoint.FromTokens(tokens))
	if err != nil {
		return nil, err
	}
	reserve.Fees.Protocol = remaining
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	return &WithdrawResult{
		Amount: tokens,
		Intent: TransferIntent{
			ReserveID:    reserveID,
			Direction:    TransferOut,
			Amount:       tokens,
			Counterparty: recipient,
		},
	}, nil
}

// PositionHealth reports the liquidation-threshold health of a position at
// current prices without mutating state.
func (e *Engine) PositionHealth(positionID uuid.UUID, now int64) (*HealthReport, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.loadPosition(positionID)
	if err != nil {
		return nil, err
	}
	reserves, prices, err := e.portfolio(pos, now, nil)
	if err != nil {
		return nil, err
	}
	ratio, hasDebt, err := healthRatio(pos, reserves, prices, liquidationGate)
	if err != nil {
		return nil, err
	}
	return &HealthReport{
		Ratio:        ratio,
		HasDebt:      hasDebt,
		Liquidatable: hasDebt && ratio.Cmp(fixedpoint.One()) < 0,
	}, nil
}

// GetReserve returns an accrued read-only view of a reserve.
func (e *Engine) GetReserve(reserveID uuid.UUID, now int64) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadReserve(reserveID, now)
}

// GetPosition returns a copy of a position.
func (e *Engine) GetPosition(positionID uuid.UUID) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPosition(positionID)
}

// loadReserve re-reads and re-accrues a reserve; cached values are never
// trusted across operations. Returns a clone safe to mutate.
func (e *Engine) loadReserve(reserveID uuid.UUID, now int64) (*Reserve, error) {
	stored, err := e.state.GetReserve(reserveID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrReserveNotFound
	}
	reserve := stored.Clone()
	if err := reserve.Accrue(now, e.curve); err != nil {
		return nil, err
	}
	return reserve, nil
}

func (e *Engine) loadPosition(positionID uuid.UUID) (*Position, error) {
	stored, err := e.state.GetPosition(positionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrPositionNotFound
	}
	return stored.Clone(), nil
}

func (e *Engine) loadOwnedPosition(positionID uuid.UUID, owner common.Address) (*Position, error) {
	pos, err := e.loadPosition(positionID)
	if err != nil {
		return nil, err
	}
	if pos.Owner != owner {
		return nil, ErrNotPositionOwner
	}
	return pos, nil
}

// portfolio gathers accrued reserves and validated prices for every reserve
// the position touches. Overrides substitute reserves already accrued and
// mutated by the calling operation so health checks see the post-state.
func (e *Engine) portfolio(pos *Position, now int64, overrides map[uuid.UUID]*Reserve) (map[uuid.UUID]*Reserve, map[uuid.UUID]fixedpoint.Value, error) {
	if e.oracle == nil {
		return nil, nil, ErrNilState
	}
	reserves := make(map[uuid.UUID]*Reserve)
	prices := make(map[uuid.UUID]fixedpoint.Value)

	collect := func(reserveID uuid.UUID) error {
		if _, done := reserves[reserveID]; done {
			return nil
		}
		reserve, ok := overrides[reserveID]
		if !ok {
			var err error
			reserve, err = e.loadReserve(reserveID, now)
			if err != nil {
				return err
			}
		}
		quote, err := e.oracle.Quote(reserveID)
		if err != nil {
			return err
		}
		price, err := quote.Validate(now, reserve.Params.MaxPriceAgeSec, reserve.Params.MaxConfidenceBps)
		if err != nil {
			return err
		}
		reserves[reserveID] = reserve
		prices[reserveID] = price
		return nil
	}

	for reserveID := range pos.Collateral {
		if err := collect(reserveID); err != nil {
			return nil, nil, err
		}
	}
	for reserveID := range pos.Debt {
		if err := collect(reserveID); err != nil {
			return nil, nil, err
		}
	}
	return reserves, prices, nil
}
