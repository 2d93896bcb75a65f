package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lendcore/fixedpoint"
)

// NewPosition creates an empty position for owner. Positions come into being
// on first deposit or first borrow and persist until explicitly closed.
func NewPosition(owner common.Address) *Position {
	return &Position{
		ID:         uuid.New(),
		Owner:      owner,
		Collateral: make(map[uuid.UUID]fixedpoint.Value),
		Debt:       make(map[uuid.UUID]fixedpoint.Value),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		ID:         p.ID,
		Owner:      p.Owner,
		Collateral: make(map[uuid.UUID]fixedpoint.Value, len(p.Collateral)),
		Debt:       make(map[uuid.UUID]fixedpoint.Value, len(p.Debt)),
	}
	for id, shares := range p.Collateral {
		clone.Collateral[id] = shares
	}
	for id, shares := range p.Debt {
		clone.Debt[id] = shares
	}
	return clone
}

// CollateralShares returns the supply shares held against a reserve; absent
// entries read as zero.
func (p *Position) CollateralShares(reserveID uuid.UUID) fixedpoint.Value {
	return p.Collateral[reserveID]
}

// DebtShares returns the debt shares owed against a reserve.
func (p *Position) DebtShares(reserveID uuid.UUID) fixedpoint.Value {
	return p.Debt[reserveID]
}

// IsEmpty reports whether the position holds no collateral and no debt.
func (p *Position) IsEmpty() bool {
	return len(p.Collateral) == 0 && len(p.Debt) == 0
}

func (p *Position) addCollateral(reserveID uuid.UUID, shares fixedpoint.Value) error {
	if p.Collateral == nil {
		p.Collateral = make(map[uuid.UUID]fixedpoint.Value)
	}
	sum, err := p.Collateral[reserveID].Add(shares)
	if err != nil {
		return err
	}
	p.setCollateral(reserveID, sum)
	return nil
}

func (p *Position) removeCollateral(reserveID uuid.UUID, shares fixedpoint.Value) error {
	held := p.Collateral[reserveID]
	if shares.Cmp(held) > 0 {
		return ErrInsufficientCollateral
	}
	remaining, err := held.Sub(shares)
	if err != nil {
		return err
	}
	p.setCollateral(reserveID, remaining)
	return nil
}

func (p *Position) addDebt(reserveID uuid.UUID, shares fixedpoint.Value) error {
	if p.Debt == nil {
		p.Debt = make(map[uuid.UUID]fixedpoint.Value)
	}
	sum, err := p.Debt[reserveID].Add(shares)
	if err != nil {
		return err
	}
	p.setDebt(reserveID, sum)
	return nil
}

func (p *Position) removeDebt(reserveID uuid.UUID, shares fixedpoint.Value) error {
	owed := p.Debt[reserveID]
	if shares.Cmp(owed) > 0 {
		return ErrNoDebt
	}
	remaining, err := owed.Sub(shares)
	if err != nil {
		return err
	}
	p.setDebt(reserveID, remaining)
	return nil
}

// Zero-share entries are pruned so a reserve relationship disappears the
// moment its balance returns to zero.
func (p *Position) setCollateral(reserveID uuid.UUID, shares fixedpoint.Value) {
	if shares.IsZero() {
		delete(p.Collateral, reserveID)
		return
	}
	p.Collateral[reserveID] = shares
}

func (p *Position) setDebt(reserveID uuid.UUID, shares fixedpoint.Value) {
	if shares.IsZero() {
		delete(p.Debt, reserveID)
		return
	}
	p.Debt[reserveID] = shares
}
