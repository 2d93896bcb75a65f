package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lendcore/fixedpoint"
)

func TestPositionPrunesZeroEntries(t *testing.T) {
	pos := NewPosition(common.HexToAddress("0x01"))
	reserveID := uuid.New()

	if err := pos.addCollateral(reserveID, fixedpoint.FromTokens(10)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if err := pos.addDebt(reserveID, fixedpoint.FromTokens(4)); err != nil {
		t.Fatalf("add debt: %v", err)
	}
	if pos.IsEmpty() {
		t.Fatalf("position with balances reported empty")
	}

	if err := pos.removeCollateral(reserveID, fixedpoint.FromTokens(10)); err != nil {
		t.Fatalf("remove collateral: %v", err)
	}
	if _, ok := pos.Collateral[reserveID]; ok {
		t.Fatalf("zero collateral entry not pruned")
	}
	if err := pos.removeDebt(reserveID, fixedpoint.FromTokens(4)); err != nil {
		t.Fatalf("remove debt: %v", err)
	}
	if !pos.IsEmpty() {
		t.Fatalf("drained position not empty")
	}
}

func TestPositionRemovalBounds(t *testing.T) {
	pos := NewPosition(common.HexToAddress("0x02"))
	reserveID := uuid.New()

	if err := pos.removeCollateral(reserveID, fixedpoint.FromTokens(1)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if err := pos.removeDebt(reserveID, fixedpoint.FromTokens(1)); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected no debt, got %v", err)
	}
}

func TestPositionCloneIsDeep(t *testing.T) {
	pos := NewPosition(common.HexToAddress("0x03"))
	reserveID := uuid.New()
	if err := pos.addCollateral(reserveID, fixedpoint.FromTokens(5)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}

	clone := pos.Clone()
	if err := clone.addCollateral(reserveID, fixedpoint.FromTokens(5)); err != nil {
		t.Fatalf("add to clone: %v", err)
	}
	if pos.CollateralShares(reserveID).Cmp(fixedpoint.FromTokens(5)) != 0 {
		t.Fatalf("mutating clone leaked into original")
	}
}
