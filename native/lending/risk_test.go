package lending

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lendcore/fixedpoint"
)

func healthFixture(t *testing.T) (map[uuid.UUID]*Reserve, map[uuid.UUID]fixedpoint.Value, uuid.UUID, uuid.UUID) {
	t.Helper()
	collateralID := uuid.New()
	debtID := uuid.New()
	reserves := map[uuid.UUID]*Reserve{
		collateralID: mustReserve(t, testParams(), 0),
		debtID:       mustReserve(t, testParams(), 0),
	}
	reserves[collateralID].ID = collateralID
	reserves[debtID].ID = debtID
	prices := map[uuid.UUID]fixedpoint.Value{
		collateralID: fixedpoint.FromTokens(1),
		debtID:       fixedpoint.FromTokens(1),
	}
	return reserves, prices, collateralID, debtID
}

func TestHealthRatioMonotonicInDebt(t *testing.T) {
	reserves, prices, collateralID, debtID := healthFixture(t)

	prev := fixedpoint.Zero()
	for i, debt := range []uint64{100, 250, 500, 900, 2_000} {
		pos := NewPosition(common.HexToAddress("0xaa"))
		pos.Collateral[collateralID] = fixedpoint.FromTokens(1_000)
		pos.Debt[debtID] = fixedpoint.FromTokens(debt)

		ratio, hasDebt, err := healthRatio(pos, reserves, prices, borrowGate)
		if err != nil {
			t.Fatalf("health ratio at debt %d: %v", debt, err)
		}
		if !hasDebt {
			t.Fatalf("debt %d not reported", debt)
		}
		if i > 0 && ratio.Cmp(prev) > 0 {
			t.Fatalf("ratio increased with debt: %s > %s at debt %d", ratio, prev, debt)
		}
		prev = ratio
	}
}

func TestHealthRatioMonotonicInCollateral(t *testing.T) {
	reserves, prices, collateralID, debtID := healthFixture(t)

	prev := fixedpoint.Zero()
	for i, collateral := range []uint64{100, 400, 1_000, 5_000} {
		pos := NewPosition(common.HexToAddress("0xaa"))
		pos.Collateral[collateralID] = fixedpoint.FromTokens(collateral)
		pos.Debt[debtID] = fixedpoint.FromTokens(500)

		ratio, hasDebt, err := healthRatio(pos, reserves, prices, borrowGate)
		if err != nil {
			t.Fatalf("health ratio at collateral %d: %v", collateral, err)
		}
		if !hasDebt {
			t.Fatalf("debt not reported at collateral %d", collateral)
		}
		if i > 0 && ratio.Cmp(prev) < 0 {
			t.Fatalf("ratio decreased with collateral: %s < %s at collateral %d", ratio, prev, collateral)
		}
		prev = ratio
	}
}

func TestHealthRatioThresholdWeightingAboveLTV(t *testing.T) {
	reserves, prices, collateralID, debtID := healthFixture(t)

	pos := NewPosition(common.HexToAddress("0xaa"))
	pos.Collateral[collateralID] = fixedpoint.FromTokens(1_000)
	pos.Debt[debtID] = fixedpoint.FromTokens(700)

	borrow, _, err := healthRatio(pos, reserves, prices, borrowGate)
	if err != nil {
		t.Fatalf("borrow-gate ratio: %v", err)
	}
	threshold, _, err := healthRatio(pos, reserves, prices, liquidationGate)
	if err != nil {
		t.Fatalf("liquidation-gate ratio: %v", err)
	}
	// Threshold weighting (80%) values the same collateral higher than the
	// loan-to-value weighting (75%).
	if threshold.Cmp(borrow) <= 0 {
		t.Fatalf("threshold ratio %s not above ltv ratio %s", threshold, borrow)
	}
}
