package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lendcore/fixedpoint"
	nativecommon "lendcore/native/common"
)

type mockEngineState struct {
	reserves  map[uuid.UUID]*Reserve
	positions map[uuid.UUID]*Position
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		reserves:  make(map[uuid.UUID]*Reserve),
		positions: make(map[uuid.UUID]*Position),
	}
}

func (m *mockEngineState) GetReserve(id uuid.UUID) (*Reserve, error) {
	return m.reserves[id], nil
}

func (m *mockEngineState) PutReserve(reserve *Reserve) error {
	m.reserves[reserve.ID] = reserve
	return nil
}

func (m *mockEngineState) GetPosition(id uuid.UUID) (*Position, error) {
	return m.positions[id], nil
}

func (m *mockEngineState) PutPosition(position *Position) error {
	m.positions[position.ID] = position
	return nil
}

func (m *mockEngineState) DeletePosition(id uuid.UUID) error {
	delete(m.positions, id)
	return nil
}

type mockPriceSource struct {
	quotes map[uuid.UUID]PriceQuote
}

func newMockPriceSource() *mockPriceSource {
	return &mockPriceSource{quotes: make(map[uuid.UUID]PriceQuote)}
}

func (m *mockPriceSource) Quote(reserveID uuid.UUID) (PriceQuote, error) {
	quote, ok := m.quotes[reserveID]
	if !ok {
		return PriceQuote{}, ErrInvalidPrice
	}
	return quote, nil
}

func (m *mockPriceSource) set(reserveID uuid.UUID, price fixedpoint.Value, publishedAt int64) {
	m.quotes[reserveID] = PriceQuote{Price: price, PublishedAt: publishedAt}
}

type mockPauseView struct {
	paused map[string]bool
}

func (m *mockPauseView) IsPaused(module string) bool {
	return m.paused[module]
}

func newTestEngine(t *testing.T, curve RateCurve) (*Engine, *mockEngineState, *mockPriceSource) {
	t.Helper()
	state := newMockEngineState()
	oracle := newMockPriceSource()
	engine := NewEngine(curve)
	engine.SetState(state)
	engine.SetPriceSource(oracle)
	return engine, state, oracle
}

func TestDepositOpensPositionAndEmitsIntent(t *testing.T) {
	engine, state, _ := newTestEngine(t, flatCurve(1_000))
	owner := common.HexToAddress("0xaa")
	reserveID := uuid.New()
	if _, err := engine.InitReserve(reserveID, testParams(), 0); err != nil {
		t.Fatalf("init reserve: %v", err)
	}

	res, err := engine.Deposit(owner, uuid.Nil, reserveID, 1_000, 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.PositionID == uuid.Nil {
		t.Fatalf("deposit did not open a position")
	}
	if res.Shares.Cmp(fixedpoint.FromTokens(1_000)) != 0 {
		t.Fatalf("shares at unit index: got %s", res.Shares)
	}
	if res.Intent.Direction != TransferIn || res.Intent.Amount != 1_000 || res.Intent.Counterparty != owner {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}

	stored := state.positions[res.PositionID]
	if stored == nil {
		t.Fatalf("position not persisted")
	}
	if stored.CollateralShares(reserveID).Cmp(res.Shares) != 0 {
		t.Fatalf("persisted collateral mismatch")
	}
	if state.reserves[reserveID].AvailableLiquidity.Cmp(fixedpoint.FromTokens(1_000)) != 0 {
		t.Fatalf("reserve liquidity not credited")
	}
}

func TestDepositRequiresMatchingOwner(t *testing.T) {
	engine, _, _ := newTestEngine(t, flatCurve(1_000))
	owner := common.HexToAddress("0xaa")
	reserveID := uuid.New()
	if _, err := engine.InitReserve(reserveID, testParams(), 0); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	res, err := engine.Deposit(owner, uuid.Nil, reserveID, 100, 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	other := common.HexToAddress("0xbb")
	if _, err := engine.Deposit(other, res.PositionID, reserveID, 100, 0); !errors.Is(err, ErrNotPositionOwner) {
		t.Fatalf("expected not position owner, got %v", err)
	}
}

func TestInitReserveRejectsDuplicate(t *testing.T) {
	engine, _, _ := newTestEngine(t, flatCurve(1_000))
	reserveID := uuid.New()
	if _, err := engine.InitReserve(reserveID, testParams(), 0); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	if _, err := engine.InitReserve(reserveID, testParams(), 0); !errors.Is(err, ErrReserveExists) {
		t.Fatalf("expected reserve exists, got %v", err)
	}
}

func TestWithdrawWithoutDebtSkipsOracle(t *testing.T) {
	// No price quote is configured, so any health check would fail. A
	// debt-free withdrawal must not consult the oracle at all.
	engine, _, _ := newTestEngine(t, flatCurve(1_000))
	owner := common.HexToAddress("0xaa")
	reserveID := uuid.New()
	if _, err := engine.InitReserve(reserveID, testParams(), 0); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	dep, err := engine.Deposit(owner, uuid.Nil, reserveID, 1_000, 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	res, err := engine.Withdraw(owner, dep.PositionID, reserveID, dep.Shares, 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Amount != 1_000 {
		t.Fatalf("withdraw amount: got %d", res.Amount)
	}
	if res.Intent.Direction != TransferOut || res.Intent.Amount != 1_000 {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}
}

func TestRepayByThirdPartyClearsDebt(t *testing.T) {
	engine, state, oracle := newTestEngine(t, flatCurve(1_000))
	owner := common.HexToAddress("0xaa")
	payer := common.HexToAddress("0xcc")
	collateralID := uuid.New()
	debtID := uuid.New()
	if _, err := engine.InitReserve(collateralID, testParams(), 0); err != nil {
		t.Fatalf("init collateral reserve: %v", err)
	}
	if _, err := engine.InitReserve(debtID, testParams(), 0); err != nil {
		t.Fatalf("init debt reserve: %v", err)
	}
	oracle.set(collateralID, fixedpoint.FromTokens(1), 0)
	oracle.set(debtID, fixedpoint.FromTokens(1), 0)

	supplier := common.HexToAddress("0xdd")
	if _, err := engine.Deposit(supplier, uuid.Nil, debtID, 10_000, 0); err != nil {
		t.Fatalf("fund debt reserve: %v", err)
	}
	dep, err := engine.Deposit(owner, uuid.Nil, collateralID, 2_000, 0)
	if err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := engine.Borrow(owner, dep.PositionID, debtID, 1_000, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	res, err := engine.Repay(payer, dep.PositionID, debtID, RepayMax, 0)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.Repaid != 1_000 {
		t.Fatalf("repaid: got %d", res.Repaid)
	}
	if res.Intent.Counterparty != payer || res.Intent.Direction != TransferIn {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}
	if len(state.positions[dep.PositionID].Debt) != 0 {
		t.Fatalf("debt not cleared")
	}
}

func TestClosePositionRequiresEmpty(t *testing.T) {
	engine, _, _ := newTestEngine(t, flatCurve(1_000))
	owner := common.HexToAddress("0xaa")
	reserveID := uuid.New()
	if _, err := engine.InitReserve(reserveID, testParams(), 0); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	dep, err := engine.Deposit(owner, uuid.Nil, reserveID, 500, 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.ClosePosition(owner, dep.PositionID); !errors.Is(err, ErrPositionNotEmpty) {
		t.Fatalf("expected position not empty, got %v", err)
	}

	if _, err := engine.Withdraw(owner, dep.PositionID, reserveID, dep.Shares, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := engine.ClosePosition(owner, dep.PositionID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.GetPosition(dep.PositionID); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected position not found, got %v", err)
	}
}

func TestClaimProtocolFees(t *testing.T) {
	engine, state, oracle := newTestEngine(t, flatCurve(1_000))
	owner := common.HexToAddress("0xaa")
	treasury := common.HexToAddress("0xff")
	collateralID := uuid.New()
	debtID := uuid.New()
	if _, err := engine.InitReserve(collateralID, testParams(), 0); err != nil {
		t.Fatalf("init collateral reserve: %v", err)
	}
	if _, err := engine.InitReserve(debtID, testParams(), 0); err != nil {
		t.Fatalf("init debt reserve: %v", err)
	}
	oracle.set(collateralID, fixedpoint.FromTokens(1), 0)
	oracle.set(debtID, fixedpoint.FromTokens(1), 0)

	supplier := common.HexToAddress("0xdd")
	if _, err := engine.Deposit(supplier, uuid.Nil, debtID, 10_000, 0); err != nil {
		t.Fatalf("fund debt reserve: %v", err)
	}
	dep, err := engine.Deposit(owner, uuid.Nil, collateralID, 4_000, 0)
	if err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := engine.Borrow(owner, dep.PositionID, debtID, 1_000, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// One year at 10% on 1000 accrues 100 interest, 10% of it as fee.
	res, err := engine.ClaimProtocolFees(debtID, treasury, SecondsPerYear)
	if err != nil {
		t.Fatalf("claim fees: %v", err)
	}
	if res.Amount != 10 {
		t.Fatalf("claimed fees: got %d want 10", res.Amount)
	}
	if res.Intent.Counterparty != treasury || res.Intent.Direction != TransferOut {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}
	if state.reserves[debtID].Fees.Protocol.Cmp(fixedpoint.One()) >= 0 {
		t.Fatalf("fee accrual not drained: %s", state.reserves[debtID].Fees.Protocol)
	}

	// Nothing left to claim immediately after.
	if _, err := engine.ClaimProtocolFees(debtID, treasury, SecondsPerYear); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestStalePriceBlocksBorrow(t *testing.T) {
	engine, _, oracle := newTestEngine(t, flatCurve(1_000))
	owner := common.HexToAddress("0xaa")
	collateralID := uuid.New()
	debtID := uuid.New()
	params := testParams()
	if _, err := engine.InitReserve(collateralID, params, 0); err != nil {
		t.Fatalf("init collateral reserve: %v", err)
	}
	if _, err := engine.InitReserve(debtID, params, 0); err != nil {
		t.Fatalf("init debt reserve: %v", err)
	}

	supplier := common.HexToAddress("0xdd")
	if _, err := engine.Deposit(supplier, uuid.Nil, debtID, 10_000, 0); err != nil {
		t.Fatalf("fund debt reserve: %v", err)
	}
	dep, err := engine.Deposit(owner, uuid.Nil, collateralID, 2_000, 0)
	if err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}

	now := int64(params.MaxPriceAgeSec) + 10
	oracle.set(collateralID, fixedpoint.FromTokens(1), 0) // older than the bound
	oracle.set(debtID, fixedpoint.FromTokens(1), now)
	if _, err := engine.Borrow(owner, dep.PositionID, debtID, 100, now); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
}

func TestPausedModuleRejectsOperations(t *testing.T) {
	engine, _, _ := newTestEngine(t, flatCurve(1_000))
	engine.SetPauses(&mockPauseView{paused: map[string]bool{moduleName: true}})

	if _, err := engine.InitReserve(uuid.New(), testParams(), 0); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected module paused, got %v", err)
	}
	if _, err := engine.Deposit(common.HexToAddress("0xaa"), uuid.Nil, uuid.New(), 1, 0); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected module paused, got %v", err)
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine(flatCurve(1_000))
	if _, err := engine.Deposit(common.HexToAddress("0xaa"), uuid.Nil, uuid.New(), 1, 0); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected nil state, got %v", err)
	}
	var nilEngine *Engine
	if _, err := nilEngine.GetPosition(uuid.New()); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected nil state on nil engine, got %v", err)
	}
}
