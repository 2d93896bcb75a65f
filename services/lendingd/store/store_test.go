package store

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lendcore/fixedpoint"
	"lendcore/native/lending"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	return st
}

func TestReserveRoundTrip(t *testing.T) {
	st := openTestStore(t)

	reserve, err := lending.NewReserve(uuid.New(), lending.DefaultConfig().Reserve, 42)
	require.NoError(t, err)
	reserve.AvailableLiquidity = fixedpoint.FromTokens(12_345)
	reserve.TotalBorrowed = fixedpoint.FromTokens(678)
	reserve.Fees.Protocol = fixedpoint.FromBps(55)

	require.NoError(t, st.PutReserve(reserve))

	loaded, err := st.GetReserve(reserve.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, reserve.ID, loaded.ID)
	require.Zero(t, reserve.AvailableLiquidity.Cmp(loaded.AvailableLiquidity))
	require.Zero(t, reserve.TotalBorrowed.Cmp(loaded.TotalBorrowed))
	require.Zero(t, reserve.BorrowIndex.Cmp(loaded.BorrowIndex))
	require.Zero(t, reserve.Fees.Protocol.Cmp(loaded.Fees.Protocol))
	require.Equal(t, reserve.LastUpdateTimestamp, loaded.LastUpdateTimestamp)
	require.Equal(t, reserve.Params, loaded.Params)
}

func TestGetReserveAbsentReturnsNil(t *testing.T) {
	st := openTestStore(t)
	loaded, err := st.GetReserve(uuid.New())
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestPositionRoundTrip(t *testing.T) {
	st := openTestStore(t)

	pos := lending.NewPosition(common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	collateralID := uuid.New()
	debtID := uuid.New()
	pos.Collateral[collateralID] = fixedpoint.FromTokens(500)
	pos.Debt[debtID] = fixedpoint.FromBps(123_456)

	require.NoError(t, st.PutPosition(pos))

	loaded, err := st.GetPosition(pos.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, pos.ID, loaded.ID)
	require.Equal(t, pos.Owner, loaded.Owner)
	require.Len(t, loaded.Collateral, 1)
	require.Zero(t, pos.Collateral[collateralID].Cmp(loaded.Collateral[collateralID]))
	require.Zero(t, pos.Debt[debtID].Cmp(loaded.Debt[debtID]))
}

func TestPutPositionReplacesRecord(t *testing.T) {
	st := openTestStore(t)

	pos := lending.NewPosition(common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	reserveID := uuid.New()
	pos.Collateral[reserveID] = fixedpoint.FromTokens(100)
	require.NoError(t, st.PutPosition(pos))

	delete(pos.Collateral, reserveID)
	pos.Debt[reserveID] = fixedpoint.FromTokens(10)
	require.NoError(t, st.PutPosition(pos))

	loaded, err := st.GetPosition(pos.ID)
	require.NoError(t, err)
	require.Empty(t, loaded.Collateral)
	require.Len(t, loaded.Debt, 1)
}

func TestDeletePosition(t *testing.T) {
	st := openTestStore(t)

	pos := lending.NewPosition(common.HexToAddress("0x00000000000000000000000000000000000000bb"))
	require.NoError(t, st.PutPosition(pos))
	require.NoError(t, st.DeletePosition(pos.ID))

	loaded, err := st.GetPosition(pos.ID)
	require.NoError(t, err)
	require.Nil(t, loaded)

	// Deleting again is a no-op.
	require.NoError(t, st.DeletePosition(pos.ID))
}

func TestEngineRunsAgainstStore(t *testing.T) {
	st := openTestStore(t)

	params := lending.DefaultConfig()
	engine := lending.NewEngine(params.Curve())
	engine.SetState(st)

	reserveID := uuid.New()
	_, err := engine.InitReserve(reserveID, params.Reserve, 0)
	require.NoError(t, err)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	dep, err := engine.Deposit(owner, uuid.Nil, reserveID, 1_000, 0)
	require.NoError(t, err)

	res, err := engine.Withdraw(owner, dep.PositionID, reserveID, dep.Shares, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), res.Amount)
}
