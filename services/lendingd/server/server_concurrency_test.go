package server

import (
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lendcore/fixedpoint"
	"lendcore/native/lending"
)

// lockedState is a thread-safe state so the test isolates the server's own
// serialization: any lost update must come from interleaved engine calls,
// not from racing map access.
type lockedState struct {
	mu    sync.Mutex
	inner *testState
}

func newLockedState() *lockedState {
	return &lockedState{inner: newTestState()}
}

func (s *lockedState) GetReserve(id uuid.UUID) (*lending.Reserve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.GetReserve(id)
}

func (s *lockedState) PutReserve(reserve *lending.Reserve) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.PutReserve(reserve)
}

func (s *lockedState) GetPosition(id uuid.UUID) (*lending.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.GetPosition(id)
}

func (s *lockedState) PutPosition(position *lending.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.PutPosition(position)
}

func (s *lockedState) DeletePosition(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DeletePosition(id)
}

func TestConcurrentDepositsDoNotLoseUpdates(t *testing.T) {
	engine := lending.NewEngine(lending.DefaultConfig().Curve())
	state := newLockedState()
	engine.SetState(state)
	srv := New(engine, slog.Default())
	srv.now = func() int64 { return 1_000 }
	handler := srv.Router(nil, nil)

	reserveID := initReserve(t, handler)

	const (
		depositors = 50
		amount     = uint64(100)
	)
	var wg sync.WaitGroup
	codes := make([]int, depositors)
	for i := 0; i < depositors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := "0x00000000000000000000000000000000000000aa"
			rec := postJSON(t, handler, "/v1/positions/deposit", map[string]any{
				"owner":      owner,
				"reserve_id": reserveID.String(),
				"amount":     amount,
			})
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		require.Equal(t, http.StatusOK, code, "deposit %d failed", i)
	}

	state.mu.Lock()
	reserve := state.inner.reserves[reserveID]
	state.mu.Unlock()
	require.NotNil(t, reserve)
	want := fixedpoint.FromTokens(depositors * amount)
	require.Zero(t, reserve.AvailableLiquidity.Cmp(want),
		"available liquidity %s, want %s", reserve.AvailableLiquidity, want)
}
