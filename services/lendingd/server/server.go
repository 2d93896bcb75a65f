package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendcore/fixedpoint"
	"lendcore/native/lending"
	"lendcore/observability"
)

// Server exposes the lending engine over HTTP. Handlers translate JSON
// payloads into engine calls; all accounting decisions stay in the engine.
// The engine itself holds no locks and expects its caller to serialize
// operations, so every mutating engine call runs under mu and reads take the
// shared side.
type Server struct {
	engine *lending.Engine
	logger *slog.Logger
	now    func() int64

	mu sync.RWMutex
}

func New(engine *lending.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: engine,
		logger: logger,
		now:    func() int64 { return time.Now().Unix() },
	}
}

// Router assembles the API routes. The health and metrics endpoints stay
// outside the auth and rate-limit middleware.
func (s *Server) Router(auth *Authenticator, limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware())
		}
		if auth != nil {
			r.Use(auth.Middleware())
		}
		r.Post("/v1/reserves", s.instrument("init_reserve", s.handleInitReserve))
		r.Get("/v1/reserves/{id}", s.instrument("get_reserve", s.handleGetReserve))
		r.Post("/v1/reserves/{id}/claim-fees", s.instrument("claim_fees", s.handleClaimFees))
		r.Post("/v1/positions/deposit", s.instrument("deposit", s.handleDeposit))
		r.Get("/v1/positions/{id}", s.instrument("get_position", s.handleGetPosition))
		r.Get("/v1/positions/{id}/health", s.instrument("position_health", s.handlePositionHealth))
		r.Post("/v1/positions/{id}/withdraw", s.instrument("withdraw", s.handleWithdraw))
		r.Post("/v1/positions/{id}/borrow", s.instrument("borrow", s.handleBorrow))
		r.Post("/v1/positions/{id}/repay", s.instrument("repay", s.handleRepay))
		r.Post("/v1/positions/{id}/liquidate", s.instrument("liquidate", s.handleLiquidate))
		r.Post("/v1/positions/{id}/close", s.instrument("close_position", s.handleClosePosition))
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		observability.LendingMetrics().Observe(operation, recorder.status, time.Since(start))
	}
}

type reserveParamsPayload struct {
	MaxLTVBps               uint64 `json:"max_ltv_bps"`
	LiquidationThresholdBps uint64 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `json:"liquidation_bonus_bps"`
	ReserveFeeBps           uint64 `json:"reserve_fee_bps"`
	MaxUtilizationBps       uint64 `json:"max_utilization_bps"`
	CloseFactorBps          uint64 `json:"close_factor_bps"`
	MaxPriceAgeSec          uint64 `json:"max_price_age_sec"`
	MaxConfidenceBps        uint64 `json:"max_confidence_bps"`
}

func (p reserveParamsPayload) toParams() lending.ReserveParams {
	return lending.ReserveParams{
		MaxLTVBps:               p.MaxLTVBps,
		LiquidationThresholdBps: p.LiquidationThresholdBps,
		LiquidationBonusBps:     p.LiquidationBonusBps,
		ReserveFeeBps:           p.ReserveFeeBps,
		MaxUtilizationBps:       p.MaxUtilizationBps,
		CloseFactorBps:          p.CloseFactorBps,
		MaxPriceAgeSec:          p.MaxPriceAgeSec,
		MaxConfidenceBps:        p.MaxConfidenceBps,
	}
}

func paramsPayload(p lending.ReserveParams) reserveParamsPayload {
	return reserveParamsPayload{
		MaxLTVBps:               p.MaxLTVBps,
		LiquidationThresholdBps: p.LiquidationThresholdBps,
		LiquidationBonusBps:     p.LiquidationBonusBps,
		ReserveFeeBps:           p.ReserveFeeBps,
		MaxUtilizationBps:       p.MaxUtilizationBps,
		CloseFactorBps:          p.CloseFactorBps,
		MaxPriceAgeSec:          p.MaxPriceAgeSec,
		MaxConfidenceBps:        p.MaxConfidenceBps,
	}
}

type transferIntentPayload struct {
	ReserveID    string `json:"reserve_id"`
	Direction    string `json:"direction"`
	Amount       uint64 `json:"amount"`
	Counterparty string `json:"counterparty"`
}

func intentPayload(intent lending.TransferIntent) transferIntentPayload {
	observability.LendingMetrics().RecordTransfer(string(intent.Direction))
	return transferIntentPayload{
		ReserveID:    intent.ReserveID.String(),
		Direction:    string(intent.Direction),
		Amount:       intent.Amount,
		Counterparty: intent.Counterparty.Hex(),
	}
}

type reserveView struct {
	ID                  string               `json:"id"`
	AvailableLiquidity  string               `json:"available_liquidity"`
	TotalBorrowed       string               `json:"total_borrowed"`
	BorrowIndex         string               `json:"borrow_index"`
	SupplyIndex         string               `json:"supply_index"`
	Utilization         string               `json:"utilization"`
	LastUpdateTimestamp int64                `json:"last_update_timestamp"`
	ProtocolFees        string               `json:"protocol_fees"`
	Params              reserveParamsPayload `json:"params"`
}

func newReserveView(reserve *lending.Reserve) (reserveView, error) {
	utilization, err := reserve.Utilization()
	if err != nil {
		return reserveView{}, err
	}
	return reserveView{
		ID:                  reserve.ID.String(),
		AvailableLiquidity:  reserve.AvailableLiquidity.RawString(),
		TotalBorrowed:       reserve.TotalBorrowed.RawString(),
		BorrowIndex:         reserve.BorrowIndex.RawString(),
		SupplyIndex:         reserve.SupplyIndex.RawString(),
		Utilization:         utilization.String(),
		LastUpdateTimestamp: reserve.LastUpdateTimestamp,
		ProtocolFees:        reserve.Fees.Protocol.RawString(),
		Params:              paramsPayload(reserve.Params),
	}, nil
}

type positionView struct {
	ID         string            `json:"id"`
	Owner      string            `json:"owner"`
	Collateral map[string]string `json:"collateral"`
	Debt       map[string]string `json:"debt"`
}

func newPositionView(pos *lending.Position) positionView {
	view := positionView{
		ID:         pos.ID.String(),
		Owner:      pos.Owner.Hex(),
		Collateral: make(map[string]string, len(pos.Collateral)),
		Debt:       make(map[string]string, len(pos.Debt)),
	}
	for reserveID, shares := range pos.Collateral {
		view.Collateral[reserveID.String()] = shares.RawString()
	}
	for reserveID, shares := range pos.Debt {
		view.Debt[reserveID.String()] = shares.RawString()
	}
	return view
}

func (s *Server) handleInitReserve(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID     string               `json:"id"`
		Params reserveParamsPayload `json:"params"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	reserveID := uuid.New()
	if payload.ID != "" {
		parsed, err := uuid.Parse(payload.ID)
		if err != nil {
			s.writeBadRequest(w, "invalid reserve id")
			return
		}
		reserveID = parsed
	}
	s.mu.Lock()
	reserve, err := s.engine.InitReserve(reserveID, payload.Params.toParams(), s.now())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "init_reserve", err)
		return
	}
	view, err := newReserveView(reserve)
	if err != nil {
		s.writeError(w, "init_reserve", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	reserveID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	reserve, err := s.engine.GetReserve(reserveID, s.now())
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, "get_reserve", err)
		return
	}
	view, err := newReserveView(reserve)
	if err != nil {
		s.writeError(w, "get_reserve", err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleClaimFees(w http.ResponseWriter, r *http.Request) {
	reserveID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Recipient string `json:"recipient"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	recipient, ok := s.parseAddress(w, payload.Recipient)
	if !ok {
		return
	}
	s.mu.Lock()
	res, err := s.engine.ClaimProtocolFees(reserveID, recipient, s.now())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "claim_fees", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"amount": res.Amount,
		"intent": intentPayload(res.Intent),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner      string `json:"owner"`
		PositionID string `json:"position_id"`
		ReserveID  string `json:"reserve_id"`
		Amount     uint64 `json:"amount"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	owner, ok := s.parseAddress(w, payload.Owner)
	if !ok {
		return
	}
	positionID := uuid.Nil
	if payload.PositionID != "" {
		parsed, err := uuid.Parse(payload.PositionID)
		if err != nil {
			s.writeBadRequest(w, "invalid position id")
			return
		}
		positionID = parsed
	}
	reserveID, err := uuid.Parse(payload.ReserveID)
	if err != nil {
		s.writeBadRequest(w, "invalid reserve id")
		return
	}
	s.mu.Lock()
	res, err := s.engine.Deposit(owner, positionID, reserveID, payload.Amount, s.now())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"position_id": res.PositionID.String(),
		"shares":      res.Shares.RawString(),
		"intent":      intentPayload(res.Intent),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	positionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Owner     string `json:"owner"`
		ReserveID string `json:"reserve_id"`
		Shares    string `json:"shares"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	owner, ok := s.parseAddress(w, payload.Owner)
	if !ok {
		return
	}
	reserveID, err := uuid.Parse(payload.ReserveID)
	if err != nil {
		s.writeBadRequest(w, "invalid reserve id")
		return
	}
	shares, err := fixedpoint.ParseRaw(payload.Shares)
	if err != nil {
		s.writeBadRequest(w, "invalid shares")
		return
	}
	s.mu.Lock()
	res, err := s.engine.Withdraw(owner, positionID, reserveID, shares, s.now())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"amount": res.Amount,
		"intent": intentPayload(res.Intent),
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	positionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Owner     string `json:"owner"`
		ReserveID string `json:"reserve_id"`
		Amount    uint64 `json:"amount"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	owner, ok := s.parseAddress(w, payload.Owner)
	if !ok {
		return
	}
	reserveID, err := uuid.Parse(payload.ReserveID)
	if err != nil {
		s.writeBadRequest(w, "invalid reserve id")
		return
	}
	s.mu.Lock()
	res, err := s.engine.Borrow(owner, positionID, reserveID, payload.Amount, s.now())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "borrow", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"debt_shares": res.DebtShares.RawString(),
		"intent":      intentPayload(res.Intent),
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	positionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Payer     string `json:"payer"`
		ReserveID string `json:"reserve_id"`
		Amount    uint64 `json:"amount"`
		Max       bool   `json:"max"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	payer, ok := s.parseAddress(w, payload.Payer)
	if !ok {
		return
	}
	reserveID, err := uuid.Parse(payload.ReserveID)
	if err != nil {
		s.writeBadRequest(w, "invalid reserve id")
		return
	}
	amount := payload.Amount
	if payload.Max {
		amount = lending.RepayMax
	}
	s.mu.Lock()
	res, err := s.engine.Repay(payer, positionID, reserveID, amount, s.now())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "repay", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"repaid": res.Repaid,
		"intent": intentPayload(res.Intent),
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	positionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Liquidator          string `json:"liquidator"`
		DebtReserveID       string `json:"debt_reserve_id"`
		CollateralReserveID string `json:"collateral_reserve_id"`
		RepayAmount         uint64 `json:"repay_amount"`
		Max                 bool   `json:"max"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	liquidator, ok := s.parseAddress(w, payload.Liquidator)
	if !ok {
		return
	}
	debtReserveID, err := uuid.Parse(payload.DebtReserveID)
	if err != nil {
		s.writeBadRequest(w, "invalid debt reserve id")
		return
	}
	collateralReserveID, err := uuid.Parse(payload.CollateralReserveID)
	if err != nil {
		s.writeBadRequest(w, "invalid collateral reserve id")
		return
	}
	amount := payload.RepayAmount
	if payload.Max {
		amount = lending.LiquidateMax
	}
	s.mu.Lock()
	res, err := s.engine.Liquidate(liquidator, positionID, debtReserveID, collateralReserveID, amount, s.now())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "liquidate", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"repaid":       res.Repaid,
		"seized":       res.Seized,
		"partial_fill": res.PartialFill,
		"repay_intent": intentPayload(res.RepayIntent),
		"seize_intent": intentPayload(res.SeizeIntent),
	})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Owner string `json:"owner"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	owner, ok := s.parseAddress(w, payload.Owner)
	if !ok {
		return
	}
	s.mu.Lock()
	err := s.engine.ClosePosition(owner, positionID)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, "close_position", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"closed": true})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	positionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	pos, err := s.engine.GetPosition(positionID)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, "get_position", err)
		return
	}
	s.writeJSON(w, http.StatusOK, newPositionView(pos))
}

func (s *Server) handlePositionHealth(w http.ResponseWriter, r *http.Request) {
	positionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	report, err := s.engine.PositionHealth(positionID, s.now())
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, "position_health", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ratio":        report.Ratio.String(),
		"has_debt":     report.HasDebt,
		"liquidatable": report.Liquidatable,
	})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeBadRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		s.writeBadRequest(w, "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func (s *Server) writeError(w http.ResponseWriter, operation string, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("operation failed", "operation", operation, "err", err)
	} else {
		s.logger.Warn("operation rejected", "operation", operation, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": messageFromError(err, status)})
}
