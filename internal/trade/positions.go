package trade

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/model"
)

// OpenPositionRequest is the JSON body for POST /positions. Leverage is
// scaled like every other amount: 20000000 is 2x.
type OpenPositionRequest struct {
	User       string          `json:"user" validate:"required"`
	Collateral decimal.Decimal `json:"collateral" validate:"positive_units"`
	Leverage   decimal.Decimal `json:"leverage" validate:"positive_units"`
	Asset      string          `json:"asset" validate:"required,asset"`
}

// OpenLimitPositionRequest is the JSON body for POST /positions/limit.
type OpenLimitPositionRequest struct {
	OpenPositionRequest
	LimitPrice decimal.Decimal `json:"limit_price" validate:"positive_units"`
}

// OpenPositionResponse reports the fee charged on top of the collateral.
type OpenPositionResponse struct {
	Fee decimal.Decimal `json:"fee"`
}

// TriggerRequest is the JSON body for the stop-loss and take-profit
// endpoints. A zero price clears the trigger.
type TriggerRequest struct {
	User  string          `json:"user" validate:"required"`
	Price decimal.Decimal `json:"price" validate:"units"`
}

// CloseRequest is the JSON body for POST /positions/close.
type CloseRequest struct {
	User string `json:"user" validate:"required"`
}

// FillRequest is the optional JSON body for POST /positions/{user}/fill.
type FillRequest struct {
	FeeTaker string `json:"fee_taker"`
}

// LiquidateRequest is the optional JSON body for POST /positions/{user}/liquidate.
type LiquidateRequest struct {
	Liquidator string `json:"liquidator"`
}

// OpenPosition handles POST /api/v1/positions
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if !s.decode(w, r, &req) {
		return
	}

	fee, err := s.positions.OpenPosition(r.Context(), req.User, req.Collateral, req.Leverage, req.Asset)
	if err != nil {
		writeEngineError(w, r, "open_position", err)
		return
	}

	s.broadcast(WSMessage{Type: "position_opened", User: req.User, Asset: req.Asset, Amount: req.Collateral.String(), Fee: fee.String()})
	writeJSON(w, http.StatusCreated, OpenPositionResponse{Fee: fee})
}

// OpenLimitPosition handles POST /api/v1/positions/limit
func (s *Service) OpenLimitPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenLimitPositionRequest
	if !s.decode(w, r, &req) {
		return
	}

	fee, err := s.positions.OpenLimitPosition(r.Context(), req.User, req.Collateral, req.Leverage, req.Asset, req.LimitPrice)
	if err != nil {
		writeEngineError(w, r, "open_limit_position", err)
		return
	}

	s.broadcast(WSMessage{Type: "limit_placed", User: req.User, Asset: req.Asset, Price: req.LimitPrice.String(), Fee: fee.String()})
	writeJSON(w, http.StatusCreated, OpenPositionResponse{Fee: fee})
}

// AddStopLoss handles POST /api/v1/positions/stop-loss
func (s *Service) AddStopLoss(w http.ResponseWriter, r *http.Request) {
	s.setTrigger(w, r, "stop_loss", s.positions.AddStopLoss)
}

// AddTakeProfit handles POST /api/v1/positions/take-profit
func (s *Service) AddTakeProfit(w http.ResponseWriter, r *http.Request) {
	s.setTrigger(w, r, "take_profit", s.positions.AddTakeProfit)
}

func (s *Service) setTrigger(w http.ResponseWriter, r *http.Request, kind string,
	set func(ctx context.Context, user string, price decimal.Decimal) error) {
	var req TriggerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := set(r.Context(), req.User, req.Price); err != nil {
		writeEngineError(w, r, kind, err)
		return
	}
	p, err := s.positions.GetPosition(r.Context(), req.User)
	if err != nil {
		writeEngineError(w, r, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClosePosition handles POST /api/v1/positions/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !s.decode(w, r, &req) {
		return
	}

	st, err := s.positions.ClosePosition(r.Context(), req.User)
	if err != nil {
		writeEngineError(w, r, "close_position", err)
		return
	}

	s.broadcastSettlement("position_closed", st)
	writeJSON(w, http.StatusOK, st)
}

// FillPosition handles POST /api/v1/positions/{user}/fill
// Anyone may call it; the body only names who to credit for the call.
func (s *Service) FillPosition(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	user := chi.URLParam(r, "user")

	res, err := s.positions.FillPosition(r.Context(), user, req.FeeTaker)
	if err != nil {
		writeEngineError(w, r, "fill_position", err)
		return
	}

	switch {
	case res.Settlement != nil:
		s.broadcastSettlement("position_closed", *res.Settlement)
	case res.Position != nil:
		s.broadcast(WSMessage{Type: "position_filled", User: user, Asset: res.Position.Asset, Price: res.Position.EntryPrice.String()})
	}
	writeJSON(w, http.StatusOK, res)
}

// Liquidate handles POST /api/v1/positions/{user}/liquidate
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	st, err := s.positions.Liquidate(r.Context(), chi.URLParam(r, "user"), req.Liquidator)
	if err != nil {
		writeEngineError(w, r, "liquidate", err)
		return
	}

	s.broadcastSettlement("position_liquidated", st)
	writeJSON(w, http.StatusOK, st)
}

// GetPosition handles GET /api/v1/positions/{user}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.positions.GetPosition(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeEngineError(w, r, "get_position", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetStatus handles GET /api/v1/positions/{user}/status
// Returns what closing the position would pay at the current price.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.positions.Status(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeEngineError(w, r, "get_status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) broadcastSettlement(kind string, st model.Settlement) {
	s.broadcast(WSMessage{
		Type:   kind,
		User:   st.User,
		Asset:  st.Asset,
		Price:  st.Price.String(),
		Amount: st.ToUser.String(),
		Fee:    st.Fee.String(),
		Reason: st.Reason,
	})
}
