package api

import (
	"errors"
	"net/http"

	"github.com/kjannette/trahn-swapbot/internal/trading"
	"github.com/kjannette/trahn-swapbot/internal/units"
)

type buyRequest struct {
	Token string `json:"token"`
	// Amount is in whole units of the native currency, e.g. "0.25".
	Amount string `json:"amount"`
}

type sellRequest struct {
	Token   string  `json:"token"`
	Percent float64 `json:"percent"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := units.FromString(req.Amount, units.NativeDecimals)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	out, err := s.trader.Buy(r.Context(), r.PathValue("id"), req.Token, amount)
	if err != nil {
		s.failTrade(w, r, out, err)
		return
	}
	writeJSON(w, statusForResult(out.Result), out)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.trader.Sell(r.Context(), r.PathValue("id"), req.Token, req.Percent)
	if err != nil {
		s.failTrade(w, r, out, err)
		return
	}
	writeJSON(w, statusForResult(out.Result), out)
}

// failTrade reports a trade error. A swap that confirmed but was not booked
// still returns its result so the caller can see the signature.
func (s *Server) failTrade(w http.ResponseWriter, r *http.Request, out *trading.Outcome, err error) {
	if errors.Is(err, trading.ErrNotRecorded) && out != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "outcome": out})
		return
	}
	s.fail(w, r, err, "trade failed")
}
