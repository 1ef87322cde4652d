package api

import (
	"net/http"
	"strings"

	"github.com/kjannette/trahn-swapbot/internal/swap"
)

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := s.trader.TokenInfo(r.Context(), r.PathValue("address"))
	if err != nil {
		s.fail(w, r, err, "failed to fetch token")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleQuote previews a swap: ?token=0x..&direction=buy|sell&amount=1.5
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dir := swap.Direction(strings.ToUpper(q.Get("direction")))
	if !dir.Valid() {
		writeError(w, http.StatusBadRequest, "direction must be buy or sell")
		return
	}
	amount := q.Get("amount")
	if amount == "" {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	preview, err := s.trader.Quote(r.Context(), q.Get("token"), dir, amount)
	if err != nil {
		s.fail(w, r, err, "failed to quote")
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
