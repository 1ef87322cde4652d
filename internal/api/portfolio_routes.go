package api

import (
	"net/http"
	"strconv"

	"github.com/kjannette/trahn-swapbot/internal/session"
)

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "refresh must be true or false")
			return
		}
		refresh = b
	}

	view, err := s.trader.Positions(r.Context(), r.PathValue("id"), refresh)
	if err != nil {
		s.fail(w, r, err, "failed to fetch positions")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleClearPositions(w http.ResponseWriter, r *http.Request) {
	if err := s.trader.Clear(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err, "failed to clear positions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.trader.Trades(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, "failed to fetch trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleRealized(w http.ResponseWriter, r *http.Request) {
	realized, err := s.trader.Realized(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, "failed to compute realized pnl")
		return
	}
	writeJSON(w, http.StatusOK, realized)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.trader.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, "failed to read session")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	var prefs session.Preferences
	if err := decodeBody(w, r, &prefs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.trader.SetSession(r.Context(), r.PathValue("id"), prefs); err != nil {
		s.fail(w, r, err, "failed to save session")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
