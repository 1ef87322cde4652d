package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Mode      string         `json:"mode"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Store string `json:"store"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			storeStatus = "disconnected"
		}
	}
	mode := "live"
	if s.paper {
		mode = "paper"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Mode:      mode,
		Services:  healthServices{Store: storeStatus},
	})
}
