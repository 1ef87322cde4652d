package api

import (
	"net/http"
)

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	u, created, err := s.accounts.GetOrCreate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, "failed to create user")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, u.Profile())
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.accounts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, "failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, u.Profile())
}

func (s *Server) handleRefreshBalance(w http.ResponseWriter, r *http.Request) {
	u, err := s.accounts.RefreshBalance(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, "failed to refresh balance")
		return
	}
	writeJSON(w, http.StatusOK, u.Profile())
}
