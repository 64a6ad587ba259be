package server

import (
	"net/http"
)

// storeKeyRequest is the body for POST /api/credentials/{service}/key.
type storeKeyRequest struct {
	APIKey   string            `json:"api_key"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleStoreAPIKey handles POST /api/credentials/{service}/key.
func (s *Server) handleStoreAPIKey(w http.ResponseWriter, r *http.Request, service string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req storeKeyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := s.app.Vault.StoreAPIKey(r.Context(), userID, service, req.APIKey, req.Metadata); err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"service_id": service,
		"status":     "stored",
	})
}

// handleCredential handles GET and DELETE /api/credentials/{service}.
func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request, service string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.app.Vault.Revoke(r.Context(), userID, service); err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"service_id": service,
			"status":     "revoked",
		})
		return
	}

	// ?refresh=false returns a near-expiry token as stored instead of
	// refreshing it inline.
	autoRefresh := r.URL.Query().Get("refresh") != "false"

	dec, err := s.app.Vault.GetCredentials(r.Context(), userID, service, autoRefresh)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dec)
}

// handleServiceList handles GET /api/services.
func (s *Server) handleServiceList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	summaries, err := s.app.Vault.ListServices(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"services": summaries,
	})
}
