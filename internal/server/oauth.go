package server

import (
	"net/http"
)

// handleOAuthInitiate handles POST /api/oauth/{service}/initiate.
func (s *Server) handleOAuthInitiate(w http.ResponseWriter, r *http.Request, service string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	init, err := s.app.Vault.InitiateOAuth(r.Context(), userID, service)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, init)
}

// handleOAuthCallback handles GET and POST /api/oauth/callback. Providers
// redirect the browser here with code and state query parameters; POST with a
// JSON body is accepted for relays that complete the exchange server-side.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if r.Method == http.MethodPost && code == "" && state == "" {
		var req struct {
			Code  string `json:"code"`
			State string `json:"state"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		code = req.Code
		state = req.State
	}

	// Provider-reported authorization errors arrive as a query parameter.
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		desc := r.URL.Query().Get("error_description")
		if desc == "" {
			desc = errCode
		}
		WriteError(w, http.StatusBadGateway, "Authorization failed: "+desc)
		return
	}

	if code == "" || state == "" {
		WriteError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	result, err := s.app.Vault.HandleOAuthCallback(r.Context(), code, state)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
