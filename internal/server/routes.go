package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/avisanghavi/keyvault/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Credentials
	mux.HandleFunc("/api/credentials/", s.routeCredentials)
	mux.HandleFunc("/api/services", s.handleServiceList)

	// OAuth
	mux.HandleFunc("/api/oauth/callback", s.handleOAuthCallback)
	mux.HandleFunc("/api/oauth/", s.routeOAuth)

	// Reporting
	mux.HandleFunc("/api/usage", s.handleUsage)
	mux.HandleFunc("/api/audit", s.handleAudit)
}

// routeCredentials dispatches /api/credentials/{service}[/key] to the appropriate handler.
func (s *Server) routeCredentials(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/credentials/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "service is required in path")
		return
	}

	parts := strings.SplitN(path, "/", 2)
	service := parts[0]
	subpath := ""
	if len(parts) > 1 {
		subpath = parts[1]
	}

	switch subpath {
	case "":
		s.handleCredential(w, r, service)
	case "key":
		s.handleStoreAPIKey(w, r, service)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// routeOAuth dispatches /api/oauth/{service}/initiate.
func (s *Server) routeOAuth(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/oauth/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 2 && parts[1] == "initiate" {
		s.handleOAuthInitiate(w, r, parts[0])
		return
	}
	WriteError(w, http.StatusNotFound, "Not found")
}

// requireUser resolves the caller identity set by the middleware. Writes a 400
// response and returns "" when the X-Vault-User-ID header was absent.
func requireUser(w http.ResponseWriter, r *http.Request) string {
	if uc := common.UserContextFrom(r.Context()); uc != nil && uc.UserID != "" {
		return uc.UserID
	}
	WriteError(w, http.StatusBadRequest, "X-Vault-User-ID header is required")
	return ""
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	status := "ok"
	storageStatus := "ok"
	code := http.StatusOK
	if err := s.app.Storage.Ping(r.Context()); err != nil {
		status = "degraded"
		storageStatus = err.Error()
		code = http.StatusServiceUnavailable
	}

	WriteJSON(w, code, map[string]interface{}{
		"status":        status,
		"storage":       storageStatus,
		"backend":       s.app.Config.Storage.Backend,
		"refresh_queue": s.app.Refresher.QueueLen(),
		"uptime":        time.Since(s.app.StartupTime).Round(time.Second).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
