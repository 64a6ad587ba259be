package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/avisanghavi/keyvault/internal/models"
)

// handleUsage handles GET /api/usage. Results are scoped to the calling user;
// service, action, from and to (YYYY-MM-DD) narrow the query.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	q := r.URL.Query()
	filter := models.UsageFilter{
		UserID:    userID,
		ServiceID: q.Get("service"),
		Action:    q.Get("action"),
		FromDate:  q.Get("from"),
		ToDate:    q.Get("to"),
	}

	counters, err := s.app.Vault.GetUsage(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	var total int64
	for _, c := range counters {
		total += c.Count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"total":   total,
		"buckets": counters,
	})
}

// handleAudit handles GET /api/audit. Results are scoped to the calling user;
// service, action, since, until (RFC 3339) and limit narrow the query.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	q := r.URL.Query()
	filter := models.AuditFilter{
		UserID:    userID,
		ServiceID: q.Get("service"),
		Action:    q.Get("action"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid since: "+err.Error())
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid until: "+err.Error())
			return
		}
		filter.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	events, err := s.app.Vault.GetAuditTrail(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"count":   len(events),
		"events":  events,
	})
}
