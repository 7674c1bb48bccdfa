// Package api provides the HTTP surface: role permission mutations,
// the permission change poll, and indicator refresh triggers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockanalysis/internal/metrics"
	"stockanalysis/internal/model"
	"stockanalysis/internal/rbac"
	"stockanalysis/internal/updater"
)

// Server handles the HTTP API.
type Server struct {
	rbac    *rbac.Service
	updater *updater.Updater
	log     *slog.Logger
	m       *metrics.Metrics // may be nil
	srv     *http.Server
}

// New creates the API server bound to addr.
func New(addr string, svc *rbac.Service, u *updater.Updater, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{rbac: svc, updater: u, log: logger, m: m}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/roles/permissions", s.handlePermissionUpdate)
	mux.HandleFunc("/api/roles/permissions/batch", s.handlePermissionBatch)
	mux.HandleFunc("/api/roles/assign", s.handleAssignRole)
	mux.HandleFunc("/api/roles/unassign", s.handleUnassignRole)
	mux.HandleFunc("/api/roles/", s.handleRoleDetail)
	mux.HandleFunc("/api/permissions", s.handleListPermissions)
	mux.HandleFunc("/api/permissions/changes", s.handlePollChanges)
	mux.HandleFunc("/api/stocks/indicators/refresh-all", s.handleRefreshAll)
	mux.HandleFunc("/api/stocks/", s.handleStockRoutes)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("api server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("api server error", slog.String("err", err.Error()))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ── role permission mutations ──

type permissionUpdateRequest struct {
	RoleID    int64    `json:"role_id"`
	Action    string   `json:"action"`
	Codenames []string `json:"codenames"`
	ActorID   int64    `json:"actor_id"`
	ActorName string   `json:"actor_name"`
}

func (r permissionUpdateRequest) toMutation() (rbac.MutationRequest, error) {
	action, err := model.ParseAction(r.Action)
	if err != nil {
		return rbac.MutationRequest{}, err
	}
	return rbac.MutationRequest{
		RoleID:    r.RoleID,
		Action:    action,
		Codenames: r.Codenames,
		Actor:     model.UserRef{ID: r.ActorID, Username: r.ActorName},
	}, nil
}

func (s *Server) handlePermissionUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req permissionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	mut, err := req.toMutation()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.rbac.Mutate(r.Context(), mut)
	if err != nil {
		if s.m != nil {
			s.m.MutationErrors.Inc()
		}
		writeError(w, statusForError(err), result.Error)
		return
	}
	if s.m != nil {
		s.m.MutationsTotal.WithLabelValues(mut.Action.String()).Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

type permissionBatchRequest struct {
	Updates []permissionUpdateRequest `json:"updates"`
}

func (s *Server) handlePermissionBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req permissionBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	muts := make([]rbac.MutationRequest, 0, len(req.Updates))
	for i, u := range req.Updates {
		mut, err := u.toMutation()
		if err != nil {
			writeError(w, http.StatusBadRequest, "update "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		muts = append(muts, mut)
	}

	results, err := s.rbac.MutateBatch(r.Context(), muts)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if s.m != nil {
		for i, res := range results {
			if res.Success {
				s.m.MutationsTotal.WithLabelValues(muts[i].Action.String()).Inc()
			} else {
				s.m.MutationErrors.Inc()
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ── role assignment ──

type roleAssignRequest struct {
	UserID     int64 `json:"user_id"`
	RoleID     int64 `json:"role_id"`
	AssignedBy int64 `json:"assigned_by"`
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req roleAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	created, err := s.rbac.AssignRole(r.Context(), req.UserID, req.RoleID, model.UserRef{ID: req.AssignedBy})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created})
}

func (s *Server) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req roleAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.rbac.RemoveRole(r.Context(), req.UserID, req.RoleID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

// handleRoleDetail serves GET /api/roles/{id}/permissions: the role
// with its permissions grouped by category.
func (s *Server) handleRoleDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/roles/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	roleID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	role, grouped, err := s.rbac.RoleDetail(r.Context(), roleID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":        role,
		"permissions": grouped,
	})
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	grouped, err := s.rbac.PermissionsByCategory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": grouped})
}

// ── polling ──

func (s *Server) handlePollChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	result, err := s.rbac.CheckChanges(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.m != nil {
		s.m.PollsTotal.Inc()
		if result.HasChanges {
			s.m.PollsWithChanges.Inc()
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// ── indicator refresh ──

// handleStockRoutes serves POST /api/stocks/{symbol}/indicators/refresh.
func (s *Server) handleStockRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/stocks/")
	parts := strings.Split(rest, "/")
	if len(parts) == 3 && parts[1] == "indicators" && parts[2] == "refresh" {
		s.handleRefreshStock(w, r, parts[0])
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleRefreshStock(w http.ResponseWriter, r *http.Request, symbol string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	result, err := s.updater.RefreshStock(r.Context(), symbol)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	results, err := s.updater.RefreshAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ── helpers ──

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrRoleNotFound),
		errors.Is(err, model.ErrStockNotFound),
		errors.Is(err, model.ErrUserRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, rbac.ErrEmptyBatch),
		errors.Is(err, rbac.ErrInvalidCodename),
		errors.Is(err, model.ErrUnknownAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
