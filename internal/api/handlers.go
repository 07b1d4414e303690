// Package api exposes the training alert HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"example.com/trainingalerts/internal/auth"
	"example.com/trainingalerts/internal/domain"
	"example.com/trainingalerts/internal/observability"
	"example.com/trainingalerts/internal/persistence"
)

// AlertService is the subset of the alerting service the handlers call.
type AlertService interface {
	RunAllChecks(ctx context.Context, tenantID, clientID string) ([]domain.Alert, error)
	List(ctx context.Context, tenantID string, filter domain.ListFilter) ([]domain.Alert, *domain.ListCursor, error)
	DismissOne(ctx context.Context, tenantID, alertID string) (bool, error)
	DismissAllForClient(ctx context.Context, tenantID, clientID string) (int64, error)
}

// Handler coordinates HTTP requests with the alerting service.
type Handler struct {
	service AlertService
	logger  logrus.FieldLogger
}

// NewHandler builds a Handler. A nil logger falls back to the standard logger.
func NewHandler(service AlertService, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{service: service, logger: observability.Component(logger, "api")}
}

// NewRouter builds the chi router with authentication, request ids and panic recovery.
func NewRouter(h *Handler, authn auth.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(authn.Wrap)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/alerts", func(r chi.Router) {
		r.Get("/", h.listAlerts)
		r.Put("/{alertID}/dismiss", h.dismissAlert)
		r.Post("/clients/{clientID}/check", h.checkClient)
		r.Put("/clients/{clientID}/dismiss-all", h.dismissAll)
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAlertsRead)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := domain.ListFilter{ClientID: strings.TrimSpace(query.Get("client_id"))}

	severity, err := domain.ParseSeverity(query.Get("severity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	filter.Severity = severity

	if raw := query.Get("dismissed"); raw != "" {
		dismissed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "dismissed must be a boolean")
			return
		}
		filter.Dismissed = dismissed
	}

	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}
	filter.Cursor = cursor

	alerts, next, err := h.service.List(r.Context(), claims.TenantID, filter)
	if errors.Is(err, domain.ErrInvalidCursor) {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	resp := ListAlertsResponse{
		Items:      make([]AlertView, 0, len(alerts)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, a := range alerts {
		resp.Items = append(resp.Items, toAlertView(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) checkClient(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAlertsWrite)
	if !ok {
		return
	}
	clientID := chi.URLParam(r, "clientID")

	alerts, err := h.service.RunAllChecks(r.Context(), claims.TenantID, clientID)
	resp := CheckResponse{
		Alerts: make([]AlertView, 0, len(alerts)),
		Count:  len(alerts),
		Errors: errorMessages(err),
	}
	for _, a := range alerts {
		resp.Alerts = append(resp.Alerts, toAlertView(a))
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": claims.TenantID,
			"client_id": clientID,
		}).Warn("some alert checks failed")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) dismissAlert(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAlertsWrite)
	if !ok {
		return
	}

	found, err := h.service.DismissOne(r.Context(), claims.TenantID, chi.URLParam(r, "alertID"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", domain.ErrAlertNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dismissAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAlertsWrite)
	if !ok {
		return
	}

	n, err := h.service.DismissAllForClient(r.Context(), claims.TenantID, chi.URLParam(r, "clientID"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DismissAllResponse{Dismissed: n})
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		h.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// requireScope writes 401/403 and reports false unless the caller holds scope.
// alerts:write implies alerts:read.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if claims.HasScope(scope) || (scope == auth.ScopeAlertsRead && claims.HasScope(auth.ScopeAlertsWrite)) {
		return claims, true
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
	return nil, false
}

func errorMessages(err error) []string {
	if err == nil {
		return []string{}
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		out := make([]string, 0)
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

// AlertView is the JSON representation of an alert.
type AlertView struct {
	AlertID    string         `json:"alert_id"`
	ClientID   string         `json:"client_id"`
	ClientName string         `json:"client_name,omitempty"`
	AlertType  string         `json:"alert_type"`
	Severity   string         `json:"severity"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       domain.Payload `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	IsResolved bool           `json:"is_resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// ListAlertsResponse packages list results.
type ListAlertsResponse struct {
	Items      []AlertView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// CheckResponse lists the alerts raised by an on-demand check and any rule failures.
type CheckResponse struct {
	Alerts []AlertView `json:"alerts"`
	Count  int         `json:"count"`
	Errors []string    `json:"errors"`
}

// DismissAllResponse reports how many alerts were resolved.
type DismissAllResponse struct {
	Dismissed int64 `json:"dismissed"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toAlertView(a domain.Alert) AlertView {
	return AlertView{
		AlertID:    a.ID,
		ClientID:   a.ClientID,
		ClientName: a.ClientName,
		AlertType:  string(a.Type),
		Severity:   string(a.Severity),
		Title:      a.Title,
		Message:    a.Message,
		Data:       a.Data,
		CreatedAt:  a.CreatedAt,
		IsResolved: a.IsResolved,
		ResolvedAt: a.ResolvedAt,
	}
}
