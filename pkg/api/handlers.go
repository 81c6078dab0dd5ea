// Package api exposes the engine over HTTP: rule, alert, incident,
// channel, policy, maintenance and on-call endpoints.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/services"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	rules       *services.RuleService
	alerts      *services.AlertService
	incidents   *services.IncidentService
	channels    *services.ChannelService
	policies    *services.PolicyService
	maintenance *services.MaintenanceService
	oncall      *services.OnCallService
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(
	rules *services.RuleService,
	alerts *services.AlertService,
	incidents *services.IncidentService,
	channels *services.ChannelService,
	policies *services.PolicyService,
	maintenance *services.MaintenanceService,
	oncall *services.OnCallService,
) *APIHandler {
	return &APIHandler{
		rules:       rules,
		alerts:      alerts,
		incidents:   incidents,
		channels:    channels,
		policies:    policies,
		maintenance: maintenance,
		oncall:      oncall,
	}
}

// respondError maps service errors to HTTP statuses
func respondError(c echo.Context, err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("%s not found", what)})
	case errors.Is(err, models.ErrInvalid):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		logrus.Errorf("Error handling %s request: %v", what, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("Failed to handle %s request", what)})
	}
}

// GetRules returns all rules in a project
func (h *APIHandler) GetRules(c echo.Context) error {
	rules, err := h.rules.ListRules(c.Request().Context(), c.QueryParam("project_id"))
	if err != nil {
		return respondError(c, err, "rules")
	}
	return c.JSON(http.StatusOK, rules)
}

// GetRule returns a rule by ID
func (h *APIHandler) GetRule(c echo.Context) error {
	rule, err := h.rules.GetRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "rule")
	}
	return c.JSON(http.StatusOK, rule)
}

// CreateRule creates a new rule
func (h *APIHandler) CreateRule(c echo.Context) error {
	var req models.CreateRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	rule, err := h.rules.CreateRule(c.Request().Context(), &req)
	if err != nil {
		return respondError(c, err, "rule")
	}
	return c.JSON(http.StatusCreated, rule)
}

// UpdateRule updates a rule
func (h *APIHandler) UpdateRule(c echo.Context) error {
	var req models.UpdateRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	rule, err := h.rules.UpdateRule(c.Request().Context(), c.Param("id"), &req)
	if err != nil {
		return respondError(c, err, "rule")
	}
	return c.JSON(http.StatusOK, rule)
}

// DeleteRule deletes a rule
func (h *APIHandler) DeleteRule(c echo.Context) error {
	if err := h.rules.DeleteRule(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err, "rule")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Rule deleted successfully"})
}

// MuteRule suppresses a rule's notifications
func (h *APIHandler) MuteRule(c echo.Context) error {
	var req models.MuteRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	rule, err := h.rules.MuteRule(c.Request().Context(), c.Param("id"), &req)
	if err != nil {
		return respondError(c, err, "rule")
	}
	return c.JSON(http.StatusOK, rule)
}

// UnmuteRule clears a rule's mute
func (h *APIHandler) UnmuteRule(c echo.Context) error {
	rule, err := h.rules.UnmuteRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "rule")
	}
	return c.JSON(http.StatusOK, rule)
}

// GetAlerts returns alerts for a rule, optionally only the open ones
func (h *APIHandler) GetAlerts(c echo.Context) error {
	ruleID := c.QueryParam("rule_id")
	if ruleID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "rule_id is required"})
	}
	var (
		alerts []*models.Alert
		err    error
	)
	if c.QueryParam("open") == "true" {
		alerts, err = h.alerts.ListOpenAlertsByRule(c.Request().Context(), ruleID)
	} else {
		alerts, err = h.alerts.ListAlertsByRule(c.Request().Context(), ruleID)
	}
	if err != nil {
		return respondError(c, err, "alerts")
	}
	return c.JSON(http.StatusOK, alerts)
}

// GetAlertsByTimeRange returns a rule's alerts within a time range
func (h *APIHandler) GetAlertsByTimeRange(c echo.Context) error {
	ruleID := c.QueryParam("rule_id")
	if ruleID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "rule_id is required"})
	}

	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()
	var err error
	if v := c.QueryParam("start_time"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid start_time format"})
		}
	}
	if v := c.QueryParam("end_time"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid end_time format"})
		}
	}

	alerts, err := h.alerts.ListAlertsByTimeRange(c.Request().Context(), ruleID, start, end)
	if err != nil {
		return respondError(c, err, "alerts")
	}
	return c.JSON(http.StatusOK, alerts)
}

// GetAlert returns an alert by ID
func (h *APIHandler) GetAlert(c echo.Context) error {
	alert, err := h.alerts.GetAlert(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "alert")
	}
	return c.JSON(http.StatusOK, alert)
}

// AcknowledgeAlert acknowledges an alert, stopping its escalation
func (h *APIHandler) AcknowledgeAlert(c echo.Context) error {
	var req models.AcknowledgeAlertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if req.AcknowledgedBy == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "acknowledgedBy is required"})
	}
	alert, err := h.alerts.AcknowledgeAlert(c.Request().Context(), c.Param("id"), req.AcknowledgedBy)
	if err != nil {
		return respondError(c, err, "alert")
	}
	return c.JSON(http.StatusOK, alert)
}

// GetAlertHistory returns a rule's evaluation history rows
func (h *APIHandler) GetAlertHistory(c echo.Context) error {
	ruleID := c.QueryParam("rule_id")
	if ruleID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "rule_id is required"})
	}
	since := time.Now().Add(-24 * time.Hour)
	if v := c.QueryParam("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid since format"})
		}
		since = parsed
	}
	history, err := h.alerts.ListHistory(c.Request().Context(), ruleID, c.QueryParam("fingerprint"), since)
	if err != nil {
		return respondError(c, err, "history")
	}
	return c.JSON(http.StatusOK, history)
}

// SetupRoutes sets up the API routes
func (h *APIHandler) SetupRoutes(e *echo.Echo) {
	// Rule endpoints
	e.GET("/api/rules", h.GetRules)
	e.GET("/api/rules/:id", h.GetRule)
	e.POST("/api/rules", h.CreateRule)
	e.PUT("/api/rules/:id", h.UpdateRule)
	e.DELETE("/api/rules/:id", h.DeleteRule)
	e.POST("/api/rules/:id/mute", h.MuteRule)
	e.POST("/api/rules/:id/unmute", h.UnmuteRule)

	// Alert endpoints
	e.GET("/api/alerts", h.GetAlerts)
	e.GET("/api/alerts/by-time", h.GetAlertsByTimeRange)
	e.GET("/api/alerts/history", h.GetAlertHistory)
	e.GET("/api/alerts/:id", h.GetAlert)
	e.POST("/api/alerts/:id/acknowledge", h.AcknowledgeAlert)

	// Incident endpoints
	e.GET("/api/incidents", h.GetIncidents)
	e.GET("/api/incidents/:id", h.GetIncident)
	e.POST("/api/incidents/:id/acknowledge", h.AcknowledgeIncident)
	e.POST("/api/incidents/:id/resolve", h.ResolveIncident)

	// Channel endpoints
	e.GET("/api/channels", h.GetChannels)
	e.GET("/api/channels/:id", h.GetChannel)
	e.POST("/api/channels", h.CreateChannel)
	e.PUT("/api/channels/:id", h.UpdateChannel)
	e.DELETE("/api/channels/:id", h.DeleteChannel)
	e.POST("/api/channels/:id/test", h.TestChannel)

	// Escalation policy endpoints
	e.GET("/api/policies", h.GetPolicies)
	e.GET("/api/policies/:id", h.GetPolicy)
	e.POST("/api/policies", h.CreatePolicy)
	e.PUT("/api/policies/:id", h.UpdatePolicy)
	e.DELETE("/api/policies/:id", h.DeletePolicy)

	// Maintenance window endpoints
	e.GET("/api/maintenance", h.GetMaintenanceWindows)
	e.GET("/api/maintenance/:id", h.GetMaintenanceWindow)
	e.POST("/api/maintenance", h.CreateMaintenanceWindow)
	e.PUT("/api/maintenance/:id", h.UpdateMaintenanceWindow)
	e.DELETE("/api/maintenance/:id", h.DeleteMaintenanceWindow)

	// On-call endpoints
	e.GET("/api/oncall", h.GetSchedules)
	e.GET("/api/oncall/:id", h.GetSchedule)
	e.POST("/api/oncall", h.CreateSchedule)
	e.PUT("/api/oncall/:id", h.UpdateSchedule)
	e.DELETE("/api/oncall/:id", h.DeleteSchedule)
	e.GET("/api/oncall/:id/current", h.GetCurrentShift)
}
