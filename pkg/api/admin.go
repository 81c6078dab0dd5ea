package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// GetIncidents returns all incidents in a project
func (h *APIHandler) GetIncidents(c echo.Context) error {
	incidents, err := h.incidents.ListIncidents(c.Request().Context(), c.QueryParam("project_id"))
	if err != nil {
		return respondError(c, err, "incidents")
	}
	return c.JSON(http.StatusOK, incidents)
}

// GetIncident returns an incident with its timeline
func (h *APIHandler) GetIncident(c echo.Context) error {
	incident, err := h.incidents.GetIncident(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "incident")
	}
	return c.JSON(http.StatusOK, incident)
}

// AcknowledgeIncident acknowledges an incident and its open alerts
func (h *APIHandler) AcknowledgeIncident(c echo.Context) error {
	var req models.AcknowledgeAlertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if req.AcknowledgedBy == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "acknowledgedBy is required"})
	}
	incident, err := h.incidents.AcknowledgeIncident(c.Request().Context(), c.Param("id"), req.AcknowledgedBy)
	if err != nil {
		return respondError(c, err, "incident")
	}
	return c.JSON(http.StatusOK, incident)
}

// ResolveIncident closes an incident by hand
func (h *APIHandler) ResolveIncident(c echo.Context) error {
	var req struct {
		ResolvedBy string `json:"resolvedBy"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if req.ResolvedBy == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "resolvedBy is required"})
	}
	incident, err := h.incidents.ResolveIncident(c.Request().Context(), c.Param("id"), req.ResolvedBy)
	if err != nil {
		return respondError(c, err, "incident")
	}
	return c.JSON(http.StatusOK, incident)
}

// GetChannels returns all channels in a project
func (h *APIHandler) GetChannels(c echo.Context) error {
	channels, err := h.channels.ListChannels(c.Request().Context(), c.QueryParam("project_id"))
	if err != nil {
		return respondError(c, err, "channels")
	}
	return c.JSON(http.StatusOK, channels)
}

// GetChannel returns a channel by ID
func (h *APIHandler) GetChannel(c echo.Context) error {
	channel, err := h.channels.GetChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "channel")
	}
	return c.JSON(http.StatusOK, channel)
}

// CreateChannel creates a notification channel
func (h *APIHandler) CreateChannel(c echo.Context) error {
	var channel models.NotificationChannel
	if err := c.Bind(&channel); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	created, err := h.channels.CreateChannel(c.Request().Context(), &channel)
	if err != nil {
		return respondError(c, err, "channel")
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdateChannel updates a notification channel
func (h *APIHandler) UpdateChannel(c echo.Context) error {
	var channel models.NotificationChannel
	if err := c.Bind(&channel); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	updated, err := h.channels.UpdateChannel(c.Request().Context(), c.Param("id"), &channel)
	if err != nil {
		return respondError(c, err, "channel")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteChannel deletes a notification channel
func (h *APIHandler) DeleteChannel(c echo.Context) error {
	if err := h.channels.DeleteChannel(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err, "channel")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Channel deleted successfully"})
}

// TestChannel sends a probe notification through the channel
func (h *APIHandler) TestChannel(c echo.Context) error {
	response, err := h.channels.TestChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "channel")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Test notification sent", "response": response})
}

// GetPolicies returns all escalation policies in a project
func (h *APIHandler) GetPolicies(c echo.Context) error {
	policies, err := h.policies.ListPolicies(c.Request().Context(), c.QueryParam("project_id"))
	if err != nil {
		return respondError(c, err, "policies")
	}
	return c.JSON(http.StatusOK, policies)
}

// GetPolicy returns an escalation policy by ID
func (h *APIHandler) GetPolicy(c echo.Context) error {
	policy, err := h.policies.GetPolicy(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "policy")
	}
	return c.JSON(http.StatusOK, policy)
}

// CreatePolicy creates an escalation policy
func (h *APIHandler) CreatePolicy(c echo.Context) error {
	var policy models.EscalationPolicy
	if err := c.Bind(&policy); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	created, err := h.policies.CreatePolicy(c.Request().Context(), &policy)
	if err != nil {
		return respondError(c, err, "policy")
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdatePolicy updates an escalation policy
func (h *APIHandler) UpdatePolicy(c echo.Context) error {
	var policy models.EscalationPolicy
	if err := c.Bind(&policy); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	updated, err := h.policies.UpdatePolicy(c.Request().Context(), c.Param("id"), &policy)
	if err != nil {
		return respondError(c, err, "policy")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeletePolicy deletes an escalation policy
func (h *APIHandler) DeletePolicy(c echo.Context) error {
	if err := h.policies.DeletePolicy(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err, "policy")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Policy deleted successfully"})
}

// GetMaintenanceWindows returns the active maintenance windows in a project
func (h *APIHandler) GetMaintenanceWindows(c echo.Context) error {
	windows, err := h.maintenance.ListActiveWindows(c.Request().Context(), c.QueryParam("project_id"))
	if err != nil {
		return respondError(c, err, "maintenance windows")
	}
	return c.JSON(http.StatusOK, windows)
}

// GetMaintenanceWindow returns a maintenance window by ID
func (h *APIHandler) GetMaintenanceWindow(c echo.Context) error {
	w, err := h.maintenance.GetWindow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "maintenance window")
	}
	return c.JSON(http.StatusOK, w)
}

// CreateMaintenanceWindow creates a maintenance window
func (h *APIHandler) CreateMaintenanceWindow(c echo.Context) error {
	var w models.MaintenanceWindow
	if err := c.Bind(&w); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	created, err := h.maintenance.CreateWindow(c.Request().Context(), &w)
	if err != nil {
		return respondError(c, err, "maintenance window")
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdateMaintenanceWindow updates a maintenance window
func (h *APIHandler) UpdateMaintenanceWindow(c echo.Context) error {
	var w models.MaintenanceWindow
	if err := c.Bind(&w); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	updated, err := h.maintenance.UpdateWindow(c.Request().Context(), c.Param("id"), &w)
	if err != nil {
		return respondError(c, err, "maintenance window")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteMaintenanceWindow deletes a maintenance window
func (h *APIHandler) DeleteMaintenanceWindow(c echo.Context) error {
	if err := h.maintenance.DeleteWindow(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err, "maintenance window")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Maintenance window deleted successfully"})
}

// GetSchedules returns all on-call schedules in a project
func (h *APIHandler) GetSchedules(c echo.Context) error {
	schedules, err := h.oncall.ListSchedules(c.Request().Context(), c.QueryParam("project_id"))
	if err != nil {
		return respondError(c, err, "schedules")
	}
	return c.JSON(http.StatusOK, schedules)
}

// GetSchedule returns an on-call schedule by ID
func (h *APIHandler) GetSchedule(c echo.Context) error {
	schedule, err := h.oncall.GetSchedule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "schedule")
	}
	return c.JSON(http.StatusOK, schedule)
}

// CreateSchedule creates an on-call schedule
func (h *APIHandler) CreateSchedule(c echo.Context) error {
	var schedule models.OnCallSchedule
	if err := c.Bind(&schedule); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	created, err := h.oncall.CreateSchedule(c.Request().Context(), &schedule)
	if err != nil {
		return respondError(c, err, "schedule")
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdateSchedule updates an on-call schedule
func (h *APIHandler) UpdateSchedule(c echo.Context) error {
	var schedule models.OnCallSchedule
	if err := c.Bind(&schedule); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	updated, err := h.oncall.UpdateSchedule(c.Request().Context(), c.Param("id"), &schedule)
	if err != nil {
		return respondError(c, err, "schedule")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteSchedule deletes an on-call schedule
func (h *APIHandler) DeleteSchedule(c echo.Context) error {
	if err := h.oncall.DeleteSchedule(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err, "schedule")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Schedule deleted successfully"})
}

// GetCurrentShift answers who is on call right now for the schedule
func (h *APIHandler) GetCurrentShift(c echo.Context) error {
	shift, err := h.oncall.CurrentShift(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, "schedule")
	}
	return c.JSON(http.StatusOK, shift)
}
