package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/mw"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/parse"
	"wasch-booking-backend/internal/refund"
	"wasch-booking-backend/internal/store"
)

// RequireStaff lets only staff and superusers through. It must run after
// mw.RequireUser.
func (h *Handler) RequireStaff(c *gin.Context) {
	u, err := h.store.GetUser(c.Request.Context(), mw.User(c))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.writeError(c, err)
		c.Abort()
		return
	}
	if u == nil || !(u.IsStaff || u.IsSuperuser) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff only"})
		return
	}
	c.Next()
}

type itemFailureResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	TransactionID int64  `json:"transaction_id"`
	Error         string `json:"error"`
}

// PostAutoRefund runs one auto-refund sweep and returns its report.
func (h *Handler) PostAutoRefund(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auto-refund sweep is not configured"})
		return
	}
	report, err := h.sweeper.RunOnce(c.Request.Context())
	if errors.Is(err, refund.ErrLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	failures := make([]itemFailureResponse, len(report.Failures))
	for i, f := range report.Failures {
		failures[i] = itemFailureResponse{AppointmentID: f.AppointmentID, TransactionID: f.TransactionID, Error: f.Err.Error()}
	}
	c.JSON(http.StatusOK, gin.H{
		"cutoff":    report.Cutoff,
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
		"refunded":  report.Refunded,
		"failures":  failures,
	})
}

// GetParameters lists every wash parameter with its effective value.
func (h *Handler) GetParameters(c *gin.Context) {
	names := make([]string, 0, len(params.Defaults))
	for name := range params.Defaults {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]string, len(names))
	for _, name := range names {
		v, err := h.params.GetValue(c.Request.Context(), name)
		if err != nil {
			h.writeError(c, err)
			return
		}
		values[name] = v
	}
	c.JSON(http.StatusOK, values)
}

type putParameterRequest struct {
	Value string `json:"value" binding:"required"`
}

// PutParameter overrides one wash parameter.
func (h *Handler) PutParameter(c *gin.Context) {
	name := c.Param("name")
	if _, known := params.Defaults[name]; !known {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown parameter %q", name)})
		return
	}
	var req putParameterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.params.UpdateValue(c.Request.Context(), name, req.Value); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{name: req.Value})
}

type userResponse struct {
	Username    string   `json:"username"`
	Status      string   `json:"status"`
	IsActivated bool     `json:"is_activated"`
	IsStaff     bool     `json:"is_staff"`
	Groups      []string `json:"groups"`
}

func userJSON(u *model.WashUser) userResponse {
	groups := make([]string, len(u.Groups))
	for i, g := range u.Groups {
		groups[i] = g.Name
	}
	sort.Strings(groups)
	return userResponse{
		Username:    u.Username,
		Status:      u.Status.String(),
		IsActivated: u.IsActivated,
		IsStaff:     u.IsStaff,
		Groups:      groups,
	}
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
}

// CreateUser registers an end user that still needs activation.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.accounts.CreateEnduser(c.Request.Context(), req.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userJSON(u))
}

// ActivateUser grants a user the rights of its tier.
func (h *Handler) ActivateUser(c *gin.Context) {
	u, err := h.accounts.Activate(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userJSON(u))
}

// DeactivateUser revokes all rights of a user.
func (h *Handler) DeactivateUser(c *gin.Context) {
	u, err := h.accounts.Deactivate(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userJSON(u))
}

type putStatusRequest struct {
	Status int `json:"status" binding:"required"`
}

// PutUserStatus changes the tier of a user.
func (h *Handler) PutUserStatus(c *gin.Context) {
	var req putStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.accounts.SetStatus(c.Request.Context(), c.Param("username"), model.Status(req.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userJSON(u))
}

type putMachineRequest struct {
	IsAvailable *bool `json:"is_available" binding:"required"`
}

// PutMachine switches a machine's availability.
func (h *Handler) PutMachine(c *gin.Context) {
	number, err := parse.ParseMachine(c.Param("number"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var req putMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.store.SetMachineAvailability(c.Request.Context(), number, *req.IsAvailable); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, machineResponse{Number: number, IsAvailable: *req.IsAvailable})
}

type awardBonusRequest struct {
	Username string `json:"username" binding:"required"`
	Value    int64  `json:"value" binding:"required,gt=0"`
	Notes    string `json:"notes"`
}

// PostBonus credits bonus to a user on behalf of the acting staff member.
func (h *Handler) PostBonus(c *gin.Context) {
	if h.bonus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bonus payments are not configured"})
		return
	}
	var req awardBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	receipt, err := h.bonus.AwardBonus(c.Request.Context(), req.Value, req.Username, mw.User(c), req.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"amount": receipt.Amount, "reference": receipt.Reference})
}
