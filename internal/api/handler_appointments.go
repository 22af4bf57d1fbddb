package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wasch-booking-backend/internal/appointment"
	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/mw"
	"wasch-booking-backend/internal/parse"
)

type appointmentResponse struct {
	ID                      int64     `json:"id"`
	Reference               uint32    `json:"reference"`
	Time                    time.Time `json:"time"`
	Machine                 int       `json:"machine"`
	Username                string    `json:"username"`
	State                   string    `json:"state"`
	RefundableTransactionID *int64    `json:"refundable_transaction_id,omitempty"`
}

func (h *Handler) appointmentJSON(a *model.Appointment) (appointmentResponse, error) {
	ref, err := h.appointments.Reference(a)
	if err != nil {
		return appointmentResponse{}, err
	}
	return appointmentResponse{
		ID:                      a.ID,
		Reference:               ref,
		Time:                    a.Time.In(h.cal.Location()),
		Machine:                 a.MachineNumber,
		Username:                a.Username,
		State:                   string(a.State()),
		RefundableTransactionID: a.RefundableTransactionID,
	}, nil
}

func (h *Handler) respondAppointment(c *gin.Context, status int, a *model.Appointment) {
	resp, err := h.appointmentJSON(a)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(status, resp)
}

type createAppointmentRequest struct {
	Time    string `json:"time" binding:"required"`
	Machine *int   `json:"machine" binding:"required"`
}

// CreateAppointment books a slot for the acting user.
func (h *Handler) CreateAppointment(c *gin.Context) {
	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := parse.ParseSlotTime(req.Time, h.cal.Location())
	if err != nil {
		badRequest(c, err)
		return
	}

	a, err := h.appointments.MakeAppointment(c.Request.Context(), t, *req.Machine, mw.User(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondAppointment(c, http.StatusCreated, a)
}

// resolve finds the acting user's appointment behind the :reference parameter.
func (h *Handler) resolve(c *gin.Context) (*appointment.Resolved, bool) {
	ref, err := parse.ParseReference(c.Param("reference"))
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	resolved, err := h.appointments.FromReference(c.Request.Context(), ref, mw.User(c), false)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return resolved, true
}

// GetAppointment returns the acting user's appointment and its transactions.
func (h *Handler) GetAppointment(c *gin.Context) {
	resolved, ok := h.resolve(c)
	if !ok {
		return
	}
	resp, err := h.appointmentJSON(resolved.Appointment)
	if err != nil {
		h.writeError(c, err)
		return
	}
	txns, err := h.appointments.Transactions(c.Request.Context(), resolved.Appointment.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": resp, "transactions": transactionsJSON(txns)})
}

type transactionResponse struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     int64     `json:"value"`
	IsBonus   bool      `json:"is_bonus"`
	Method    string    `json:"method"`
	Notes     string    `json:"notes"`
	RefundOf  *int64    `json:"refund_of,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func transactionsJSON(txns []model.Transaction) []transactionResponse {
	resp := make([]transactionResponse, len(txns))
	for i, t := range txns {
		resp[i] = transactionResponse{
			ID:        t.ID,
			From:      t.FromUser,
			To:        t.ToUser,
			Value:     t.Value,
			IsBonus:   t.IsBonus,
			Method:    t.Method,
			Notes:     t.Notes,
			RefundOf:  t.RefundOf,
			CreatedAt: t.CreatedAt,
		}
	}
	return resp
}

type transition func(ctx context.Context, id int64) (*model.Appointment, error)

func (h *Handler) runTransition(c *gin.Context, fn transition) {
	resolved, ok := h.resolve(c)
	if !ok {
		return
	}
	a, err := fn(c.Request.Context(), resolved.Appointment.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondAppointment(c, http.StatusOK, a)
}

// UseAppointment marks the acting user's appointment as used.
func (h *Handler) UseAppointment(c *gin.Context) {
	h.runTransition(c, h.appointments.Use)
}

// CancelAppointment cancels and refunds the acting user's appointment.
func (h *Handler) CancelAppointment(c *gin.Context) {
	h.runTransition(c, h.appointments.Cancel)
}

// RebookAppointment books a canceled appointment again.
func (h *Handler) RebookAppointment(c *gin.Context) {
	h.runTransition(c, h.appointments.Rebook)
}

// GetReference decodes a reference code without looking up an appointment.
// Machines that are not registered are reported as unavailable.
func (h *Handler) GetReference(c *gin.Context) {
	ref, err := parse.ParseReference(c.Param("reference"))
	if err != nil {
		badRequest(c, err)
		return
	}
	resolved, err := h.appointments.FromReference(c.Request.Context(), ref, "", true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reference": resolved.Reference,
		"time":      resolved.Time,
		"machine": machineResponse{
			Number:      resolved.Machine.Number,
			IsAvailable: resolved.Machine.IsAvailable,
			Notes:       resolved.Machine.Notes,
		},
	})
}
