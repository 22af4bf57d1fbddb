package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"wasch-booking-backend/internal/accounts"
	"wasch-booking-backend/internal/appointment"
	"wasch-booking-backend/internal/calendar"
	"wasch-booking-backend/internal/eligibility"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/payment"
	"wasch-booking-backend/internal/reference"
	"wasch-booking-backend/internal/refund"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/pkg/logging"
)

// Deps bundles what the handlers need. Sweeper, Bonus and Webpush may be nil.
type Deps struct {
	Store        store.Store
	Appointments *appointment.Service
	Evaluator    *eligibility.Evaluator
	Accounts     *accounts.Service
	Params       *params.Params
	Bonus        *payment.BonusMethod
	Sweeper      *refund.Sweeper
	Webpush      *webpush.Options
	Logger       *logging.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store        store.Store
	appointments *appointment.Service
	eval         *eligibility.Evaluator
	cal          *calendar.Calendar
	accounts     *accounts.Service
	params       *params.Params
	bonus        *payment.BonusMethod
	sweeper      *refund.Sweeper
	webpush      *webpush.Options
	log          *logging.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	h := &Handler{
		store:        d.Store,
		appointments: d.Appointments,
		eval:         d.Evaluator,
		accounts:     d.Accounts,
		params:       d.Params,
		bonus:        d.Bonus,
		sweeper:      d.Sweeper,
		webpush:      d.Webpush,
		log:          d.Logger,
	}
	if d.Evaluator != nil {
		h.cal = d.Evaluator.Calendar()
	}
	return h
}

// writeError maps domain errors onto HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		denied  *eligibility.DeniedError
		invalid *reference.InvalidError
		payErr  *payment.Error
	)
	switch {
	case errors.As(err, &denied):
		status := http.StatusUnprocessableEntity
		switch denied.Reason {
		case eligibility.AppointmentTaken, eligibility.AppointmentCanceled, eligibility.AlreadyUsed:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "reason": int(denied.Reason), "reason_text": denied.Reason.String()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": invalid.Kind.String()})
	case errors.As(err, &payErr):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "method": payErr.Method})
	case errors.Is(err, appointment.ErrAppointmentNotFound), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, accounts.ErrGodForbidden), errors.Is(err, accounts.ErrInvalidStatus),
		errors.Is(err, store.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, errPushDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
