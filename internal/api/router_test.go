package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasch-booking-backend/internal/accounts"
	"wasch-booking-backend/internal/appointment"
	"wasch-booking-backend/internal/calendar"
	"wasch-booking-backend/internal/eligibility"
	"wasch-booking-backend/internal/metrics"
	"wasch-booking-backend/internal/mw"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/payment"
	"wasch-booking-backend/internal/refund"
	"wasch-booking-backend/internal/store/storetest"
)

var (
	testNow   = time.Date(2026, time.October, 15, 10, 0, 0, 0, time.UTC)
	firstSlot = "2026-10-15T10:30:00Z"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newTestRouterAt(t, &testClock{now: testNow})
}

func newTestRouterAt(t *testing.T, clk *testClock) *gin.Engine {
	t.Helper()
	r, _ := newTestStack(t, clk)
	return r
}

// newTestStack also returns the booking service, which writes to the store
// without passing through the router.
func newTestStack(t *testing.T, clk *testClock) (*gin.Engine, *appointment.Service) {
	t.Helper()
	ctx := context.Background()
	s := storetest.New(t)

	users := accounts.NewService(s, nil)
	specials, err := users.Setup(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetMachineAvailability(ctx, 1, true))
	require.NoError(t, s.SetMachineAvailability(ctx, 2, true))
	for _, name := range []string{"alice", "bob"} {
		_, err := users.CreateEnduser(ctx, name)
		require.NoError(t, err)
		_, err = users.Activate(ctx, name)
		require.NoError(t, err)
	}

	cal, err := calendar.New(16, time.UTC, calendar.WithClock(clk.Now))
	require.NoError(t, err)
	p := params.New(s)
	require.NoError(t, p.UpdateValue(ctx, params.PaymentMethod, "infinite"))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bonus := payment.NewBonusMethod(s, specials)
	require.NoError(t, bonus.Init(ctx))
	payments := payment.NewOrchestrator(s, payment.NewRegistry(payment.EmptyMethod{}, payment.InfiniteMethod{}, bonus), p, nil, m)
	eval := eligibility.New(s, p, cal)
	booking := appointment.NewService(appointment.Deps{
		Store: s, Evaluator: eval, Payments: payments, Params: p, Specials: specials, Metrics: m,
	})
	sweeper := refund.NewSweeper(refund.Deps{
		Store: s, Payments: payments, Params: p, References: booking, Metrics: m, Now: cal.Now,
	})

	h := NewHandler(Deps{
		Store:        s,
		Appointments: booking,
		Evaluator:    eval,
		Accounts:     users,
		Params:       p,
		Bonus:        bonus,
		Sweeper:      sweeper,
		Webpush:      &webpush.Options{VAPIDPublicKey: "public-key", TTL: 3600},
	})
	return NewRouter(h, RouterConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, Gatherer: reg}), booking
}

func request(t *testing.T, r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(mw.UserHeader, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func book(t *testing.T, r http.Handler, user string, at string, machine int) appointmentResponse {
	t.Helper()
	w := request(t, r, http.MethodPost, "/api/appointments", user, gin.H{"time": at, "machine": machine})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a appointmentResponse
	decode(t, w, &a)
	return a
}

func TestGetSlots(t *testing.T) {
	r := newTestRouter(t)
	w := request(t, r, http.MethodGet, "/api/slots", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Slots             []slotResponse `json:"slots"`
		SlotLengthMinutes int            `json:"slot_length_minutes"`
	}
	decode(t, w, &resp)
	assert.Len(t, resp.Slots, 16*calendar.HorizonDays)
	assert.Equal(t, 90, resp.SlotLengthMinutes)
	assert.Equal(t, firstSlot, resp.Slots[0].Time.Format(time.RFC3339))
	assert.Equal(t, 7, resp.Slots[0].Index)
}

func TestAppointmentsRequireUser(t *testing.T) {
	r := newTestRouter(t)
	w := request(t, r, http.MethodPost, "/api/appointments", "", gin.H{"time": firstSlot, "machine": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAppointmentLifecycle(t *testing.T) {
	clk := &testClock{now: testNow}
	r := newTestRouterAt(t, clk)
	a := book(t, r, "alice", firstSlot, 1)
	assert.Equal(t, "booked", a.State)
	assert.NotNil(t, a.RefundableTransactionID)
	path := fmt.Sprintf("/api/appointments/%d", a.Reference)

	w := request(t, r, http.MethodGet, path, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Appointment  appointmentResponse   `json:"appointment"`
		Transactions []transactionResponse `json:"transactions"`
	}
	decode(t, w, &detail)
	assert.Equal(t, a.ID, detail.Appointment.ID)
	assert.Len(t, detail.Transactions, 1)

	w = request(t, r, http.MethodPost, "/api/appointments", "bob", gin.H{"time": firstSlot, "machine": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":41`)

	w = request(t, r, http.MethodPost, path+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &a)
	assert.Equal(t, "canceled", a.State)

	w = request(t, r, http.MethodPost, path+"/rebook", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &a)
	assert.Equal(t, "booked", a.State)

	w = request(t, r, http.MethodPost, path+"/use", "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":11`)

	clk.now = testNow.Add(40 * time.Minute)
	w = request(t, r, http.MethodPost, path+"/use", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &a)
	assert.Equal(t, "used", a.State)

	w = request(t, r, http.MethodPost, path+"/use", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":61`)
}

func TestCreateAppointment_Invalid(t *testing.T) {
	r := newTestRouter(t)

	w := request(t, r, http.MethodPost, "/api/appointments", "alice", gin.H{"time": "soon", "machine": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodPost, "/api/appointments", "alice", gin.H{"time": firstSlot})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodPost, "/api/appointments", "alice", gin.H{"time": "2026-10-15T10:31:00Z", "machine": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":11`)

	w = request(t, r, http.MethodPost, "/api/appointments", "alice", gin.H{"time": firstSlot, "machine": 3})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":21`)
}

func TestAppointmentReferences(t *testing.T) {
	r := newTestRouter(t)
	a := book(t, r, "alice", firstSlot, 2)

	w := request(t, r, http.MethodGet, "/api/appointments/not-a-number", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodGet, fmt.Sprintf("/api/appointments/%d", a.Reference^1), "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "checksum mismatch")

	w = request(t, r, http.MethodGet, fmt.Sprintf("/api/appointments/%d", a.Reference), "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, r, http.MethodGet, fmt.Sprintf("/api/references/0x%x", a.Reference), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resolved struct {
		Time    time.Time       `json:"time"`
		Machine machineResponse `json:"machine"`
	}
	decode(t, w, &resolved)
	assert.Equal(t, 2, resolved.Machine.Number)
	assert.Equal(t, firstSlot, resolved.Time.UTC().Format(time.RFC3339))
}

func TestPaymentRequired(t *testing.T) {
	r := newTestRouter(t)

	w := request(t, r, http.MethodPut, "/api/admin/parameters/"+params.PaymentMethod, accounts.GodUsername, gin.H{"value": "empty"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = request(t, r, http.MethodPost, "/api/appointments", "alice", gin.H{"time": firstSlot, "machine": 1})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = request(t, r, http.MethodPost, "/api/admin/bonus", accounts.GodUsername, gin.H{"username": "alice", "value": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	book(t, r, "alice", firstSlot, 1)

	w = request(t, r, http.MethodGet, "/api/bonus", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":0}`, w.Body.String())
}

func TestAdminRequiresStaff(t *testing.T) {
	r := newTestRouter(t)

	w := request(t, r, http.MethodPost, "/api/admin/autorefund", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = request(t, r, http.MethodPost, "/api/admin/autorefund", "nobody", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(t, r, http.MethodPost, "/api/admin/autorefund", accounts.GodUsername, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"attempted":0`)

	w = request(t, r, http.MethodPut, "/api/admin/parameters/colour", accounts.GodUsername, gin.H{"value": "blue"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, r, http.MethodPost, "/api/admin/users/"+accounts.GodUsername+"/deactivate", accounts.GodUsername, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAdminUsersAndMachines(t *testing.T) {
	r := newTestRouter(t)
	god := accounts.GodUsername

	w := request(t, r, http.MethodPost, "/api/admin/users", god, gin.H{"username": "carol"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = request(t, r, http.MethodPost, "/api/admin/users", god, gin.H{"username": "carol"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = request(t, r, http.MethodPost, "/api/appointments", "carol", gin.H{"time": firstSlot, "machine": 1})
	assert.Contains(t, w.Body.String(), `"reason":31`)

	w = request(t, r, http.MethodPost, "/api/admin/users/carol/activate", god, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var u userResponse
	decode(t, w, &u)
	assert.True(t, u.IsActivated)
	assert.Equal(t, []string{"enduser"}, u.Groups)

	w = request(t, r, http.MethodPut, "/api/admin/machines/3", god, gin.H{"is_available": true})
	require.Equal(t, http.StatusOK, w.Code)
	book(t, r, "carol", firstSlot, 3)

	w = request(t, r, http.MethodPut, "/api/admin/machines/9", god, gin.H{"is_available": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGridReflectsBookings(t *testing.T) {
	r := newTestRouter(t)

	grid := func() []cellResponse {
		w := request(t, r, http.MethodGet, "/api/grid?machines=1", "alice", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Cells []cellResponse `json:"cells"`
		}
		decode(t, w, &resp)
		return resp.Cells
	}

	cells := grid()
	require.Len(t, cells, 16*calendar.HorizonDays)
	assert.True(t, cells[0].Bookable)

	book(t, r, "bob", firstSlot, 1)
	cells = grid()
	assert.False(t, cells[0].Bookable)
	assert.Equal(t, int(eligibility.AppointmentTaken), cells[0].Reason)

	w := request(t, r, http.MethodGet, "/api/grid?machines=x", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrid_SeesBookingsFromElsewhere(t *testing.T) {
	r, booking := newTestStack(t, &testClock{now: testNow})

	w := request(t, r, http.MethodGet, "/api/grid?machines=1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"))

	at, err := time.Parse(time.RFC3339, firstSlot)
	require.NoError(t, err)
	_, err = booking.MakeAppointment(context.Background(), at, 1, "bob")
	require.NoError(t, err)

	w = request(t, r, http.MethodGet, "/api/grid?machines=1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"))
	var resp struct {
		Cells []cellResponse `json:"cells"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.Cells)
	assert.False(t, resp.Cells[0].Bookable)
	assert.Equal(t, int(eligibility.AppointmentTaken), resp.Cells[0].Reason)
}

func TestGetSlots_FollowsTheClock(t *testing.T) {
	clk := &testClock{now: testNow}
	r := newTestRouterAt(t, clk)
	first := func() string {
		w := request(t, r, http.MethodGet, "/api/slots", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Slots []slotResponse `json:"slots"`
		}
		decode(t, w, &resp)
		require.NotEmpty(t, resp.Slots)
		return resp.Slots[0].Time.Format(time.RFC3339)
	}

	assert.Equal(t, firstSlot, first())
	clk.now = testNow.Add(90 * time.Minute)
	assert.Equal(t, "2026-10-15T12:00:00Z", first())
}

func TestGetMachines_Cached(t *testing.T) {
	r := newTestRouter(t)

	w := request(t, r, http.MethodGet, "/api/machines", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"))

	w = request(t, r, http.MethodGet, "/api/machines", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestGetRation(t *testing.T) {
	r := newTestRouter(t)
	book(t, r, "alice", firstSlot, 1)

	w := request(t, r, http.MethodGet, "/api/ration", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Remaining int64 `json:"remaining"`
		Unlimited bool  `json:"unlimited"`
	}
	decode(t, w, &resp)
	assert.Equal(t, int64(11), resp.Remaining)
	assert.False(t, resp.Unlimited)
}

func TestSubscriptions(t *testing.T) {
	r := newTestRouter(t)
	endpoint := "https://push.example.com/abc"

	w := request(t, r, http.MethodPut, "/api/subscriptions", "alice", gin.H{"endpoint": endpoint})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	w = request(t, r, http.MethodPut, "/api/subscriptions", "alice", gin.H{"endpoint": endpoint, "p256dh": "k", "auth": "a"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = request(t, r, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = request(t, r, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = request(t, r, http.MethodGet, "/api/subscriptions", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodDelete, "/api/subscriptions", "alice", gin.H{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = request(t, r, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey_PushDisabled(t *testing.T) {
	h := NewHandler(Deps{})
	r := NewRouter(h, RouterConfig{Gatherer: prometheus.NewRegistry()})

	w := request(t, r, http.MethodGet, "/api/vapid_public_key", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"push notifications are disabled"}`, w.Body.String())
}

func TestVAPIDAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	w := request(t, r, http.MethodGet, "/api/vapid_public_key", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"public-key","ttl_seconds":3600,"subscribe":"/api/subscriptions"}`, w.Body.String())

	book(t, r, "alice", firstSlot, 1)
	w = request(t, r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `wasch_appointments_operations_total{operation="book",outcome="ok"} 1`)
}
