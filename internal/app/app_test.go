package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasch-booking-backend/config"
	"wasch-booking-backend/internal/accounts"
	"wasch-booking-backend/pkg/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := &config.Config{}
	cfg.Database.DSN = "file:" + name + "?mode=memory&cache=shared"
	cfg.Database.LogLevel = "silent"
	cfg.Booking.SlotsPerDay = 16
	cfg.Booking.Timezone = "UTC"
	cfg.Server.RateLimitPerSec = 100
	cfg.Server.RateLimitBurst = 100
	cfg.Server.CacheTTLSeconds = 1
	cfg.WorkerPool.Size = 1
	return cfg
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), logging.Default())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	god, err := a.Store.GetUser(ctx, accounts.GodUsername)
	require.NoError(t, err)
	assert.True(t, god.IsSuperuser)
	assert.Nil(t, a.Workers)

	report, err := a.Sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/machines", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNew_WithRedisAndPush(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()
	cfg.Push.PublicKey = "pub"
	cfg.Push.PrivateKey = "priv"

	a, err := New(ctx, cfg, logging.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.NotNil(t, a.Workers)
	assert.Equal(t, "pub", a.Webpush.VAPIDPublicKey)

	_, err = a.Sweeper.RunOnce(ctx)
	require.NoError(t, err)
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Booking.Timezone = "Mars/Olympus"
	_, err := New(ctx, cfg, logging.Default())
	assert.ErrorContains(t, err, "timezone")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg = testConfig(t)
	cfg.Redis.Addr = addr
	_, err = New(ctx, cfg, logging.Default())
	assert.ErrorContains(t, err, "redis")
}
