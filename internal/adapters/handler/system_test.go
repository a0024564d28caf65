package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ig-autoreply/internal/core/services"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(deps map[string]Pinger, pause *services.PauseSwitch) http.Handler {
	return NewRouter(Handlers{
		Webhook:     NewWebhookHandler(newStubProcessor(), testSecret, testToken),
		Automations: NewAutomationHandler(new(MockRuleAdmin), ""),
		System:      NewSystemHandler(deps, pause, 80, ".", "test"),
		Privacy:     NewPrivacyHandler("privacy@shop.test"),
	})
}

func TestHealth(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	rec := httptest.NewRecorder()
	newTestRouter(map[string]Pinger{"mariadb": up}, services.NewPauseSwitch()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	newTestRouter(map[string]Pinger{"mariadb": up, "redis": down}, services.NewPauseSwitch()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Data HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "down", resp.Data.Dependencies["redis"])
	assert.Equal(t, "up", resp.Data.Dependencies["mariadb"])
}

func TestPauseAndResume(t *testing.T) {
	pause := services.NewPauseSwitch()
	router := newTestRouter(nil, pause)

	req := httptest.NewRequest(http.MethodPost, "/api/system/pause", strings.NewReader(`{"reason":"token rotation","by":"ops"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, pause.IsPaused())
	assert.Equal(t, "token rotation", pause.Status().Reason)
	assert.Equal(t, "ops", pause.Status().PausedBy)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/resume", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, pause.IsPaused())
}

func TestRouter_RequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/system/pause", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	newTestRouter(nil, services.NewPauseSwitch()).ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-123", resp.TraceID)
}

func TestRouter_CORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/automations", nil)
	req.Header.Set("Access-Control-Request-Headers", "X-Owner-ID")
	rec := httptest.NewRecorder()
	newTestRouter(nil, services.NewPauseSwitch()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Owner-ID", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestRouter_WebhookVerifyRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil, services.NewPauseSwitch()).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())
}

func TestDiskWarningLevel(t *testing.T) {
	assert.Equal(t, "safe", diskWarningLevel(50, 80))
	assert.Equal(t, "warning", diskWarningLevel(80, 80))
	assert.Equal(t, "critical", diskWarningLevel(95, 80))
}

func TestRouter_PrivacyPolicy(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil, services.NewPauseSwitch()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/privacy-policy", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Privacy Policy</h1>")
	assert.Contains(t, body, "privacy@shop.test")
	assert.Contains(t, body, time.Now().UTC().Format(time.DateOnly))
}

func TestPrivacyPolicy_EscapesContact(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPrivacyHandler(`<script>x</script>`).PrivacyPolicy(rec, httptest.NewRequest(http.MethodGet, "/privacy-policy", nil))

	assert.NotContains(t, rec.Body.String(), "<script>")
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
}
