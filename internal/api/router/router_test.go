package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanamente-ai/sanamente-platform/internal/channels/whatsapp"
	"github.com/sanamente-ai/sanamente-platform/internal/http/handlers"
	"github.com/sanamente-ai/sanamente-platform/internal/pipeline"
	"github.com/sanamente-ai/sanamente-platform/internal/ratelimit"
)

type stubPublisher struct {
	jobs []pipeline.InboundJob
}

func (p *stubPublisher) EnqueueInbound(_ context.Context, job pipeline.InboundJob) error {
	p.jobs = append(p.jobs, job)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *stubPublisher) {
	t.Helper()
	pub := &stubPublisher{}
	return New(&Config{
		WhatsAppWebhook:   whatsapp.NewWebhookHandler(pub, "hook-secret", false, nil),
		Limiter:           ratelimit.NewLimiter(nil, 100, time.Minute, nil),
		OperatorJWTSecret: "op-secret",
	}), pub
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestWebhookRouteWired(t *testing.T) {
	router, pub := newTestRouter(t)

	body := `{"messageId": "m-1", "from": "+521555", "text": "hola"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", uuid.NewString())
	req.Header.Set("Authorization", "Bearer hook-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, pub.jobs, 1)
}

func TestOperatorRoutesRequireJWT(t *testing.T) {
	router := New(&Config{
		Operator:          handlers.NewOperatorHandler(nil, nil, nil),
		OperatorJWTSecret: "op-secret",
	})
	path := "/operator/conversations/" + uuid.NewString() + "/prompt-snapshot"

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("op-secret"))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tenant-ID", uuid.NewString())
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "authenticated request reaches the handler")
}

func TestWebhookRateLimit(t *testing.T) {
	pub := &stubPublisher{}
	router := New(&Config{
		WhatsAppWebhook: whatsapp.NewWebhookHandler(pub, "", false, nil),
		Limiter:         ratelimit.NewLimiter(nil, 2, time.Minute, nil),
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{}`))
		req.Header.Set("X-Tenant-ID", uuid.NewString())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant-ID", uuid.NewString())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
