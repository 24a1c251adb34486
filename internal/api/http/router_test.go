package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/api/http/handlers"
	"github.com/zacode/consultation-service/internal/auth"
	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/events"
	"github.com/zacode/consultation-service/internal/mailbox"
	"github.com/zacode/consultation-service/internal/observability"
	"github.com/zacode/consultation-service/internal/repository/memory"
	"github.com/zacode/consultation-service/internal/service"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubListener struct{ state mailbox.State }

func (l stubListener) State() mailbox.State { return l.state }

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
	store  *memory.ConsultationStore
}

func newTestServer(t *testing.T, redisErr error) *testServer {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	store := memory.NewConsultationStore()
	users := memory.NewUserStore(
		domain.User{ID: "member", Email: "member@example.com", Role: "user"},
		domain.User{ID: "other", Email: "other@example.com", Role: "user"},
		domain.User{ID: "boss", Email: "boss@example.com", Role: domain.UserRoleAdmin},
	)
	tokens := auth.NewTokenManager("secret", 5)
	svc := service.NewConsultationService(service.ConsultationDependencies{
		ConsultationRepo: store,
		UserRepo:         users,
		Dispatcher:       events.NewInMemoryDispatcher(logger),
		Logger:           logger,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("consultd", "test", stubPinger{}, stubPinger{err: redisErr}, stubListener{state: mailbox.StateReady}),
		Consultations:  handlers.NewConsultationsHandler(svc),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, users),
	})
	return &testServer{app: app, tokens: tokens, store: store}
}

func (s *testServer) do(t *testing.T, method, path, subjectID string, subject domain.SubjectType, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if subjectID != "" {
		token, _, err := s.tokens.GenerateToken(subjectID, subject)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func TestConsultationLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := srv.do(t, nethttp.MethodPost, "/consultations", "member", domain.SubjectTypeUser,
		`{"consultation_type":"billing","consultation_content":"Invoice is wrong"}`)
	require.Equal(t, nethttp.StatusCreated, status)
	data := body["data"].(map[string]any)
	id := data["id"].(string)
	ticket := data["ticket"].(string)
	assert.True(t, strings.HasPrefix(ticket, domain.TicketPrefix))
	assert.Equal(t, "awaiting", data["status"])

	status, _ = srv.do(t, nethttp.MethodGet, "/consultations/"+id, "member", domain.SubjectTypeUser, "")
	assert.Equal(t, nethttp.StatusOK, status)

	status, body = srv.do(t, nethttp.MethodGet, "/consultations/"+id, "other", domain.SubjectTypeUser, "")
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, _ = srv.do(t, nethttp.MethodPost, "/admin/consultations/"+id+"/response", "member", domain.SubjectTypeUser,
		`{"response":"hi"}`)
	assert.Equal(t, nethttp.StatusForbidden, status)

	status, body = srv.do(t, nethttp.MethodPost, "/admin/consultations/"+id+"/response", "boss", domain.SubjectTypeAdmin,
		`{"response":"Refund issued."}`)
	require.Equal(t, nethttp.StatusOK, status)
	data = body["data"].(map[string]any)
	assert.Equal(t, "responded", data["status"])
	assert.Equal(t, "Refund issued.", data["admin_response"])

	status, body = srv.do(t, nethttp.MethodPost, "/admin/consultations/"+id+"/response", "boss", domain.SubjectTypeAdmin,
		`{"response":"Second try"}`)
	assert.Equal(t, nethttp.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	stored, err := srv.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Refund issued.", *stored.AdminResponse)

	status, _ = srv.do(t, nethttp.MethodGet, "/consultations/"+id, "boss", domain.SubjectTypeAdmin, "")
	assert.Equal(t, nethttp.StatusOK, status)
}

func TestCreateValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := srv.do(t, nethttp.MethodPost, "/consultations", "member", domain.SubjectTypeUser,
		`{"consultation_type":"  "}`)
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = srv.do(t, nethttp.MethodPost, "/consultations", "", "", `{}`)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestRespondUnknownConsultation(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.do(t, nethttp.MethodPost, "/admin/consultations/missing/response", "boss", domain.SubjectTypeAdmin,
		`{"response":"hello"}`)
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.do(t, nethttp.MethodGet, "/nope", "", "", "")
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.do(t, nethttp.MethodGet, "/health/ready", "", "", "")
	require.Equal(t, nethttp.StatusOK, status)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ready", deps["mailbox"])

	down := newTestServer(t, errors.New("connection refused"))
	status, body = down.do(t, nethttp.MethodGet, "/health/ready", "", "", "")
	assert.Equal(t, nethttp.StatusServiceUnavailable, status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", errorCode(body))

	status, _ = srv.do(t, nethttp.MethodGet, "/health/live", "", "", "")
	assert.Equal(t, nethttp.StatusOK, status)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.do(t, nethttp.MethodGet, "/health/live", "", "", "")

	req := httptest.NewRequest(nethttp.MethodGet, "/metrics", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "consultd_http_requests_total")
}
