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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/crmadmin/internal/dataprovider"
	"github.com/hitoshi/crmadmin/internal/metrics"
	"github.com/hitoshi/crmadmin/internal/middleware"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
	"github.com/hitoshi/crmadmin/internal/record"
)

// mockSessionResolver はRouterテスト用のSessionResolverモック。
type mockSessionResolver struct {
	sessions map[string]*model.Session
	tokens   map[string]*model.Session
}

func (m *mockSessionResolver) ResolveSecret(ctx context.Context, secret string) (*model.Session, error) {
	return m.sessions[secret], nil
}

func (m *mockSessionResolver) ResolveJWT(ctx context.Context, token string) (*model.Session, error) {
	return m.tokens[token], nil
}

const (
	validSecret = "valid-secret"
	validJWT    = "valid.jwt.token"
	testCSRF    = "test-csrf-token"
)

type testRouterOptions struct {
	provider *mockDataProvider
	health   HealthChecker
	gatherer prometheus.Gatherer
	bulk     int
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(t *testing.T, opts testRouterOptions) http.Handler {
	t.Helper()

	session := &model.Session{
		ID:        "s-1",
		Secret:    validSecret,
		UserID:    "user-test-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	resolver := &mockSessionResolver{
		sessions: map[string]*model.Session{validSecret: session},
		tokens:   map[string]*model.Session{validJWT: {ID: "s-1", UserID: "user-test-1"}},
	}

	provider := opts.provider
	if provider == nil {
		provider = &mockDataProvider{}
	}
	bulk := opts.bulk
	if bulk == 0 {
		bulk = 10
	}
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, bulk))
	t.Cleanup(limiter.Stop)

	return NewRouter(&RouterDeps{
		SessionResolver:   resolver,
		CORSAllowedOrigin: "http://localhost:3000",
		CSRFConfig:        middleware.CSRFConfig{},
		RateLimiter:       limiter,
		AuthProvider: &mockAuthProvider{
			loginFn: func(ctx context.Context, currentSecret, email, password string) (*model.Session, error) {
				return session, nil
			},
			checkAuthFn: func(ctx context.Context, secret string) error {
				if secret != validSecret {
					return model.NewUnauthorizedError()
				}
				return nil
			},
		},
		SessionService: &mockSessionService{
			createJWTFn: func(ctx context.Context) (string, error) {
				return "jwt-for-" + principal.UserID(ctx), nil
			},
		},
		AuthConfig:    AuthHandlerConfig{CookieName: testCookieName, SessionMaxAge: 86400},
		DataProvider:  provider,
		HealthChecker: opts.health,
		Gatherer:      opts.gatherer,
	})
}

func withSession(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: validSecret})
	return req
}

func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRF})
	req.Header.Set("X-CSRF-Token", testCSRF)
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouter_CSRFTokenEndpoint_NoAuthRequired(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/csrf-token status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["token"] == "" {
		t.Error("expected non-empty CSRF token")
	}
}

func TestNewRouter_Health(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{health: &mockHealthChecker{err: errors.New("down")}})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_Metrics_OnlyWithGatherer(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})
	if w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil)); w.Code == http.StatusOK {
		t.Error("/metrics should not be served without a gatherer")
	}

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)
	router = createTestRouter(t, testRouterOptions{gatherer: reg})
	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_Login_RequiresCSRF(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})
	body := `{"email":"ann@example.com","password":"password1"}`

	w := serve(router, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	if w.Code != http.StatusForbidden {
		t.Errorf("POST /auth/login (no CSRF) status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = serve(router, withCSRF(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))))
	if w.Code != http.StatusOK {
		t.Errorf("POST /auth/login (with CSRF) status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_ProtectedRoute_NoSession_Returns401(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	for _, path := range []string{"/auth/check", "/auth/identity", "/auth/sessions", "/api/contacts", "/api/contacts/c1"} {
		w := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s (no session) status = %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestNewRouter_ProtectedRoute_ClearsMarkerCookieOn401(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: "expired"})
	req.AddCookie(&http.Cookie{Name: middleware.MarkerCookieName, Value: "user-test-1"})
	w := serve(router, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	marker := findCookie(w.Result(), middleware.MarkerCookieName)
	if marker == nil || marker.MaxAge >= 0 {
		t.Errorf("marker cookie should be cleared, got %+v", marker)
	}
}

func TestNewRouter_ProtectedRoute_WithSession_GET_Succeeds(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	for _, path := range []string{"/auth/check", "/api/contacts", "/api/contacts/c1", "/api/contacts/many?ids=c1"} {
		w := serve(router, withSession(httptest.NewRequest(http.MethodGet, path, nil)))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestNewRouter_ProtectedRoute_POST_RequiresCSRF(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/contacts", strings.NewReader(`{"firstName":"Ann"}`)))
	w := serve(router, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("POST /api/contacts (no CSRF) status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestNewRouter_ProtectedRoute_POST_WithCSRF_Succeeds(t *testing.T) {
	var gotUser string
	provider := &mockDataProvider{
		createFn: func(ctx context.Context, name string, data map[string]any) (record.Record, error) {
			gotUser = principal.UserID(ctx)
			return record.Record{"id": "c1"}, nil
		},
	}
	router := createTestRouter(t, testRouterOptions{provider: provider})

	req := withCSRF(withSession(httptest.NewRequest(http.MethodPost, "/api/contacts", strings.NewReader(`{"firstName":"Ann"}`))))
	w := serve(router, req)

	if w.Code != http.StatusCreated {
		t.Errorf("POST /api/contacts status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotUser != "user-test-1" {
		t.Errorf("principal user = %q, want %q", gotUser, "user-test-1")
	}
}

func TestNewRouter_Bearer_SkipsCSRF(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := httptest.NewRequest(http.MethodPost, "/auth/jwt", nil)
	req.Header.Set("Authorization", "Bearer "+validJWT)
	w := serve(router, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("POST /auth/jwt (bearer) status = %d, want %d", w.Code, http.StatusCreated)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["jwt"] != "jwt-for-user-test-1" {
		t.Errorf("jwt = %q", body["jwt"])
	}
}

func TestNewRouter_ResourceRoutes_AllEndpoints(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{http.MethodGet, "/api/contacts", "", http.StatusOK},
		{http.MethodPost, "/api/contacts", `{"firstName":"Ann"}`, http.StatusCreated},
		{http.MethodPut, "/api/contacts?ids=c1,c2", `{"status":"x"}`, http.StatusOK},
		{http.MethodDelete, "/api/contacts?ids=c1,c2", "", http.StatusOK},
		{http.MethodGet, "/api/contacts/many?ids=c1", "", http.StatusOK},
		{http.MethodGet, "/api/contacts/reference?target=companyId&id=co1", "", http.StatusOK},
		{http.MethodPost, "/api/contacts/duplicate", "", http.StatusOK},
		{http.MethodGet, "/api/contacts/c1", "", http.StatusOK},
		{http.MethodPut, "/api/contacts/c1", `{"lastName":"Lee"}`, http.StatusOK},
		{http.MethodDelete, "/api/contacts/c1", "", http.StatusOK},
		{http.MethodPost, "/api/contacts/c1/duplicate", "", http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			w := serve(router, withCSRF(withSession(req)))

			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_DuplicateCollection_BulkRateLimited(t *testing.T) {
	provider := &mockDataProvider{
		duplicateCollectionFn: func(ctx context.Context, name string) (*dataprovider.DuplicateReport, error) {
			return &dataprovider.DuplicateReport{}, nil
		},
	}
	router := createTestRouter(t, testRouterOptions{provider: provider, bulk: 1})

	first := serve(router, withCSRF(withSession(httptest.NewRequest(http.MethodPost, "/api/contacts/duplicate", nil))))
	if first.Code != http.StatusOK {
		t.Fatalf("first duplicate status = %d, want %d", first.Code, http.StatusOK)
	}

	second := serve(router, withCSRF(withSession(httptest.NewRequest(http.MethodPost, "/api/contacts/duplicate", nil))))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second duplicate status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
}
