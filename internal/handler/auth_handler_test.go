package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/crmadmin/internal/authprovider"
	"github.com/hitoshi/crmadmin/internal/middleware"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
)

// --- モック定義 ---

type mockAuthProvider struct {
	signupFn         func(ctx context.Context, currentSecret, name, email, password string) (*model.Session, error)
	loginFn          func(ctx context.Context, currentSecret, email, password string) (*model.Session, error)
	logoutFn         func(ctx context.Context, secret string)
	checkAuthFn      func(ctx context.Context, secret string) error
	getIdentityFn    func(ctx context.Context, secret string) (*authprovider.Identity, error)
	getPermissionsFn func(ctx context.Context, secret string) []string
}

func (m *mockAuthProvider) Signup(ctx context.Context, currentSecret, name, email, password string) (*model.Session, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, currentSecret, name, email, password)
	}
	return nil, nil
}

func (m *mockAuthProvider) Login(ctx context.Context, currentSecret, email, password string) (*model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, currentSecret, email, password)
	}
	return nil, nil
}

func (m *mockAuthProvider) Logout(ctx context.Context, secret string) {
	if m.logoutFn != nil {
		m.logoutFn(ctx, secret)
	}
}

func (m *mockAuthProvider) CheckAuth(ctx context.Context, secret string) error {
	if m.checkAuthFn != nil {
		return m.checkAuthFn(ctx, secret)
	}
	return nil
}

func (m *mockAuthProvider) GetIdentity(ctx context.Context, secret string) (*authprovider.Identity, error) {
	if m.getIdentityFn != nil {
		return m.getIdentityFn(ctx, secret)
	}
	return nil, nil
}

func (m *mockAuthProvider) GetPermissions(ctx context.Context, secret string) []string {
	if m.getPermissionsFn != nil {
		return m.getPermissionsFn(ctx, secret)
	}
	return []string{}
}

type mockSessionService struct {
	listSessionsFn func(ctx context.Context) ([]*model.Session, error)
	createJWTFn    func(ctx context.Context) (string, error)
}

func (m *mockSessionService) ListSessions(ctx context.Context) ([]*model.Session, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx)
	}
	return nil, nil
}

func (m *mockSessionService) CreateJWT(ctx context.Context) (string, error) {
	if m.createJWTFn != nil {
		return m.createJWTFn(ctx)
	}
	return "", nil
}

const testCookieName = "crm_session_test"

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		CookieName:    testCookieName,
		CookieSecure:  true,
		SessionMaxAge: 86400,
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func withPrincipal(r *http.Request, secret, userID string) *http.Request {
	return r.WithContext(principal.With(r.Context(), secret, userID))
}

// --- テスト ---

func TestAuthHandler_Login_SetsSessionAndMarkerCookies(t *testing.T) {
	var gotEmail, gotPassword, gotCurrent string
	provider := &mockAuthProvider{
		loginFn: func(ctx context.Context, currentSecret, email, password string) (*model.Session, error) {
			gotCurrent, gotEmail, gotPassword = currentSecret, email, password
			return &model.Session{ID: "s-1", Secret: "new-secret", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"ann@example.com","password":"password1"}`))
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: "old-secret"})
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotEmail != "ann@example.com" || gotPassword != "password1" {
		t.Errorf("credentials = (%q, %q)", gotEmail, gotPassword)
	}
	if gotCurrent != "old-secret" {
		t.Errorf("current secret = %q, want %q", gotCurrent, "old-secret")
	}

	session := findCookie(resp, testCookieName)
	if session == nil {
		t.Fatal("session cookie not set")
	}
	if session.Value != "new-secret" {
		t.Errorf("session cookie value = %q, want %q", session.Value, "new-secret")
	}
	if !session.HttpOnly || !session.Secure {
		t.Error("session cookie should be HttpOnly and Secure")
	}
	if session.MaxAge != 86400 {
		t.Errorf("session cookie MaxAge = %d, want 86400", session.MaxAge)
	}

	marker := findCookie(resp, middleware.MarkerCookieName)
	if marker == nil || marker.Value != "user-1" {
		t.Errorf("marker cookie = %+v, want value user-1", marker)
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.UserID != "user-1" {
		t.Errorf("userId = %q, want %q", body.UserID, "user-1")
	}
}

func TestAuthHandler_Login_InvalidCredentials_Returns401(t *testing.T) {
	provider := &mockAuthProvider{
		loginFn: func(ctx context.Context, currentSecret, email, password string) (*model.Session, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"ann@example.com","password":"wrong"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if findCookie(w.Result(), testCookieName) != nil {
		t.Error("session cookie must not be set on failure")
	}
}

func TestAuthHandler_Login_InvalidBody_Returns400(t *testing.T) {
	provider := &mockAuthProvider{
		loginFn: func(ctx context.Context, currentSecret, email, password string) (*model.Session, error) {
			t.Fatal("provider should not be called")
			return nil, nil
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Signup_ValidationError_Returns400(t *testing.T) {
	provider := &mockAuthProvider{
		signupFn: func(ctx context.Context, currentSecret, name, email, password string) (*model.Session, error) {
			return nil, model.NewValidationError("パスワードは8文字以上で入力してください。")
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"short"}`))
	w := httptest.NewRecorder()

	h.Signup(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Signup_Success_Returns201(t *testing.T) {
	var gotName string
	provider := &mockAuthProvider{
		signupFn: func(ctx context.Context, currentSecret, name, email, password string) (*model.Session, error) {
			gotName = name
			return &model.Session{ID: "s-1", Secret: "secret", UserID: "user-1"}, nil
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"password1"}`))
	w := httptest.NewRecorder()

	h.Signup(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotName != "Ann" {
		t.Errorf("name = %q, want %q", gotName, "Ann")
	}
	if findCookie(w.Result(), testCookieName) == nil {
		t.Error("session cookie should be set after signup")
	}
}

func TestAuthHandler_Logout_ClearsCookies(t *testing.T) {
	var loggedOut string
	provider := &mockAuthProvider{
		logoutFn: func(ctx context.Context, secret string) { loggedOut = secret },
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: "secret-1"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if loggedOut != "secret-1" {
		t.Errorf("logout secret = %q, want %q", loggedOut, "secret-1")
	}
	for _, name := range []string{testCookieName, middleware.MarkerCookieName} {
		c := findCookie(resp, name)
		if c == nil || c.MaxAge >= 0 {
			t.Errorf("cookie %s should be cleared, got %+v", name, c)
		}
	}
}

func TestAuthHandler_Logout_WithoutSession_StillSucceeds(t *testing.T) {
	provider := &mockAuthProvider{
		logoutFn: func(ctx context.Context, secret string) {
			t.Fatal("Logout should not be called without a session")
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestAuthHandler_Check_UsesPrincipalSecret(t *testing.T) {
	var gotSecret string
	provider := &mockAuthProvider{
		checkAuthFn: func(ctx context.Context, secret string) error {
			gotSecret = secret
			return nil
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/check", nil), "secret-1", "user-1")
	w := httptest.NewRecorder()

	h.Check(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotSecret != "secret-1" {
		t.Errorf("secret = %q, want %q", gotSecret, "secret-1")
	}
}

func TestAuthHandler_Check_Unauthorized(t *testing.T) {
	provider := &mockAuthProvider{
		checkAuthFn: func(ctx context.Context, secret string) error {
			return model.NewUnauthorizedError()
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	w := httptest.NewRecorder()
	h.Check(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/check", nil), "gone", "user-1"))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Identity_ReturnsJSON(t *testing.T) {
	provider := &mockAuthProvider{
		getIdentityFn: func(ctx context.Context, secret string) (*authprovider.Identity, error) {
			return &authprovider.Identity{ID: "user-1", FullName: "Ann", Email: "ann@example.com"}, nil
		},
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	w := httptest.NewRecorder()
	h.Identity(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/identity", nil), "s", "user-1"))

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["fullName"] != "Ann" || body["id"] != "user-1" {
		t.Errorf("identity = %v", body)
	}
	if v, ok := body["avatar"]; !ok || v != nil {
		t.Errorf("avatar should be present and null, got %v", v)
	}
}

func TestAuthHandler_Permissions_ReturnsArray(t *testing.T) {
	provider := &mockAuthProvider{
		getPermissionsFn: func(ctx context.Context, secret string) []string { return []string{"admin"} },
	}
	h := NewAuthHandler(provider, &mockSessionService{}, testAuthConfig())

	w := httptest.NewRecorder()
	h.Permissions(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/permissions", nil), "s", "user-1"))

	var body []string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body) != 1 || body[0] != "admin" {
		t.Errorf("permissions = %v, want [admin]", body)
	}
}

func TestAuthHandler_Sessions_OmitsSecrets(t *testing.T) {
	sessions := &mockSessionService{
		listSessionsFn: func(ctx context.Context) ([]*model.Session, error) {
			return []*model.Session{
				{ID: "s-1", Secret: "top-secret", UserID: "user-1", Current: true},
				{ID: "s-2", Secret: "other-secret", UserID: "user-1"},
			}, nil
		},
	}
	h := NewAuthHandler(&mockAuthProvider{}, sessions, testAuthConfig())

	w := httptest.NewRecorder()
	h.Sessions(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/sessions", nil), "top-secret", "user-1"))

	if strings.Contains(w.Body.String(), "secret") {
		t.Errorf("response must not contain session secrets: %s", w.Body.String())
	}
	var body []sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body) != 2 || !body[0].Current || body[1].Current {
		t.Errorf("sessions = %+v", body)
	}
}

func TestAuthHandler_JWT_ReturnsToken(t *testing.T) {
	sessions := &mockSessionService{
		createJWTFn: func(ctx context.Context) (string, error) { return "header.payload.sig", nil },
	}
	h := NewAuthHandler(&mockAuthProvider{}, sessions, testAuthConfig())

	w := httptest.NewRecorder()
	h.JWT(w, withPrincipal(httptest.NewRequest(http.MethodPost, "/auth/jwt", nil), "s", "user-1"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["jwt"] != "header.payload.sig" {
		t.Errorf("jwt = %q", body["jwt"])
	}
}
