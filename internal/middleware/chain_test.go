package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/crmadmin/internal/model"
)

// newChainRouter はアプリ本体と同じ順序でミドルウェアを積んだルーターを返す。
// AuthErrorHook → CSRF → Session → RateLimit(General)
func newChainRouter(t *testing.T) http.Handler {
	t.Helper()
	resolver := &mockSessionResolver{
		secrets: map[string]*model.Session{
			"chain-secret": {ID: "s-1", Secret: "chain-secret", UserID: "user-chain"},
		},
		tokens: map[string]*model.Session{
			"chain-jwt": {ID: "s-1", Secret: "chain-secret", UserID: "user-chain"},
		},
	}
	limiter := NewRateLimiter(NewRateLimiterConfig(120, 10))
	t.Cleanup(limiter.Stop)

	csrf := CSRFConfig{}
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(NewAuthErrorHook(MarkerCookieConfig{}))
		r.Use(NewCSRFMiddleware(csrf))
		r.Get("/api/csrf-token", NewCSRFTokenHandler(csrf).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(NewSessionMiddleware(resolver, testCookieName))
			r.Use(limiter.GeneralMiddleware())

			echo := func(w http.ResponseWriter, r *http.Request) {
				userID, _ := UserIDFromContext(r.Context())
				json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
			}
			r.Get("/api/contacts", echo)
			r.Post("/api/contacts", echo)
		})
	})
	return r
}

func TestMiddlewareChain(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		session    bool
		bearer     bool
		csrf       bool
		wantStatus int
		wantUser   string
		wantMarker bool
	}{
		{"csrf token without auth", http.MethodGet, "/api/csrf-token", false, false, false, http.StatusOK, "", false},
		{"list with session", http.MethodGet, "/api/contacts", true, false, false, http.StatusOK, "user-chain", false},
		{"list without session", http.MethodGet, "/api/contacts", false, false, false, http.StatusUnauthorized, "", true},
		{"create with session and csrf", http.MethodPost, "/api/contacts", true, false, true, http.StatusOK, "user-chain", false},
		{"create without csrf", http.MethodPost, "/api/contacts", true, false, false, http.StatusForbidden, "", true},
		{"create without session", http.MethodPost, "/api/contacts", false, false, true, http.StatusUnauthorized, "", true},
		{"create with bearer only", http.MethodPost, "/api/contacts", false, true, false, http.StatusOK, "user-chain", false},
	}

	router := newChainRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.session {
				req.AddCookie(&http.Cookie{Name: testCookieName, Value: "chain-secret"})
			}
			if tt.bearer {
				req.Header.Set("Authorization", "Bearer chain-jwt")
			}
			if tt.csrf {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "chain-csrf"})
				req.Header.Set(csrfHeaderName, "chain-csrf")
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantUser != "" {
				var body map[string]string
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if body["user_id"] != tt.wantUser {
					t.Errorf("user_id = %q, want %q", body["user_id"], tt.wantUser)
				}
			}

			cleared := false
			for _, c := range w.Result().Cookies() {
				if c.Name == MarkerCookieName && c.MaxAge < 0 {
					cleared = true
				}
			}
			if cleared != tt.wantMarker {
				t.Errorf("marker cookie cleared = %v, want %v", cleared, tt.wantMarker)
			}
		})
	}
}
