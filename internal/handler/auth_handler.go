// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/crmadmin/internal/authprovider"
	"github.com/hitoshi/crmadmin/internal/middleware"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
)

// maxBodyBytes はJSONリクエストボディの上限。
const maxBodyBytes = 1 << 20

// AuthProviderInterface は認証ハンドラーが必要とする認証フローのインターフェース。
// authprovider.Provider が実装する。
type AuthProviderInterface interface {
	Signup(ctx context.Context, currentSecret, name, email, password string) (*model.Session, error)
	Login(ctx context.Context, currentSecret, email, password string) (*model.Session, error)
	Logout(ctx context.Context, secret string)
	CheckAuth(ctx context.Context, secret string) error
	GetIdentity(ctx context.Context, secret string) (*authprovider.Identity, error)
	GetPermissions(ctx context.Context, secret string) []string
}

// SessionServiceInterface はセッション一覧とJWT発行のインターフェース。
// auth.Service が実装する。
type SessionServiceInterface interface {
	ListSessions(ctx context.Context) ([]*model.Session, error)
	CreateJWT(ctx context.Context) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieName    string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

func (c AuthHandlerConfig) marker() middleware.MarkerCookieConfig {
	return middleware.MarkerCookieConfig{
		CookieSecure: c.CookieSecure,
		CookieDomain: c.CookieDomain,
	}
}

// AuthHandler はログイン・ログアウトなど認証関連のHTTPハンドラー。
type AuthHandler struct {
	provider AuthProviderInterface
	sessions SessionServiceInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(provider AuthProviderInterface, sessions SessionServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		sessions: sessions,
		config:   config,
	}
}

// credentialsRequest はサインアップ・ログインのリクエストボディ。
type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse はサインアップ・ログイン成功時のレスポンス。
type loginResponse struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// sessionResponse はセッション一覧の1件。シークレットは含めない。
type sessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Signup はアカウントを作成してログインする。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, err := h.provider.Signup(r.Context(), h.currentSecret(r), req.Name, req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setLoginCookies(w, session)
	writeJSON(w, http.StatusCreated, loginResponse{UserID: session.UserID, ExpiresAt: session.ExpiresAt})
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, err := h.provider.Login(r.Context(), h.currentSecret(r), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setLoginCookies(w, session)
	writeJSON(w, http.StatusOK, loginResponse{UserID: session.UserID, ExpiresAt: session.ExpiresAt})
}

// Logout は全セッションを破棄し、Cookieを削除する。セッションが無くても成功する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if secret := h.currentSecret(r); secret != "" {
		h.provider.Logout(r.Context(), secret)
	}

	h.clearSessionCookie(w)
	middleware.ClearMarkerCookie(w, h.config.marker())
	w.WriteHeader(http.StatusNoContent)
}

// Check は現在のセッションが有効かどうかを返す。
// GET /auth/check
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.CheckAuth(r.Context(), principal.Secret(r.Context())); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

// Identity はログイン中ユーザーの表示情報を返す。
// GET /auth/identity
func (h *AuthHandler) Identity(w http.ResponseWriter, r *http.Request) {
	identity, err := h.provider.GetIdentity(r.Context(), principal.Secret(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// Permissions はログイン中ユーザーのラベル一覧を返す。
// GET /auth/permissions
func (h *AuthHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.GetPermissions(r.Context(), principal.Secret(r.Context())))
}

// Sessions はアカウントの有効なセッション一覧を返す。
// GET /auth/sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = sessionResponse{
			ID:        s.ID,
			UserID:    s.UserID,
			Current:   s.Current,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// JWT は現在のセッションに紐づく短命のJWTを発行する。
// POST /auth/jwt
func (h *AuthHandler) JWT(w http.ResponseWriter, r *http.Request) {
	token, err := h.sessions.CreateJWT(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"jwt": token})
}

func (h *AuthHandler) currentSecret(r *http.Request) string {
	return middleware.SessionSecretFromRequest(r, h.config.CookieName)
}

// setLoginCookies はセッションCookie（HTTP Only）とログイン状態マーカーを設定する。
func (h *AuthHandler) setLoginCookies(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    session.Secret,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	middleware.SetMarkerCookie(w, h.config.marker(), session.UserID, h.config.SessionMaxAge)
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// decodeJSONBody はリクエストボディをJSONとして読み込む。
// 失敗した場合は400を書き込み false を返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Debug("invalid request body", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ボディをJSONとして読み込めません"))
		return false
	}
	return true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
