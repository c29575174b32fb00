// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
)

// SessionResolver はセッションシークレットまたはJWTから有効なセッションを引く。
// 見つからない場合は nil, nil を返す。auth.Service が実装する。
type SessionResolver interface {
	ResolveSecret(ctx context.Context, secret string) (*model.Session, error)
	ResolveJWT(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookie または Authorization: Bearer <JWT> から
// セッションを読み取り、有効性を検証するミドルウェアを返す。
// セッションシークレットとユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(resolver SessionResolver, cookieName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := resolveSession(r, resolver, cookieName)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			recordLogUserID(r.Context(), session.UserID)
			ctx := principal.With(r.Context(), session.Secret, session.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveSession はCookieを優先し、無ければBearerトークンからセッションを引く。
func resolveSession(r *http.Request, resolver SessionResolver, cookieName string) (*model.Session, error) {
	if secret := SessionSecretFromRequest(r, cookieName); secret != "" {
		return resolver.ResolveSecret(r.Context(), secret)
	}
	if token := bearerToken(r); token != "" {
		return resolver.ResolveJWT(r.Context(), token)
	}
	return nil, nil
}

// SessionSecretFromRequest はセッションCookieの値を返す。無い場合は空文字列。
func SessionSecretFromRequest(r *http.Request, cookieName string) string {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID := principal.UserID(ctx)
	if userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return principal.WithUserID(ctx, userID)
}
