package middleware

import (
	"net/http"

	"github.com/hitoshi/crmadmin/internal/model"
)

// MarkerCookieName はログイン状態をフロントエンドに示すCookie名。
// 値は表示用で、認証には使わない。
const MarkerCookieName = "user"

// MarkerCookieConfig はログイン状態マーカーCookieの設定。
type MarkerCookieConfig struct {
	CookieSecure bool
	CookieDomain string
}

// SetMarkerCookie はログイン状態マーカーCookieを設定する。
// フロントエンドから読み取れるよう HttpOnly にしない。
func SetMarkerCookie(w http.ResponseWriter, config MarkerCookieConfig, userID string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     MarkerCookieName,
		Value:    userID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearMarkerCookie はログイン状態マーカーCookieを削除する。
func ClearMarkerCookie(w http.ResponseWriter, config MarkerCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     MarkerCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: false,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// authErrorWriter は401/403の書き込み時にマーカーCookieを削除する。
type authErrorWriter struct {
	http.ResponseWriter
	config      MarkerCookieConfig
	wroteHeader bool
}

func (w *authErrorWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if model.IsAuthStatus(code) {
			ClearMarkerCookie(w.ResponseWriter, w.config)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *authErrorWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// NewAuthErrorHook は401/403レスポンスでログイン状態マーカーを削除するミドルウェアを返す。
// authprovider.Provider.CheckError をHTTPレスポンス上で行うもの。
// フロントエンドはマーカーが消えたことで再ログインが必要だと判断する。
func NewAuthErrorHook(config MarkerCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&authErrorWriter{ResponseWriter: w, config: config}, r)
		})
	}
}
