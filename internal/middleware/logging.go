package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewLoggingMiddleware はリクエストごとにJSON構造化ログを1行出力するミドルウェアを返す。
// 5xxはERROR、4xxはWARN、それ以外はINFOで記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			slot := new(string)

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), logUserKey{}, slot)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}
			// セッションミドルウェアは内側で動くため、そこで書き込まれたIDを使う
			if userID := loggedUserID(r, *slot); userID != "" {
				args = append(args, slog.String("user_id", userID))
			}

			logger.Log(r.Context(), levelForStatus(status), "http_request", args...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

type logUserKey struct{}

// recordLogUserID は外側のロギングミドルウェアにユーザーIDを伝える。
func recordLogUserID(ctx context.Context, userID string) {
	if slot, ok := ctx.Value(logUserKey{}).(*string); ok {
		*slot = userID
	}
}

func loggedUserID(r *http.Request, recorded string) string {
	if recorded != "" {
		return recorded
	}
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		return ""
	}
	return userID
}
