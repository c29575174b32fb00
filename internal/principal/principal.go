// Package principal はリクエストの呼び出し元（セッションシークレットとユーザーID）をcontextで受け渡す。
package principal

import "context"

type contextKey int

const (
	secretKey contextKey = iota
	userIDKey
)

// WithSecret はセッションシークレットを格納したcontextを返す。
func WithSecret(ctx context.Context, secret string) context.Context {
	return context.WithValue(ctx, secretKey, secret)
}

// Secret はcontextからセッションシークレットを取り出す。未設定の場合は空文字列。
func Secret(ctx context.Context) string {
	v, _ := ctx.Value(secretKey).(string)
	return v
}

// WithUserID はユーザーIDを格納したcontextを返す。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID はcontextからユーザーIDを取り出す。未設定の場合は空文字列。
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// With はシークレットとユーザーIDの両方を格納したcontextを返す。
func With(ctx context.Context, secret, userID string) context.Context {
	return WithUserID(WithSecret(ctx, secret), userID)
}
