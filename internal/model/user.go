// Package model はドメインモデルを定義する。
package model

import "time"

// User はCRMを利用するアカウントを表す。
// Labels はロールラベルで、そのまま権限リストとして扱う。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Labels       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// ID は一覧・削除に使う公開識別子、Secret はCookieに載せるベアラ値。
type Session struct {
	ID        string
	Secret    string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Current   bool
}
