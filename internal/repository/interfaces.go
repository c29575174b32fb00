// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/crmadmin/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key")

// ErrNotFound は更新・削除対象の行が存在しないことを表す。
var ErrNotFound = errors.New("not found")

// UserRepository はアカウントデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。大文字小文字は区別しない。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindBySecret はCookieのシークレット値でセッションを取得する。期限切れの場合はnilを返す。
	FindBySecret(ctx context.Context, secret string) (*model.Session, error)
	// ListByUserID は指定ユーザーの有効なセッションを作成日時順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// DocumentRepository はドキュメントの永続化インターフェース。
// ドキュメントは (databaseID, collectionID, id) で一意に識別される。
type DocumentRepository interface {
	// FindByID は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, databaseID, collectionID, id string) (*model.Document, error)

	// List は条件に一致するドキュメントを返す。
	// readRoles が空でない場合は、いずれかのロールの読み取り権限を持つドキュメントに絞り込む。
	List(ctx context.Context, databaseID, collectionID string, readRoles []string, q model.DocumentQuery) (*model.DocumentList, error)

	// Create はドキュメントを作成する。IDが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, doc *model.Document) error

	// Update はドキュメントのデータと権限を置き換える。存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, doc *model.Document) error

	// Delete はドキュメントを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, databaseID, collectionID, id string) error
}

// AttributeRepository はコレクション属性定義の永続化インターフェース。
type AttributeRepository interface {
	// Create は属性を定義する。同じキーが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, databaseID string, attr *model.Attribute) error

	// ListByCollection はコレクションに定義された属性をキー順に返す。
	ListByCollection(ctx context.Context, databaseID, collectionID string) ([]*model.Attribute, error)
}
