// Package backend はドキュメントデータベースと認証サービスのクライアント側インターフェースを定義し、
// リポジトリ層の上にドキュメントデータベースを実装する。
// 呼び出し元の資格情報は principal パッケージでcontextに載せて渡す。
package backend

import (
	"context"

	"github.com/hitoshi/crmadmin/internal/model"
)

// UniqueID はドキュメントIDの自動採番を指示する予約値。
const UniqueID = "unique()"

// CurrentSession はセッションID引数で現在のセッションを指す予約値。
const CurrentSession = "current"

// Databases はドキュメントデータベースの操作インターフェース。
// 権限判定はcontextの呼び出し元ユーザーに対して行われる。
type Databases interface {
	ListDocuments(ctx context.Context, databaseID, collectionID string, q model.DocumentQuery) (*model.DocumentList, error)
	GetDocument(ctx context.Context, databaseID, collectionID, documentID string) (*model.Document, error)
	CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*model.Document, error)
	UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*model.Document, error)
	DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error
	CreateStringAttribute(ctx context.Context, databaseID, collectionID, key string, size int, required bool) (*model.Attribute, error)
}

// Account は認証サービスの操作インターフェース。
// Create と CreateEmailPasswordSession 以外はcontextのセッションシークレットで本人を特定する。
type Account interface {
	Create(ctx context.Context, userID, email, password, name string) (*model.User, error)
	CreateEmailPasswordSession(ctx context.Context, email, password string) (*model.Session, error)
	Get(ctx context.Context) (*model.User, error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	CreateJWT(ctx context.Context) (string, error)
}
