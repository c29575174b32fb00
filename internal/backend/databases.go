package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
	"github.com/hitoshi/crmadmin/internal/repository"
)

// DefaultListLimit は件数指定のない一覧取得で返す最大件数。
const DefaultListLimit = 25

// MaxListLimit は一覧取得で指定できる最大件数。
const MaxListLimit = 5000

// DatabaseServiceConfig はDatabaseServiceの設定。
type DatabaseServiceConfig struct {
	DefaultLimit int
}

// DatabaseService はリポジトリ層の上にドキュメントデータベースを実装する。
// ドキュメント単位の権限（$permissions）をcontextの呼び出し元ユーザーに対して評価する。
type DatabaseService struct {
	docs   repository.DocumentRepository
	attrs  repository.AttributeRepository
	config DatabaseServiceConfig
	now    func() time.Time
	newID  func() string
}

// NewDatabaseService はDatabaseServiceを生成する。
func NewDatabaseService(docs repository.DocumentRepository, attrs repository.AttributeRepository, config DatabaseServiceConfig) *DatabaseService {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultListLimit
	}
	return &DatabaseService{
		docs:   docs,
		attrs:  attrs,
		config: config,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// ListDocuments は呼び出し元が読み取り可能なドキュメントを返す。
// Limit未指定時は既定件数で打ち切り、Total には条件に一致する全件数を返す。
func (s *DatabaseService) ListDocuments(ctx context.Context, databaseID, collectionID string, q model.DocumentQuery) (*model.DocumentList, error) {
	if q.Limit <= 0 {
		q.Limit = s.config.DefaultLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	list, err := s.docs.List(ctx, databaseID, collectionID, model.ReadRoles(principal.UserID(ctx)), q)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return list, nil
}

// GetDocument は指定IDのドキュメントを返す。
// 存在しない場合と読み取り権限がない場合はどちらも DOCUMENT_NOT_FOUND を返す。
func (s *DatabaseService) GetDocument(ctx context.Context, databaseID, collectionID, documentID string) (*model.Document, error) {
	doc, err := s.docs.FindByID(ctx, databaseID, collectionID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil || !model.Allows(doc.Permissions, model.ActionRead, principal.UserID(ctx)) {
		return nil, model.NewDocumentNotFoundError(documentID)
	}
	return doc, nil
}

// CreateDocument はドキュメントを作成する。
// permissions が nil の場合は作成者本人に read / update / delete を付与する。
func (s *DatabaseService) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*model.Document, error) {
	userID := principal.UserID(ctx)
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if documentID == "" || documentID == UniqueID {
		documentID = s.newID()
	}
	if permissions == nil {
		permissions = model.OwnerPermissions(userID)
	}
	if err := checkGrantable(permissions, userID); err != nil {
		return nil, err
	}

	clean := stripSystemFields(data)
	if err := s.validate(ctx, databaseID, collectionID, clean); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc := &model.Document{
		ID:           documentID,
		CollectionID: collectionID,
		DatabaseID:   databaseID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Permissions:  permissions,
		Data:         clean,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDocumentInvalidStructureError(fmt.Sprintf("ID %s は既に使用されています", documentID))
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return doc, nil
}

// UpdateDocument はドキュメントを部分更新する。data のキーのみを上書きする。
// permissions が nil の場合は既存の権限を維持する。
func (s *DatabaseService) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*model.Document, error) {
	userID := principal.UserID(ctx)
	doc, err := s.authorize(ctx, databaseID, collectionID, documentID, model.ActionUpdate)
	if err != nil {
		return nil, err
	}

	for k, v := range stripSystemFields(data) {
		doc.Data[k] = v
	}
	if permissions != nil {
		if err := checkGrantable(permissions, userID); err != nil {
			return nil, err
		}
		doc.Permissions = permissions
	}
	if err := s.validate(ctx, databaseID, collectionID, doc.Data); err != nil {
		return nil, err
	}

	doc.UpdatedAt = s.now().UTC()
	if err := s.docs.Update(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewDocumentNotFoundError(documentID)
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return doc, nil
}

// DeleteDocument はドキュメントを削除する。
func (s *DatabaseService) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	if _, err := s.authorize(ctx, databaseID, collectionID, documentID, model.ActionDelete); err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, databaseID, collectionID, documentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewDocumentNotFoundError(documentID)
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// CreateStringAttribute はコレクションに文字列属性を追加する。
// 既に存在する場合は ATTRIBUTE_ALREADY_EXISTS を返す。
func (s *DatabaseService) CreateStringAttribute(ctx context.Context, databaseID, collectionID, key string, size int, required bool) (*model.Attribute, error) {
	if principal.UserID(ctx) == "" {
		return nil, model.NewUnauthorizedError()
	}
	if key == "" || model.IsSystemField(key) {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("属性名 %q は使用できません", key))
	}
	attr := &model.Attribute{
		CollectionID: collectionID,
		Key:          key,
		Type:         model.AttributeTypeString,
		Size:         size,
		Required:     required,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.attrs.Create(ctx, databaseID, attr); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAttributeAlreadyExistsError(key)
		}
		return nil, fmt.Errorf("failed to create attribute: %w", err)
	}
	slog.Info("attribute created",
		slog.String("database_id", databaseID),
		slog.String("collection_id", collectionID),
		slog.String("key", key),
	)
	return attr, nil
}

// authorize はドキュメントを取得し、呼び出し元が action を実行できるか検証する。
// 読み取りすらできない場合は存在を隠すため DOCUMENT_NOT_FOUND を返す。
func (s *DatabaseService) authorize(ctx context.Context, databaseID, collectionID, documentID, action string) (*model.Document, error) {
	userID := principal.UserID(ctx)
	doc, err := s.docs.FindByID(ctx, databaseID, collectionID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil || !model.Allows(doc.Permissions, model.ActionRead, userID) {
		return nil, model.NewDocumentNotFoundError(documentID)
	}
	if !model.Allows(doc.Permissions, action, userID) {
		return nil, model.NewForbiddenError()
	}
	return doc, nil
}

func (s *DatabaseService) validate(ctx context.Context, databaseID, collectionID string, data map[string]any) error {
	attrs, err := s.attrs.ListByCollection(ctx, databaseID, collectionID)
	if err != nil {
		return fmt.Errorf("failed to list attributes: %w", err)
	}
	return model.ValidateAttributes(attrs, data)
}

// checkGrantable は呼び出し元が付与できる権限か検証する。
// 付与できるロールは any / users / 本人のみ。
func checkGrantable(permissions []string, userID string) error {
	for _, p := range permissions {
		_, role, ok := model.ParsePermission(p)
		if !ok {
			return model.NewInvalidRequestError(fmt.Sprintf("権限の形式が不正です: %s", p))
		}
		switch role {
		case model.RoleAny, model.RoleUsers, model.UserRole(userID):
		default:
			return model.NewForbiddenError()
		}
	}
	return nil
}

func stripSystemFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if model.IsSystemField(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// compile-time interface check
var _ Databases = (*DatabaseService)(nil)
