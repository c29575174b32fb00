// Package memory はテストと一時環境向けのインメモリリポジトリ実装を提供する。
// PostgreSQL実装と同じ契約（未検出時のnil返却、ErrDuplicate / ErrNotFound）に従う。
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/repository"
)

// compile-time interface checks
var (
	_ repository.UserRepository      = (*UserRepo)(nil)
	_ repository.SessionRepository   = (*SessionRepo)(nil)
	_ repository.DocumentRepository  = (*DocumentRepo)(nil)
	_ repository.AttributeRepository = (*AttributeRepo)(nil)
)

// Store は全リポジトリの状態を1つのロックで保持する。
type Store struct {
	mu         sync.RWMutex
	now        func() time.Time
	users      map[string]*model.User
	sessions   map[string]*model.Session
	documents  map[docKey]*model.Document
	attributes map[attrKey]*model.Attribute
}

type docKey struct {
	databaseID   string
	collectionID string
	id           string
}

type attrKey struct {
	databaseID   string
	collectionID string
	key          string
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		now:        time.Now,
		users:      make(map[string]*model.User),
		sessions:   make(map[string]*model.Session),
		documents:  make(map[docKey]*model.Document),
		attributes: make(map[attrKey]*model.Attribute),
	}
}

// SetClock はセッション期限判定に使う現在時刻関数を差し替える。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Sessions はSessionRepositoryとしてのビューを返す。
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s: s} }

// Documents はDocumentRepositoryとしてのビューを返す。
func (s *Store) Documents() *DocumentRepo { return &DocumentRepo{s: s} }

// Attributes はAttributeRepositoryとしてのビューを返す。
func (s *Store) Attributes() *AttributeRepo { return &AttributeRepo{s: s} }

// UserRepo はインメモリのユーザーリポジトリ。
type UserRepo struct{ s *Store }

// FindByID は指定IDのユーザーを取得する。
func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。
func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	r.s.users[user.ID] = cloneUser(user)
	return nil
}

// DeleteByID はユーザーと紐づくセッションを削除する。
func (r *UserRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	delete(r.s.users, id)
	for sid, sess := range r.s.sessions {
		if sess.UserID == id {
			delete(r.s.sessions, sid)
		}
	}
	return nil
}

// SessionRepo はインメモリのセッションリポジトリ。
type SessionRepo struct{ s *Store }

// Create はセッションを作成する。
func (r *SessionRepo) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.ID]; ok {
		return repository.ErrDuplicate
	}
	cp := *session
	cp.Current = false
	r.s.sessions[session.ID] = &cp
	return nil
}

// FindByID は有効なセッションをIDで取得する。
func (r *SessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if sess, ok := r.s.sessions[id]; ok && sess.ExpiresAt.After(r.s.now()) {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

// FindBySecret は有効なセッションをシークレット値で取得する。
func (r *SessionRepo) FindBySecret(_ context.Context, secret string) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, sess := range r.s.sessions {
		if sess.Secret == secret && sess.ExpiresAt.After(r.s.now()) {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

// ListByUserID はユーザーの有効なセッションを作成日時順に返す。
func (r *SessionRepo) ListByUserID(_ context.Context, userID string) ([]*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Session
	now := r.s.now()
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.ExpiresAt.After(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteByID はセッションを削除する。
func (r *SessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
	}
	delete(r.s.sessions, id)
	return nil
}

// DeleteByUserID はユーザーの全セッションを削除する。
func (r *SessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
func (r *SessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	now := r.s.now()
	for id, sess := range r.s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// DocumentRepo はインメモリのドキュメントリポジトリ。
type DocumentRepo struct{ s *Store }

// FindByID は指定IDのドキュメントを取得する。
func (r *DocumentRepo) FindByID(_ context.Context, databaseID, collectionID, id string) (*model.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if doc, ok := r.s.documents[docKey{databaseID, collectionID, id}]; ok {
		return cloneDocument(doc), nil
	}
	return nil, nil
}

// List は条件に一致するドキュメントと総件数を返す。
func (r *DocumentRepo) List(_ context.Context, databaseID, collectionID string, readRoles []string, q model.DocumentQuery) (*model.DocumentList, error) {
	r.s.mu.RLock()
	var matched []*model.Document
	for k, doc := range r.s.documents {
		if k.databaseID != databaseID || k.collectionID != collectionID {
			continue
		}
		if len(readRoles) > 0 && !overlaps(doc.Permissions, readRoles) {
			continue
		}
		if !matchesFilters(doc.Data, q.Filters) {
			continue
		}
		matched = append(matched, cloneDocument(doc))
	}
	r.s.mu.RUnlock()

	sortDocuments(matched, q.OrderBy, q.OrderDesc)

	list := &model.DocumentList{Total: len(matched), Documents: []*model.Document{}}
	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	list.Documents = append(list.Documents, matched[start:end]...)
	return list, nil
}

// Create はドキュメントを作成する。
func (r *DocumentRepo) Create(_ context.Context, doc *model.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := docKey{doc.DatabaseID, doc.CollectionID, doc.ID}
	if _, ok := r.s.documents[k]; ok {
		return repository.ErrDuplicate
	}
	r.s.documents[k] = cloneDocument(doc)
	return nil
}

// Update はドキュメントのデータと権限を置き換える。
func (r *DocumentRepo) Update(_ context.Context, doc *model.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := docKey{doc.DatabaseID, doc.CollectionID, doc.ID}
	cur, ok := r.s.documents[k]
	if !ok {
		return fmt.Errorf("document %s: %w", doc.ID, repository.ErrNotFound)
	}
	next := cloneDocument(doc)
	next.CreatedAt = cur.CreatedAt
	r.s.documents[k] = next
	return nil
}

// Delete はドキュメントを削除する。
func (r *DocumentRepo) Delete(_ context.Context, databaseID, collectionID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := docKey{databaseID, collectionID, id}
	if _, ok := r.s.documents[k]; !ok {
		return fmt.Errorf("document %s: %w", id, repository.ErrNotFound)
	}
	delete(r.s.documents, k)
	return nil
}

// AttributeRepo はインメモリの属性定義リポジトリ。
type AttributeRepo struct{ s *Store }

// Create は属性を定義する。
func (r *AttributeRepo) Create(_ context.Context, databaseID string, attr *model.Attribute) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := attrKey{databaseID, attr.CollectionID, attr.Key}
	if _, ok := r.s.attributes[k]; ok {
		return repository.ErrDuplicate
	}
	cp := *attr
	r.s.attributes[k] = &cp
	return nil
}

// ListByCollection はコレクションの属性定義をキー順に返す。
func (r *AttributeRepo) ListByCollection(_ context.Context, databaseID, collectionID string) ([]*model.Attribute, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Attribute
	for k, a := range r.s.attributes {
		if k.databaseID == databaseID && k.collectionID == collectionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func cloneUser(u *model.User) *model.User {
	cp := *u
	cp.Labels = append([]string(nil), u.Labels...)
	return &cp
}

func cloneDocument(d *model.Document) *model.Document {
	cp := *d
	cp.Permissions = append([]string(nil), d.Permissions...)
	cp.Data = make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		cp.Data[k] = v
	}
	return &cp
}

func overlaps(perms, roles []string) bool {
	for _, p := range perms {
		for _, r := range roles {
			if p == r {
				return true
			}
		}
	}
	return false
}

// matchesFilters はJSONとして等価かどうかで条件を評価する。
// 数値の型差（int / float64）を吸収するためにJSON表現に正規化して比較する。
func matchesFilters(data map[string]any, filters []model.Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalize(v), normalize(f.Value)) {
			return false
		}
	}
	return true
}

func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func sortDocuments(docs []*model.Document, orderBy string, desc bool) {
	// compare は昇順での比較結果を返す。
	compare := func(a, b *model.Document) int {
		switch orderBy {
		case "", model.FieldCreatedAt:
			return a.CreatedAt.Compare(b.CreatedAt)
		case model.FieldUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case model.FieldID:
			return strings.Compare(a.ID, b.ID)
		default:
			return strings.Compare(fieldString(a, orderBy), fieldString(b, orderBy))
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c := compare(docs[i], docs[j])
		if c == 0 {
			c = strings.Compare(docs[i].ID, docs[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func fieldString(d *model.Document, field string) string {
	if v, ok := d.Data[field]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
