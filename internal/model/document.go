package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// システムフィールド名。ドキュメントのフラット表現でユーザーフィールドと共存する。
const (
	FieldID           = "$id"
	FieldCollectionID = "$collectionId"
	FieldDatabaseID   = "$databaseId"
	FieldCreatedAt    = "$createdAt"
	FieldUpdatedAt    = "$updatedAt"
	FieldPermissions  = "$permissions"
)

// SystemFields はドキュメント複製時に取り除くシステムフィールドの一覧。
var SystemFields = []string{
	FieldID,
	FieldCreatedAt,
	FieldUpdatedAt,
	FieldPermissions,
	FieldCollectionID,
	FieldDatabaseID,
}

// IsSystemField は $ で始まるシステムフィールド名かどうかを判定する。
func IsSystemField(key string) bool {
	return strings.HasPrefix(key, "$")
}

// Document はドキュメントストアに保存される1件のレコードを表す。
// Data にはユーザー定義フィールドのみを保持する。
type Document struct {
	ID           string
	CollectionID string
	DatabaseID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Permissions  []string
	Data         map[string]any
}

// Flatten はシステムフィールドとユーザーフィールドを1つのマップにまとめる。
func (d *Document) Flatten() map[string]any {
	out := make(map[string]any, len(d.Data)+6)
	for k, v := range d.Data {
		out[k] = v
	}
	perms := d.Permissions
	if perms == nil {
		perms = []string{}
	}
	out[FieldID] = d.ID
	out[FieldCollectionID] = d.CollectionID
	out[FieldDatabaseID] = d.DatabaseID
	out[FieldCreatedAt] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	out[FieldUpdatedAt] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	out[FieldPermissions] = perms
	return out
}

// MarshalJSON はフラット表現でJSONに変換する。
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Flatten())
}

// DocumentList は一覧取得の結果を表す。Total はフィルタ条件に一致する全件数。
type DocumentList struct {
	Total     int
	Documents []*Document
}

// Filter は等価条件1件を表す。
type Filter struct {
	Field string
	Value any
}

// DocumentQuery はドキュメント一覧の検索条件を表す。
// Limit が0の場合はストア側の既定件数を使う。
type DocumentQuery struct {
	Filters   []Filter
	Limit     int
	Offset    int
	OrderBy   string
	OrderDesc bool
}

// Equal は field == value の条件を生成する。
func Equal(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Attribute はコレクションに定義された属性を表す。
type Attribute struct {
	CollectionID string
	Key          string
	Type         string
	Size         int
	Required     bool
	Default      *string
	CreatedAt    time.Time
}

// 属性の型。
const (
	AttributeTypeString = "string"
)

// ValidateAttributes はドキュメントデータが属性定義を満たすか検証する。
// 必須属性の欠落と文字列長の超過を検出する。
func ValidateAttributes(attrs []*Attribute, data map[string]any) error {
	for _, a := range attrs {
		v, ok := data[a.Key]
		if !ok || v == nil {
			if a.Required && a.Default == nil {
				return NewDocumentInvalidStructureError(fmt.Sprintf("必須属性 %q がありません", a.Key))
			}
			continue
		}
		if a.Type != AttributeTypeString {
			continue
		}
		s, isString := v.(string)
		if !isString {
			return NewDocumentInvalidStructureError(fmt.Sprintf("属性 %q は文字列である必要があります", a.Key))
		}
		if a.Size > 0 && len([]rune(s)) > a.Size {
			return NewDocumentInvalidStructureError(fmt.Sprintf("属性 %q が最大長 %d を超えています", a.Key, a.Size))
		}
	}
	return nil
}
