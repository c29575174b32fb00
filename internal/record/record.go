// Package record はドキュメントを管理画面向けのフラットなレコードに変換する。
package record

import "github.com/hitoshi/crmadmin/internal/model"

// IDField はレコードの識別子フィールド名。
const IDField = "id"

// Record は管理画面に返すフラットなレコード。
// ドキュメントの全フィールドに加えて id（= $id）を持つ。
type Record map[string]any

// FromDocument はドキュメントをレコードに変換する。
func FromDocument(doc *model.Document) Record {
	r := Record(doc.Flatten())
	r[IDField] = doc.ID
	return r
}

// FromDocuments はドキュメント列を順序を保ってレコード列に変換する。
func FromDocuments(docs []*model.Document) []Record {
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, FromDocument(d))
	}
	return out
}

// ID はレコードの識別子を返す。
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Data はレコードから書き込み用のユーザーフィールドのみを取り出す。
// id とシステムフィールドは除外する。
func Data(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if k == IDField || model.IsSystemField(k) {
			continue
		}
		out[k] = v
	}
	return out
}
