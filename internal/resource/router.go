// Package resource は管理画面のリソース名をドキュメントデータベースのコレクションに対応付ける。
package resource

import (
	"sort"

	"github.com/hitoshi/crmadmin/internal/model"
)

// リソース名。
const (
	Contacts  = "contacts"
	Companies = "companies"
	Customers = "customers"
	Orders    = "orders"
)

// Definition は1リソース分の対応情報。
type Definition struct {
	Name         string
	DatabaseID   string
	CollectionID string
	// UniqueEmail が真のリソースは複製時に email を書き換えて重複を避ける。
	UniqueEmail bool
}

// Router はリソース名から Definition を引く。生成後は読み取り専用。
type Router struct {
	defs map[string]Definition
}

// NewRouter は Definition の一覧から Router を生成する。
func NewRouter(defs ...Definition) *Router {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return &Router{defs: m}
}

// Collections はリソースごとのコレクションIDを表す。
type Collections struct {
	Contacts  string
	Companies string
	Customers string
	Orders    string
}

// Default はCRMの4リソースを持つ Router を生成する。
// contacts のみ email を一意として扱う。
func Default(databaseID string, c Collections) *Router {
	return NewRouter(
		Definition{Name: Contacts, DatabaseID: databaseID, CollectionID: c.Contacts, UniqueEmail: true},
		Definition{Name: Companies, DatabaseID: databaseID, CollectionID: c.Companies},
		Definition{Name: Customers, DatabaseID: databaseID, CollectionID: c.Customers},
		Definition{Name: Orders, DatabaseID: databaseID, CollectionID: c.Orders},
	)
}

// Resolve はリソース名に対応する Definition を返す。
// 未定義の名前は UNKNOWN_RESOURCE、コレクションID未設定は RESOURCE_NOT_CONFIGURED を返す。
func (r *Router) Resolve(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, model.NewUnknownResourceError(name)
	}
	if d.CollectionID == "" || d.DatabaseID == "" {
		return Definition{}, model.NewResourceNotConfiguredError(name)
	}
	return d, nil
}

// Names は登録済みのリソース名を昇順で返す。
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
