package dataprovider

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/crmadmin/internal/backend"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/record"
	"github.com/hitoshi/crmadmin/internal/resource"
)

// 複製レコードに付与する接尾辞と書き換え対象フィールド。
const (
	copySuffix     = " (Copy)"
	nameField      = "name"
	emailField     = "email"
	createdAtField = "createdAt"
)

// timestampLayout はレコードの createdAt に書き込む日時形式（ミリ秒精度のUTC）。
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// DuplicateReport はコレクション一括複製の結果。
type DuplicateReport struct {
	Total      int             `json:"total"`
	Duplicated int             `json:"duplicated"`
	Data       []record.Record `json:"data"`
	Failures   []Failure       `json:"failures"`
}

// Duplicate は指定レコードを複製して新しいレコードとして作成する。
// name に " (Copy)" を付け、createdAt を現在時刻にする。
// email を一意に扱うリソースでは email を "copy." + email に書き換える。
func (p *Provider) Duplicate(ctx context.Context, name, id string) (rec record.Record, err error) {
	defer p.observe(name, "duplicate", time.Now(), &err)

	def, err := p.router.Resolve(name)
	if err != nil {
		return nil, err
	}
	ctx, _, err = p.identify(ctx)
	if err != nil {
		return nil, err
	}

	src, err := p.databases.GetDocument(ctx, def.DatabaseID, def.CollectionID, id)
	if err != nil {
		return nil, err
	}

	fields := p.cloneFields(src, func(email string) string { return "copy." + email }, def)
	doc, err := p.databases.CreateDocument(ctx, def.DatabaseID, def.CollectionID, backend.UniqueID, fields, nil)
	if err != nil {
		return nil, err
	}
	return record.FromDocument(doc), nil
}

// DuplicateCollection はログイン中ユーザーが所有するコレクション内の全レコードを並行に複製する。
// email を一意に扱うリソースでは email を "copy-<ランダム7文字>-" + email に書き換える。
// 一部が失敗しても成功分は残し、失敗分をレポートに列挙する。
func (p *Provider) DuplicateCollection(ctx context.Context, name string) (*DuplicateReport, error) {
	start := time.Now()
	def, err := p.router.Resolve(name)
	if err != nil {
		p.observe(name, "duplicateCollection", start, &err)
		return nil, err
	}
	ctx, me, err := p.identify(ctx)
	if err != nil {
		p.observe(name, "duplicateCollection", start, &err)
		return nil, err
	}

	sources, err := p.listOwned(ctx, def, me)
	if err != nil {
		p.observe(name, "duplicateCollection", start, &err)
		return nil, err
	}

	created := make([]record.Record, len(sources))
	errs := make([]error, len(sources))
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fields := p.cloneFields(src, func(email string) string {
				return "copy-" + p.randSuffix() + "-" + email
			}, def)
			doc, err := p.databases.CreateDocument(ctx, def.DatabaseID, def.CollectionID, backend.UniqueID, fields, nil)
			if err != nil {
				errs[i] = err
				return
			}
			created[i] = record.FromDocument(doc)
		}()
	}
	wg.Wait()

	report := &DuplicateReport{
		Total:    len(sources),
		Data:     []record.Record{},
		Failures: []Failure{},
	}
	for i, src := range sources {
		if errs[i] != nil {
			report.Failures = append(report.Failures, newFailure(src.ID, errs[i]))
			continue
		}
		report.Data = append(report.Data, created[i])
	}
	report.Duplicated = len(report.Data)

	p.observeBatch(name, "duplicateCollection", start, report.Duplicated, len(report.Failures))
	return report, nil
}

// listOwned は所有者が me のドキュメントを全ページ取得する。
func (p *Provider) listOwned(ctx context.Context, def resource.Definition, me string) ([]*model.Document, error) {
	var docs []*model.Document
	for {
		list, err := p.databases.ListDocuments(ctx, def.DatabaseID, def.CollectionID, model.DocumentQuery{
			Filters: []model.Filter{model.Equal(OwnerField, me)},
			Limit:   backend.MaxListLimit,
			Offset:  len(docs),
		})
		if err != nil {
			return nil, err
		}
		docs = append(docs, list.Documents...)
		if len(list.Documents) == 0 || len(docs) >= list.Total {
			return docs, nil
		}
	}
}

// cloneFields は複製用のフィールドを組み立てる。システムフィールドは含めない。
func (p *Provider) cloneFields(src *model.Document, rewriteEmail func(string) string, def resource.Definition) map[string]any {
	fields := make(map[string]any, len(src.Data)+2)
	for k, v := range src.Data {
		fields[k] = v
	}
	for _, f := range model.SystemFields {
		delete(fields, f)
	}

	srcName, _ := fields[nameField].(string)
	fields[nameField] = strings.TrimSpace(srcName + copySuffix)
	fields[createdAtField] = p.now().UTC().Format(timestampLayout)

	if def.UniqueEmail {
		if email, ok := fields[emailField].(string); ok && email != "" {
			fields[emailField] = rewriteEmail(email)
		}
	}
	return fields
}

// randomBase36 は7文字のランダムな英小文字・数字列を返す。
func randomBase36() string {
	var b [7]byte
	for i := range b {
		b[i] = base36[rand.IntN(len(base36))]
	}
	return string(b[:])
}
