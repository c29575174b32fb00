// Package dataprovider は管理画面のデータ操作（一覧・取得・作成・更新・削除・複製）を
// ドキュメントデータベースの呼び出しに変換する。
// 全ての操作はログイン中ユーザーのレコードに限定される。
package dataprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/crmadmin/internal/backend"
	"github.com/hitoshi/crmadmin/internal/metrics"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
	"github.com/hitoshi/crmadmin/internal/record"
	"github.com/hitoshi/crmadmin/internal/resource"
)

// OwnerField はレコードの所有者ユーザーIDを保持するフィールド名。
const OwnerField = "userId"

// DefaultConcurrency は一括操作の既定並列数。
const DefaultConcurrency = 8

// Pagination はページ指定。現在はバックエンドの既定ページが適用され、参照しない。
type Pagination struct {
	Page    int
	PerPage int
}

// Sort は並び順の指定。現在は参照しない。
type Sort struct {
	Field string
	Order string
}

// ListParams は一覧取得のパラメータ。
type ListParams struct {
	Pagination Pagination
	Sort       Sort
	Filter     map[string]any
}

// ReferenceParams は参照元レコードによる一覧取得のパラメータ。
type ReferenceParams struct {
	Target     string
	ID         string
	Pagination Pagination
	Sort       Sort
	Filter     map[string]any
}

// ListResult は一覧取得の結果。Total は条件に一致する全件数。
type ListResult struct {
	Data  []record.Record `json:"data"`
	Total int             `json:"total"`
}

// Failure は一括操作で失敗した1件を表す。
type Failure struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// BatchResult は一括更新・一括削除の結果。
// 成功分は取り消さず、失敗分を Failures に列挙する。
type BatchResult struct {
	Data     []string  `json:"data"`
	Failures []Failure `json:"failures"`
}

// Config はProviderの設定。
type Config struct {
	Concurrency int
}

// Provider は管理画面のデータ操作を提供する。
type Provider struct {
	databases   backend.Databases
	account     backend.Account
	router      *resource.Router
	metrics     metrics.MetricsCollector
	concurrency int
	now         func() time.Time
	randSuffix  func() string
}

// New はProviderを生成する。
func New(
	databases backend.Databases,
	account backend.Account,
	router *resource.Router,
	collector metrics.MetricsCollector,
	config Config,
) *Provider {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Provider{
		databases:   databases,
		account:     account,
		router:      router,
		metrics:     collector,
		concurrency: config.Concurrency,
		now:         time.Now,
		randSuffix:  randomBase36,
	}
}

// GetList はログイン中ユーザーが所有するレコードの一覧を返す。
// ページ・並び順・フィルタの指定は受け付けるが適用しない。
func (p *Provider) GetList(ctx context.Context, name string, params ListParams) (result *ListResult, err error) {
	defer p.observe(name, "getList", time.Now(), &err)

	def, err := p.router.Resolve(name)
	if err != nil {
		return nil, err
	}
	ctx, me, err := p.identify(ctx)
	if err != nil {
		return nil, err
	}

	list, err := p.databases.ListDocuments(ctx, def.DatabaseID, def.CollectionID, model.DocumentQuery{
		Filters: []model.Filter{model.Equal(OwnerField, me)},
	})
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Data:  record.FromDocuments(list.Documents),
		Total: list.Total,
	}, nil
}

// GetOne は指定IDのレコードを返す。
func (p *Provider) GetOne(ctx context.Context, name, id string) (rec record.Record, err error) {
	defer p.observe(name, "getOne", time.Now(), &err)

	def, err := p.router.Resolve(name)
	if err != nil {
		return nil, err
	}
	doc, err := p.databases.GetDocument(ctx, def.DatabaseID, def.CollectionID, id)
	if err != nil {
		return nil, err
	}
	return record.FromDocument(doc), nil
}

// GetMany は複数IDのレコードを並行に取得し、入力順で返す。
// 1件でも失敗した場合は全体を失敗とする。
func (p *Provider) GetMany(ctx context.Context, name string, ids []string) (recs []record.Record, err error) {
	defer p.observe(name, "getMany", time.Now(), &err)

	def, err := p.router.Resolve(name)
	if err != nil {
		return nil, err
	}

	out := make([]record.Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			doc, err := p.databases.GetDocument(gctx, def.DatabaseID, def.CollectionID, id)
			if err != nil {
				return err
			}
			out[i] = record.FromDocument(doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetManyReference は参照元による絞り込み一覧。未対応のため常に空を返す。
func (p *Provider) GetManyReference(ctx context.Context, name string, params ReferenceParams) (*ListResult, error) {
	if _, err := p.router.Resolve(name); err != nil {
		return nil, err
	}
	return &ListResult{Data: []record.Record{}, Total: 0}, nil
}

// Create はログイン中ユーザーを所有者としてレコードを作成する。
// userId を付与し、本人のみに read / update / delete を許可する。
func (p *Provider) Create(ctx context.Context, name string, data map[string]any) (rec record.Record, err error) {
	defer p.observe(name, "create", time.Now(), &err)

	def, err := p.router.Resolve(name)
	if err != nil {
		return nil, err
	}
	ctx, me, err := p.identify(ctx)
	if err != nil {
		return nil, err
	}

	fields := writableFields(data)
	fields[OwnerField] = me

	doc, err := p.databases.CreateDocument(ctx, def.DatabaseID, def.CollectionID, backend.UniqueID, fields, model.OwnerPermissions(me))
	if err != nil {
		return nil, err
	}
	return record.FromDocument(doc), nil
}

// writableFields はクライアントが書き込めるフィールドだけを残す。
// 値は入力のまま保存し、所有者タグは作成時にのみ付与する。
func writableFields(data map[string]any) map[string]any {
	fields := record.Data(data)
	delete(fields, OwnerField)
	return fields
}

// Update はレコードを部分更新する。所有者タグは変更できない。
func (p *Provider) Update(ctx context.Context, name, id string, data map[string]any) (rec record.Record, err error) {
	defer p.observe(name, "update", time.Now(), &err)

	def, err := p.router.Resolve(name)
	if err != nil {
		return nil, err
	}
	fields := writableFields(data)
	doc, err := p.databases.UpdateDocument(ctx, def.DatabaseID, def.CollectionID, id, fields, nil)
	if err != nil {
		return nil, err
	}
	return record.FromDocument(doc), nil
}

// UpdateMany は複数レコードに同じ変更を並行に適用する。
func (p *Provider) UpdateMany(ctx context.Context, name string, ids []string, data map[string]any) (*BatchResult, error) {
	start := time.Now()
	def, err := p.router.Resolve(name)
	if err != nil {
		p.observe(name, "updateMany", start, &err)
		return nil, err
	}
	fields := writableFields(data)

	result := p.fanOut(ctx, ids, func(ctx context.Context, id string) error {
		_, err := p.databases.UpdateDocument(ctx, def.DatabaseID, def.CollectionID, id, fields, nil)
		return err
	})
	p.observeBatch(name, "updateMany", start, len(result.Data), len(result.Failures))
	return result, nil
}

// Delete はレコードを削除し、呼び出し元から渡された削除前データをそのまま返す。
func (p *Provider) Delete(ctx context.Context, name, id string, previous record.Record) (rec record.Record, err error) {
	defer p.observe(name, "delete", time.Now(), &err)

	def, err := p.router.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := p.databases.DeleteDocument(ctx, def.DatabaseID, def.CollectionID, id); err != nil {
		return nil, err
	}
	return previous, nil
}

// DeleteMany は複数レコードを並行に削除する。
func (p *Provider) DeleteMany(ctx context.Context, name string, ids []string) (*BatchResult, error) {
	start := time.Now()
	def, err := p.router.Resolve(name)
	if err != nil {
		p.observe(name, "deleteMany", start, &err)
		return nil, err
	}

	result := p.fanOut(ctx, ids, func(ctx context.Context, id string) error {
		return p.databases.DeleteDocument(ctx, def.DatabaseID, def.CollectionID, id)
	})
	p.observeBatch(name, "deleteMany", start, len(result.Data), len(result.Failures))
	return result, nil
}

// identify は認証サービスから現在のユーザーを取得し、ユーザーIDを載せたcontextを返す。
func (p *Provider) identify(ctx context.Context) (context.Context, string, error) {
	user, err := p.account.Get(ctx)
	if err != nil {
		return ctx, "", err
	}
	return principal.WithUserID(ctx, user.ID), user.ID, nil
}

// fanOut は ids ごとに fn を並列数上限つきで実行し、要素ごとの結果を入力順にまとめる。
func (p *Provider) fanOut(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) *BatchResult {
	errs := make([]error, len(ids))
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(ctx, id)
		}()
	}
	wg.Wait()

	result := &BatchResult{Data: []string{}, Failures: []Failure{}}
	for i, id := range ids {
		if errs[i] == nil {
			result.Data = append(result.Data, id)
			continue
		}
		result.Failures = append(result.Failures, newFailure(id, errs[i]))
	}
	return result
}

func newFailure(id string, err error) Failure {
	f := Failure{ID: id, Message: err.Error()}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		f.Code = apiErr.Code
		f.Message = apiErr.Message
	}
	return f
}

// observe は操作1件のメトリクスを記録し、失敗時はログに出力する。
func (p *Provider) observe(name, operation string, start time.Time, errp *error) {
	p.metrics.RecordDataLatency(operation, time.Since(start))
	if errp == nil || *errp == nil {
		p.metrics.RecordDataOperation(name, operation, metrics.OutcomeSuccess)
		return
	}
	p.metrics.RecordDataOperation(name, operation, metrics.OutcomeFailure)
	slog.Warn("data operation failed",
		slog.String("resource", name),
		slog.String("operation", operation),
		slog.String("code", model.ErrorCode(*errp)),
		slog.String("error", (*errp).Error()),
	)
}

// observeBatch は一括操作全体を1件として記録する。1件でも失敗があれば失敗扱い。
func (p *Provider) observeBatch(name, operation string, start time.Time, succeeded, failed int) {
	var err error
	if failed > 0 {
		err = fmt.Errorf("%d of %d items failed", failed, succeeded+failed)
	}
	p.metrics.RecordBatchFailures(operation, failed)
	p.observe(name, operation, start, &err)
}
