// Package seed は初回ログイン時にユーザーごとのサンプルデータを投入する。
// 全ての手順はベストエフォートで、失敗はログに記録するだけでログインを妨げない。
package seed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hitoshi/crmadmin/internal/backend"
	"github.com/hitoshi/crmadmin/internal/metrics"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
	"github.com/hitoshi/crmadmin/internal/resource"
)

// 所有者属性の定義。
const (
	ownerAttribute     = "userId"
	ownerAttributeSize = 255
)

// timestampLayout はサンプルの createdAt / date に書き込む日時形式。
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// orderDateFrom はサンプル注文日の下限。
var orderDateFrom = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// Config はSeederの設定。
type Config struct {
	AttributeWait time.Duration // 属性作成後の待機時間
	Concurrency   int           // サンプル投入の並列数
}

// Report はシード1回分の作成件数。
type Report struct {
	Contacts  int  `json:"contacts"`
	Companies int  `json:"companies"`
	Customers int  `json:"customers"`
	Orders    int  `json:"orders"`
	Aborted   bool `json:"aborted"`
}

// Seeder はサンプルデータを投入する。
type Seeder struct {
	databases backend.Databases
	router    *resource.Router
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
}

// NewSeeder はSeederを生成する。
func NewSeeder(
	databases backend.Databases,
	router *resource.Router,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Seeder {
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		databases: databases,
		router:    router,
		metrics:   collector,
		logger:    logger,
		config:    config,
		now:       time.Now,
		wait:      sleep,
	}
}

// Run は userID のユーザーにサンプルデータを投入する。
// 既にデータがあるコレクションには作成しないため、繰り返し呼んでも増えない。
func (s *Seeder) Run(ctx context.Context, userID string) Report {
	var report Report
	ctx = principal.WithUserID(ctx, userID)
	log := s.logger.With(slog.String("user_id", userID))

	defs := make(map[string]resource.Definition, 4)
	for _, name := range []string{resource.Contacts, resource.Companies, resource.Customers, resource.Orders} {
		def, err := s.router.Resolve(name)
		if err != nil {
			log.Error("シード対象のコレクションが設定されていないため中止します",
				slog.String("resource", name),
				slog.String("error", err.Error()),
			)
			report.Aborted = true
			return report
		}
		defs[name] = def
	}

	s.ensureOwnerAttribute(ctx, log, defs[resource.Contacts])
	s.ensureOwnerAttribute(ctx, log, defs[resource.Companies])

	// 属性が利用可能になるまで待つ
	if err := s.wait(ctx, s.config.AttributeWait); err != nil {
		log.Warn("シードを中断しました", slog.String("error", err.Error()))
		report.Aborted = true
		return report
	}

	report.Contacts = s.seedOne(ctx, log, defs[resource.Contacts], userID, exampleContact)
	report.Companies = s.seedOne(ctx, log, defs[resource.Companies], userID, exampleCompany)

	customers := make([]map[string]any, len(sampleCustomers))
	for i, c := range sampleCustomers {
		customers[i] = c.fields()
	}
	report.Customers = s.seedMany(ctx, log, defs[resource.Customers], userID, customers)

	orders := make([]map[string]any, len(sampleOrders))
	for i, o := range sampleOrders {
		f := o.fields()
		f["date"] = s.randomOrderDate().Format(timestampLayout)
		orders[i] = f
	}
	report.Orders = s.seedMany(ctx, log, defs[resource.Orders], userID, orders)

	log.Info("シードが完了しました",
		slog.Int("contacts", report.Contacts),
		slog.Int("companies", report.Companies),
		slog.Int("customers", report.Customers),
		slog.Int("orders", report.Orders),
	)
	return report
}

// ensureOwnerAttribute はコレクションに必須の userId 属性を作成する。既存の場合は何もしない。
func (s *Seeder) ensureOwnerAttribute(ctx context.Context, log *slog.Logger, def resource.Definition) {
	_, err := s.databases.CreateStringAttribute(ctx, def.DatabaseID, def.CollectionID, ownerAttribute, ownerAttributeSize, true)
	switch {
	case err == nil:
		log.Info("所有者属性を作成しました", slog.String("resource", def.Name))
	case model.ErrorCode(err) == model.ErrCodeAttributeAlreadyExists:
		log.Info("所有者属性は既に存在します", slog.String("resource", def.Name))
	default:
		log.Warn("所有者属性の作成に失敗しました",
			slog.String("resource", def.Name),
			slog.String("error", err.Error()),
		)
	}
}

// exists はユーザーのドキュメントがコレクションに1件以上あるかを返す。
func (s *Seeder) exists(ctx context.Context, def resource.Definition, userID string) (bool, error) {
	list, err := s.databases.ListDocuments(ctx, def.DatabaseID, def.CollectionID, model.DocumentQuery{
		Filters: []model.Filter{model.Equal(ownerAttribute, userID)},
		Limit:   1,
	})
	if err != nil {
		return false, err
	}
	return list.Total > 0, nil
}

// seedOne はユーザーのドキュメントが無い場合に限り sample を1件作成する。
func (s *Seeder) seedOne(ctx context.Context, log *slog.Logger, def resource.Definition, userID string, sample map[string]any) int {
	return s.seedMany(ctx, log, def, userID, []map[string]any{sample})
}

// seedMany はユーザーのドキュメントが無い場合に限り samples を並行に作成し、成功件数を返す。
func (s *Seeder) seedMany(ctx context.Context, log *slog.Logger, def resource.Definition, userID string, samples []map[string]any) int {
	found, err := s.exists(ctx, def, userID)
	if err != nil {
		log.Warn("既存データの確認に失敗しました",
			slog.String("resource", def.Name),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if found {
		log.Debug("既存データがあるためシードをスキップします", slog.String("resource", def.Name))
		return 0
	}

	var (
		mu      sync.Mutex
		created int
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, s.config.Concurrency)
	perms := model.OwnerPermissions(userID)

	for _, sample := range samples {
		fields := make(map[string]any, len(sample)+2)
		for k, v := range sample {
			fields[k] = v
		}
		fields[ownerAttribute] = userID
		fields["createdAt"] = s.now().UTC().Format(timestampLayout)

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.databases.CreateDocument(ctx, def.DatabaseID, def.CollectionID, backend.UniqueID, fields, perms); err != nil {
				log.Warn("サンプルデータの作成に失敗しました",
					slog.String("resource", def.Name),
					slog.String("error", err.Error()),
				)
				return
			}
			mu.Lock()
			created++
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.metrics.RecordSeedInserted(def.Name, created)
	return created
}

// randomOrderDate は2023-01-01から現在までのランダムな日時を返す。
func (s *Seeder) randomOrderDate() time.Time {
	now := s.now().UTC()
	span := now.Sub(orderDateFrom)
	if span <= 0 {
		return orderDateFrom
	}
	return orderDateFrom.Add(time.Duration(rand.Int64N(int64(span))))
}

// sleep は d だけ待つ。contextがキャンセルされた場合はその時点でエラーを返す。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
