package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/crmadmin/internal/auth"
	"github.com/hitoshi/crmadmin/internal/authprovider"
	"github.com/hitoshi/crmadmin/internal/backend"
	"github.com/hitoshi/crmadmin/internal/config"
	"github.com/hitoshi/crmadmin/internal/database"
	"github.com/hitoshi/crmadmin/internal/dataprovider"
	"github.com/hitoshi/crmadmin/internal/handler"
	"github.com/hitoshi/crmadmin/internal/logger"
	"github.com/hitoshi/crmadmin/internal/metrics"
	"github.com/hitoshi/crmadmin/internal/middleware"
	"github.com/hitoshi/crmadmin/internal/repository"
	"github.com/hitoshi/crmadmin/internal/repository/memory"
	"github.com/hitoshi/crmadmin/internal/resource"
	"github.com/hitoshi/crmadmin/internal/seed"
	"github.com/hitoshi/crmadmin/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを設定に合わせる
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		if len(args) < 2 || args[1] == "" {
			return errors.New("usage: crmadmin seed <email>")
		}
		return runSeed(cfg, args[1])
	default:
		return runServe(cfg)
	}
}

// storage は選択されたストレージドライバのリポジトリ群を保持する。
type storage struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	documents  repository.DocumentRepository
	attributes repository.AttributeRepository
	health     handler.HealthChecker
	close      func() error
}

// openStorage は設定に応じてPostgreSQLまたはインメモリのストレージを開く。
func openStorage(cfg *config.Config) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		slog.Warn("using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return &storage{
			users:      store.Users(),
			sessions:   store.Sessions(),
			documents:  store.Documents(),
			attributes: store.Attributes(),
			close:      func() error { return nil },
		}, nil
	}

	db, err := database.OpenWithPool(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	return newPostgresStorage(db), nil
}

func newPostgresStorage(db *sql.DB) *storage {
	return &storage{
		users:      repository.NewPostgresUserRepo(db),
		sessions:   repository.NewPostgresSessionRepo(db),
		documents:  repository.NewPostgresDocumentRepo(db),
		attributes: repository.NewPostgresAttributeRepo(db),
		health:     db,
		close:      db.Close,
	}
}

// services はストレージ上に組み立てたドメインサービス群。
type services struct {
	auth      *auth.Service
	databases *backend.DatabaseService
	resources *resource.Router
	seeder    *seed.Seeder
	data      *dataprovider.Provider
	login     *authprovider.Provider
}

// newServices は全依存関係をワイヤリングする。
func newServices(cfg *config.Config, st *storage, collector metrics.MetricsCollector) *services {
	authService := auth.NewService(st.users, st.sessions, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		JWTSecret:     []byte(cfg.SessionSecret),
		JWTTTL:        cfg.JWTTTL,
	})
	databases := backend.NewDatabaseService(st.documents, st.attributes, backend.DatabaseServiceConfig{
		DefaultLimit: cfg.DefaultPageSize,
	})
	resources := resource.Default(cfg.DatabaseID, resource.Collections{
		Contacts:  cfg.CollectionContacts,
		Companies: cfg.CollectionCompanies,
		Customers: cfg.CollectionCustomers,
		Orders:    cfg.CollectionOrders,
	})
	seeder := seed.NewSeeder(databases, resources, collector, slog.Default(), seed.Config{
		AttributeWait: cfg.SeedAttributeWait,
		Concurrency:   cfg.FanoutConcurrency,
	})

	return &services{
		auth:      authService,
		databases: databases,
		resources: resources,
		seeder:    seeder,
		data: dataprovider.New(databases, authService, resources, collector, dataprovider.Config{
			Concurrency: cfg.FanoutConcurrency,
		}),
		login: authprovider.New(authService, seeder, collector),
	}
}

// newRouter はHTTPルーターを構築する。呼び出し側はRateLimiterを停止すること。
func newRouter(cfg *config.Config, st *storage, svc *services, collector metrics.MetricsCollector, gatherer prometheus.Gatherer) (http.Handler, *middleware.RateLimiter) {
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitBulk),
	)

	deps := &handler.RouterDeps{
		SessionResolver:   svc.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthProvider:   svc.login,
		SessionService: svc.auth,
		AuthConfig: handler.AuthHandlerConfig{
			CookieName:    cfg.SessionCookieName(),
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		DataProvider: svc.data,

		HealthChecker: st.health,
		Gatherer:      gatherer,
		Metrics:       collector,
	}

	return handler.NewRouter(deps), rateLimiter
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg, collector := newRegistry()
	svc := newServices(cfg, st, collector)
	router, rateLimiter := newRouter(cfg, st, svc, collector, reg)
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Any("resources", svc.resources.Names()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	_, collector := newRegistry()

	cleanupJob := cleanup.NewCleanupJob(st.sessions, collector, slog.Default())
	cleanupJob.Interval = cfg.SessionCleanup

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupJob.Interval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageDriverMemory {
		slog.Info("in-memory storage does not require migrations")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は既存アカウントにサンプルデータを投入する。
func runSeed(cfg *config.Config, email string) error {
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	_, collector := newRegistry()
	svc := newServices(cfg, st, collector)
	return seedAccount(context.Background(), st.users, svc.seeder, email)
}

// seedAccount はメールアドレスでアカウントを引き、シードを実行する。
func seedAccount(ctx context.Context, users repository.UserRepository, seeder *seed.Seeder, email string) error {
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user not found: %s", email)
	}

	report := seeder.Run(ctx, user.ID)
	if report.Aborted {
		return errors.New("seed aborted; check collection configuration")
	}

	slog.Info("seed completed",
		slog.String("user_id", user.ID),
		slog.Int("contacts", report.Contacts),
		slog.Int("companies", report.Companies),
		slog.Int("customers", report.Customers),
		slog.Int("orders", report.Orders),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
