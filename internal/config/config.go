package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストレージドライバの識別子。
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver  string
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxLife  time.Duration

	// Project / collections
	ProjectID           string
	DatabaseID          string
	CollectionContacts  string
	CollectionCompanies string
	CollectionCustomers string
	CollectionOrders    string

	// Session
	SessionSecret  string
	SessionMaxAge  int
	JWTTTL         time.Duration
	SessionCleanup time.Duration

	// Data provider
	FanoutConcurrency int
	DefaultPageSize   int

	// Seed
	SeedAttributeWait time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitBulk    int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load()
}

// LoadFile は指定された .env ファイルを読み込んでからConfigを構築する。
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return load()
}

func load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.StorageDriver = strings.ToLower(getEnvString("STORAGE_DRIVER", StorageDriverPostgres))
	if cfg.StorageDriver != StorageDriverPostgres && cfg.StorageDriver != StorageDriverMemory {
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER: %q", cfg.StorageDriver)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StorageDriver == StorageDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.ProjectID = os.Getenv("PROJECT_ID")
	if cfg.ProjectID == "" {
		missing = append(missing, "PROJECT_ID")
	}

	cfg.DatabaseID = os.Getenv("DATABASE_ID")
	if cfg.DatabaseID == "" {
		missing = append(missing, "DATABASE_ID")
	}

	cfg.CollectionContacts = os.Getenv("COLLECTION_ID_CONTACTS")
	if cfg.CollectionContacts == "" {
		missing = append(missing, "COLLECTION_ID_CONTACTS")
	}

	cfg.CollectionCompanies = os.Getenv("COLLECTION_ID_COMPANIES")
	if cfg.CollectionCompanies == "" {
		missing = append(missing, "COLLECTION_ID_COMPANIES")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CollectionCustomers = getEnvString("COLLECTION_ID_CUSTOMERS", "")
	cfg.CollectionOrders = getEnvString("COLLECTION_ID_ORDERS", "")
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLife = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.JWTTTL = getEnvDuration("JWT_TTL", 15*time.Minute)
	cfg.SessionCleanup = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.FanoutConcurrency = getEnvInt("DATA_FANOUT_CONCURRENCY", 8)
	cfg.DefaultPageSize = getEnvInt("DEFAULT_PAGE_SIZE", 25)
	cfg.SeedAttributeWait = getEnvDuration("SEED_ATTRIBUTE_WAIT", time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBulk = getEnvInt("RATE_LIMIT_BULK", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// SessionCookieName はプロジェクトごとのセッションCookie名を返す。
func (c *Config) SessionCookieName() string {
	return "crm_session_" + c.ProjectID
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
