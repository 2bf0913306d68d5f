package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string

	// Snapshot
	SnapshotPath string

	// Refresh
	RefreshInterval    time.Duration
	HydrateConcurrency int

	// Upstream
	FetchTimeout    time.Duration
	UpstreamRate    float64 // 上流APIへのリクエストレート（req/sec）
	UpstreamBurst   int
	SearchPageSize  int

	// Staleness
	StalenessRatio float64

	// Client cache
	ServerBaseURL    string // クライアントモードが接続するサーバーAPIのベースURL
	ClientStorageDir string
	ReadRetention    time.Duration // 既読レコードの保持期間
	PurgeKeepRecent  int           // パージ時に保持する直近既読件数
	PurgeDelay       time.Duration // 設定ストアのハイドレーション完了からパージ実行までの遅延

	// Rate Limit
	RateLimitPerIP int // IPごとのレート（req/min）

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 全フィールドにデフォルト値があるため、未設定でも起動できる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.SnapshotPath = getEnvString("SNAPSHOT_PATH", "hnreader_snapshot.json")
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 10*time.Minute)
	cfg.HydrateConcurrency = getEnvInt("HYDRATE_CONCURRENCY", 10)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.UpstreamRate = getEnvFloat("UPSTREAM_RATE", 20)
	cfg.UpstreamBurst = getEnvInt("UPSTREAM_BURST", 40)
	cfg.SearchPageSize = getEnvInt("SEARCH_PAGE_SIZE", 50)
	cfg.StalenessRatio = getEnvFloat("STALENESS_RATIO", 0.25)
	cfg.ServerBaseURL = getEnvString("SERVER_BASE_URL", "http://localhost:8080")
	cfg.ClientStorageDir = getEnvString("CLIENT_STORAGE_DIR", "hnreader_client")
	cfg.ReadRetention = getEnvDuration("READ_RETENTION", 7*24*time.Hour)
	cfg.PurgeKeepRecent = getEnvInt("PURGE_KEEP_RECENT", 50)
	cfg.PurgeDelay = getEnvDuration("PURGE_DELAY", 10*time.Second)
	cfg.RateLimitPerIP = getEnvInt("RATE_LIMIT_PER_IP", 120)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
