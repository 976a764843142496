package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// データセット管理プラットフォーム設定
	Platform PlatformConfig

	// 画像エンコーダ設定（OpenAI互換の埋め込みAPI）
	Encoder EncoderConfig

	// Database設定（実行履歴の保存先）
	Database DatabaseConfig

	// 埋め込み収集設定
	Collector CollectorConfig

	// タグ付け設定
	Tagging TaggingConfig

	// ツール設定
	Tools ToolsConfig

	// ログ設定
	Log LogConfig

	// HTTPサーバー設定
	HTTP HTTPConfig
}

// PlatformConfig はプラットフォームAPI設定
type PlatformConfig struct {
	BaseURL  string
	APIToken string
	PageSize int
	Timeout  time.Duration
}

// EncoderConfig は画像エンコーダ設定
type EncoderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// Enabled はデータベースが設定されているかを返す（DB_HOST が空なら実行履歴を保存しない）
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// CollectorConfig は埋め込み収集設定
type CollectorConfig struct {
	Workers           int
	ItemTimeout       time.Duration
	RequestsPerSecond float64
}

// TaggingConfig はタグ付けの再試行設定
type TaggingConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// ToolsConfig はツール設定
type ToolsConfig struct {
	// ConfigPath は tools.yaml のパス（存在しなければ既定値で動作）
	ConfigPath string
	// ExportDir はparquetエクスポートの出力先
	ExportDir string
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// HTTPConfig はHTTPサーバー設定
type HTTPConfig struct {
	Addr string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Platform: PlatformConfig{
			BaseURL:  getEnv("PICSELLIA_HOST", "https://app.picsellia.com"),
			APIToken: getEnv("PICSELLIA_API_TOKEN", ""),
			PageSize: getEnvAsInt("PICSELLIA_PAGE_SIZE", 100),
			Timeout:  getEnvAsDuration("PICSELLIA_TIMEOUT", 30*time.Second),
		},
		Encoder: EncoderConfig{
			BaseURL:    getEnv("ENCODER_BASE_URL", "http://localhost:8000/v1"),
			APIKey:     getEnv("ENCODER_API_KEY", ""),
			Model:      getEnv("ENCODER_MODEL", "openai/clip-vit-large-patch14"),
			Dimension:  getEnvAsInt("ENCODER_DIMENSION", 768),
			Timeout:    getEnvAsDuration("ENCODER_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvAsInt("ENCODER_MAX_RETRIES", 3),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "devvision"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "devvision"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 4),
		},
		Collector: CollectorConfig{
			Workers:           getEnvAsInt("COLLECTOR_WORKERS", 8),
			ItemTimeout:       getEnvAsDuration("COLLECTOR_ITEM_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("COLLECTOR_REQUESTS_PER_SECOND", 0),
		},
		Tagging: TaggingConfig{
			MaxRetries:  getEnvAsInt("TAG_MAX_RETRIES", 0),
			BaseBackoff: getEnvAsDuration("TAG_BASE_BACKOFF", 2*time.Second),
			MaxBackoff:  getEnvAsDuration("TAG_MAX_BACKOFF", 32*time.Second),
		},
		Tools: ToolsConfig{
			ConfigPath: getEnv("TOOLS_CONFIG", "tools.yaml"),
			ExportDir:  getEnv("EXPORT_DIR", "exports"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "30s"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
