package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации resilience-платформы.
type Config struct {
	GitHub     GitHubConfig     `mapstructure:"github"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Syncer     SyncerConfig     `mapstructure:"syncer"`
	Control    ControlConfig    `mapstructure:"control"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// GitHubConfig описывает доступ к upstream API (REST + GraphQL).
type GitHubConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	GraphQLURL string        `mapstructure:"graphql_url"`
	TokenPath  string        `mapstructure:"token_path"` // PAT файлом или напрямую через GITHUB_TOKEN_DATA
	AppID      string        `mapstructure:"app_id"`     // Для аутентификации GitHub App (RS256 JWT)
	AppKeyPath string        `mapstructure:"app_key_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Token      []byte
	AppKey     []byte
}

// ResilienceConfig содержит пороги для RateLimiter / CircuitBreaker / Retry / Cache.
// Дефолты документированы в setDefaults — в коде они нигде не захардкожены.
type ResilienceConfig struct {
	// Token Bucket
	RateCapacity   int     `mapstructure:"rate_capacity"`     // burst
	RateRefillPerS float64 `mapstructure:"rate_refill_per_s"` // tokens/sec

	// Circuit Breaker
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold"` // подряд идущие ошибки
	CBFailureWindow    time.Duration `mapstructure:"cb_failure_window"`
	CBResetTimeout     time.Duration `mapstructure:"cb_reset_timeout"` // время, через которое CB попробует "закрыться"
	CBSuccessThreshold uint32        `mapstructure:"cb_success_threshold"`

	// Retry
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	MaxJitter   time.Duration `mapstructure:"max_jitter"`

	// Response Cache
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// AuditConfig описывает, куда и как пишется audit trail.
type AuditConfig struct {
	Dir           string        `mapstructure:"dir"`
	Backend       string        `mapstructure:"backend"` // "file" или "postgres"
	PostgresURL   string        `mapstructure:"postgres_url"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxFileBytes  int64         `mapstructure:"max_file_bytes"` // ротация по размеру внутри дня
}

// CheckpointConfig — настройки durable-снапшотов прогресса.
type CheckpointConfig struct {
	Dir   string `mapstructure:"dir"`
	KeepN int    `mapstructure:"keep_n"` // сколько последних чекпоинтов оставлять после успеха
}

// SyncerConfig — параметры bulk-синхронизации репозиториев.
type SyncerConfig struct {
	Org                string        `mapstructure:"org"`
	CheckpointEvery    int           `mapstructure:"checkpoint_every"` // каждые N репозиториев
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	PageSize           int           `mapstructure:"page_size"`
	ChangelogPath      string        `mapstructure:"changelog_path"` // локальный журнал применённых изменений
}

// ControlConfig — опциональный remote pause/kill switch через Redis.
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

// OpsConfig — встроенный HTTP-сервер наблюдаемости (/healthz, /metrics).
type OpsConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SYNCER_ORG=acme перекроет syncer.org
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка секретов из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам токен/ключ в ENV (для Docker/K8s)
	// Если нет — читаем файл по указанному пути
	cfg.GitHub.Token = loadSecretResource(cfg.GitHub.TokenPath, "GITHUB_TOKEN_DATA")
	cfg.GitHub.AppKey = loadSecretResource(cfg.GitHub.AppKeyPath, "GITHUB_APP_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.graphql_url", "https://api.github.com/graphql")
	v.SetDefault("github.timeout", 30*time.Second)

	// Консервативные дефолты: GitHub secondary rate limits не прощают бурстов
	v.SetDefault("resilience.rate_capacity", 10)
	v.SetDefault("resilience.rate_refill_per_s", 5.0)
	v.SetDefault("resilience.cb_failure_threshold", 5)
	v.SetDefault("resilience.cb_failure_window", 60*time.Second)
	v.SetDefault("resilience.cb_reset_timeout", 30*time.Second)
	v.SetDefault("resilience.cb_success_threshold", 2)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.backoff_base", 500*time.Millisecond)
	v.SetDefault("resilience.max_jitter", 250*time.Millisecond)
	v.SetDefault("resilience.cache_size", 512)
	v.SetDefault("resilience.cache_ttl", 5*time.Minute)

	v.SetDefault("audit.dir", "./audit")
	v.SetDefault("audit.backend", "file")
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("audit.max_file_bytes", int64(64*1024*1024))

	v.SetDefault("checkpoint.dir", "./checkpoints")
	v.SetDefault("checkpoint.keep_n", 3)

	v.SetDefault("syncer.checkpoint_every", 25)
	v.SetDefault("syncer.checkpoint_interval", 30*time.Second)
	v.SetDefault("syncer.page_size", 100)
	v.SetDefault("syncer.changelog_path", "./data/changelog.log")

	v.SetDefault("control.enabled", false)
	v.SetDefault("control.addr", "localhost:6379")

	v.SetDefault("ops.addr", ":9090")
	v.SetDefault("ops.read_timeout", 5*time.Second)
	v.SetDefault("ops.write_timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadSecretResource — универсальный хелпер: секрет либо напрямую в ENV, либо файлом
func loadSecretResource(path string, envDataKey string) []byte {
	// Если секрет прилетел напрямую в ENV (raw token или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
