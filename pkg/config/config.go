package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Dispatch  DispatchConfig
	Alerts    AlertsConfig
	Delivery  DeliveryConfig
	Links     LinkConfig
	Scheduler SchedulerConfig
	Dashboard DashboardConfig
	Events    EventsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the verification settings for practitioner access tokens.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig controls zap output and the optional rotating file sink.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DispatchConfig bounds bulk dispatch batches.
type DispatchConfig struct {
	MaxRecipients    int
	DefaultDelayDays int
	RetentionDays    int
}

// AlertsConfig holds the single critical threshold shared by alerting and dashboards.
type AlertsConfig struct {
	CriticalThreshold float64
}

// DeliveryConfig points at the transactional email provider.
type DeliveryConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LinkConfig signs patient questionnaire links.
type LinkConfig struct {
	Secret  string
	TTL     time.Duration
	BaseURL string
}

// SchedulerConfig toggles the scheduled-dispatch sweeper.
type SchedulerConfig struct {
	Enabled       bool
	SweepInterval time.Duration
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	BatchSize     int
}

// DashboardConfig governs dashboard cache tuning.
type DashboardConfig struct {
	CacheTTL time.Duration
}

// EventsConfig configures the Kafka domain event publisher.
type EventsConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:      v.GetString("LOG_LEVEL"),
		Format:     v.GetString("LOG_FORMAT"),
		File:       v.GetString("LOG_FILE"),
		MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
		MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
	}

	cfg.Dispatch = DispatchConfig{
		MaxRecipients:    v.GetInt("DISPATCH_MAX_RECIPIENTS"),
		DefaultDelayDays: v.GetInt("DISPATCH_DEFAULT_DELAY_DAYS"),
		RetentionDays:    v.GetInt("DISPATCH_RETENTION_DAYS"),
	}

	cfg.Alerts = AlertsConfig{
		CriticalThreshold: v.GetFloat64("ALERT_CRITICAL_THRESHOLD"),
	}

	cfg.Delivery = DeliveryConfig{
		BaseURL: strings.TrimRight(v.GetString("DELIVERY_BASE_URL"), "/"),
		APIKey:  v.GetString("DELIVERY_API_KEY"),
		Timeout: parseDuration(v.GetString("DELIVERY_TIMEOUT"), 10*time.Second),
	}

	cfg.Links = LinkConfig{
		Secret:  v.GetString("LINK_TOKEN_SECRET"),
		TTL:     parseDuration(v.GetString("LINK_TOKEN_TTL"), 120*24*time.Hour),
		BaseURL: strings.TrimRight(v.GetString("LINK_BASE_URL"), "/"),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:       v.GetBool("ENABLE_SCHEDULER"),
		SweepInterval: parseDuration(v.GetString("SCHEDULER_SWEEP_INTERVAL"), time.Minute),
		Workers:       v.GetInt("SCHEDULER_WORKERS"),
		MaxRetries:    v.GetInt("SCHEDULER_MAX_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("SCHEDULER_RETRY_DELAY"), 30*time.Second),
		BatchSize:     v.GetInt("SCHEDULER_BATCH_SIZE"),
	}

	cfg.Dashboard = DashboardConfig{
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Events = EventsConfig{
		Enabled: v.GetBool("ENABLE_EVENTS"),
		Brokers: splitAndTrim(v.GetString("EVENTS_BROKERS")),
		Topic:   v.GetString("EVENTS_TOPIC"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "followup")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 50)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 14)

	v.SetDefault("DISPATCH_MAX_RECIPIENTS", 200)
	v.SetDefault("DISPATCH_DEFAULT_DELAY_DAYS", 7)
	v.SetDefault("DISPATCH_RETENTION_DAYS", 30)

	v.SetDefault("ALERT_CRITICAL_THRESHOLD", 2)

	v.SetDefault("DELIVERY_BASE_URL", "http://localhost:8025")
	v.SetDefault("DELIVERY_API_KEY", "")
	v.SetDefault("DELIVERY_TIMEOUT", "10s")

	v.SetDefault("LINK_TOKEN_SECRET", "dev_link_secret")
	v.SetDefault("LINK_TOKEN_TTL", "2880h")
	v.SetDefault("LINK_BASE_URL", "http://localhost:3000/q")

	v.SetDefault("ENABLE_SCHEDULER", false)
	v.SetDefault("SCHEDULER_SWEEP_INTERVAL", "1m")
	v.SetDefault("SCHEDULER_WORKERS", 2)
	v.SetDefault("SCHEDULER_MAX_RETRIES", 3)
	v.SetDefault("SCHEDULER_RETRY_DELAY", "30s")
	v.SetDefault("SCHEDULER_BATCH_SIZE", 100)

	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("ENABLE_EVENTS", false)
	v.SetDefault("EVENTS_BROKERS", "localhost:9092")
	v.SetDefault("EVENTS_TOPIC", "followup.events")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
