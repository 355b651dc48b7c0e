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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	GatePass GatePassConfig
	Scan     ScanConfig
	Slips    SlipConfig
	Audit    AuditConfig
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

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GatePassConfig tunes the approval workflow.
type GatePassConfig struct {
	CampusTimezone   string
	SummaryCacheTTL  time.Duration
	SummaryCacheOn   bool
	MinReasonLength  int
	TokenMaxAttempts int
}

// ScanConfig throttles the security scan endpoint per actor.
type ScanConfig struct {
	RatePerMinute int
	Burst         int
}

// SlipConfig controls signed download links for printable passes.
type SlipConfig struct {
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// AuditConfig sizes the asynchronous audit writer.
type AuditConfig struct {
	Workers int
	Retries int
}

// Location resolves the configured campus timezone, falling back to UTC.
func (c GatePassConfig) Location() *time.Location {
	if c.CampusTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.CampusTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.GatePass = GatePassConfig{
		CampusTimezone:   v.GetString("CAMPUS_TIMEZONE"),
		SummaryCacheTTL:  parseDuration(v.GetString("GATEPASS_SUMMARY_CACHE_TTL"), 2*time.Minute),
		SummaryCacheOn:   v.GetBool("ENABLE_SUMMARY_CACHE"),
		MinReasonLength:  v.GetInt("GATEPASS_MIN_REASON_LENGTH"),
		TokenMaxAttempts: v.GetInt("GATEPASS_TOKEN_MAX_ATTEMPTS"),
	}

	cfg.Scan = ScanConfig{
		RatePerMinute: v.GetInt("SCAN_RATE_LIMIT_PER_MINUTE"),
		Burst:         v.GetInt("SCAN_RATE_LIMIT_BURST"),
	}

	cfg.Slips = SlipConfig{
		SignedURLSecret: v.GetString("SLIP_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("SLIP_SIGNED_URL_TTL"), 15*time.Minute),
	}

	cfg.Audit = AuditConfig{
		Workers: v.GetInt("AUDIT_WORKERS"),
		Retries: v.GetInt("AUDIT_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8000)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gatepass")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("JWT_ISSUER", "gatepass-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CAMPUS_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("GATEPASS_SUMMARY_CACHE_TTL", "2m")
	v.SetDefault("ENABLE_SUMMARY_CACHE", true)
	v.SetDefault("GATEPASS_MIN_REASON_LENGTH", 5)
	v.SetDefault("GATEPASS_TOKEN_MAX_ATTEMPTS", 5)

	v.SetDefault("SCAN_RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("SCAN_RATE_LIMIT_BURST", 10)

	v.SetDefault("SLIP_SIGNED_URL_SECRET", "dev_slip_secret")
	v.SetDefault("SLIP_SIGNED_URL_TTL", "15m")

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_RETRIES", 3)
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

// viper reports a missing explicit config file as an *fs.PathError rather than
// ConfigFileNotFoundError when SetConfigFile is used.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
