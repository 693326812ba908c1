package config

import (
	"errors"
	"os"
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
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Mimir       MimirConfig
	Monitoring  MonitoringConfig
	Probes      ProbesConfig
	Alerts      AlertsConfig
}

type ServerConfig struct {
	Port      string
	Mode      string
	JWTSecret string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL     string
	LockKey string
	LockTTL time.Duration
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	TenantID      string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

type MonitoringConfig struct {
	Schedule        string
	DevSchedule     string
	CleanupSchedule string
	BatchSize       int
	DomainDelay     time.Duration
	BatchDelay      time.Duration
	RetentionDays   int
}

type ProbesConfig struct {
	WhoisTimeout   time.Duration
	WhoisRateLimit float64
	WhoisBurst     int
	WhoisCacheTTL  time.Duration
	TLSTimeout     time.Duration
	TLSPort        int
}

type AlertsConfig struct {
	Timeout time.Duration
	Source  string
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

// MonitoringSchedule is the cron spec for the sweep in the current environment.
func (c *Config) MonitoringSchedule() string {
	if c.IsDevelopment() {
		return c.Monitoring.DevSchedule
	}
	return c.Monitoring.Schedule
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvProduction)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.jwtsecret", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lockkey", "guardian:monitoring:lock")
	v.SetDefault("redis.lockttl", "2h")
	v.SetDefault("mimir.url", "")
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.tenantid", "domain-guardian")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "30s")
	v.SetDefault("mimir.authtoken", "")
	v.SetDefault("monitoring.schedule", "0 9 * * *")
	v.SetDefault("monitoring.devschedule", "@every 5m")
	v.SetDefault("monitoring.cleanupschedule", "0 3 * * 0")
	v.SetDefault("monitoring.batchsize", 5)
	v.SetDefault("monitoring.domaindelay", "2s")
	v.SetDefault("monitoring.batchdelay", "10s")
	v.SetDefault("monitoring.retentiondays", 90)
	v.SetDefault("probes.whoistimeout", "15s")
	v.SetDefault("probes.whoisratelimit", 1.0)
	v.SetDefault("probes.whoisburst", 5)
	v.SetDefault("probes.whoiscachettl", "10m")
	v.SetDefault("probes.tlstimeout", "10s")
	v.SetDefault("probes.tlsport", 443)
	v.SetDefault("alerts.timeout", "10s")
	v.SetDefault("alerts.source", "domain-guardian")
}

// Load reads config.yaml from . or ./config, then GUARDIAN_* variables, then
// the unprefixed overrides shared with the rest of the platform.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}

	return &cfg, nil
}
