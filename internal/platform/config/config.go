// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Environment wins over file; file wins over
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"carekeeper/pkg/domain"
	strutil "carekeeper/pkg/platform/strings"
)

// Config is the full server configuration.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Retention RetentionConfig
	Audit     AuditConfig
	Access    AccessConfig
	Log       LogConfig
	Tracing   TracingConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	DPO             DPOContact
}

// DPOContact is the data protection officer published at /privacy/dpo.
type DPOContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// DatabaseConfig selects Postgres. An empty URL runs on in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the lock backend. An empty URL falls back to an
// in-process lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the notification and archival bus. No brokers means
// notifications are logged and export is unavailable.
type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	DialTimeout       time.Duration
	NotificationTopic string
	ArchiveTopic      string
	Partitions        int32
	ReplicationFactor int16
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type RetentionConfig struct {
	InactivityThreshold time.Duration
	GracePeriod         time.Duration
	FloorYears          int
	TickInterval        time.Duration
	LockTTL             time.Duration
	Concurrency         int
}

type AuditConfig struct {
	// MandatoryTypes overrides the default mandatory set when non-empty.
	MandatoryTypes   []domain.ResourceType
	BufferSize       int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	FlushInterval    time.Duration
}

type AccessConfig struct {
	ConsentGate bool
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	Insecure   bool
	SampleRate float64
}

type LogConfig struct {
	Format string
	Level  string
}

const (
	DefaultAddr                = ":8080"
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultInactivityThreshold = 2 * 365 * 24 * time.Hour
	DefaultGracePeriod         = 30 * 24 * time.Hour
	DefaultFloorYears          = 20
	DefaultTickInterval        = time.Hour
	DefaultLockTTL             = 15 * time.Minute
	DefaultConcurrency         = 8
	DefaultAuditBuffer         = 10000
	DefaultBreakerThreshold    = 5
	DefaultBreakerCooldown     = 30 * time.Second
	DefaultFlushInterval       = 500 * time.Millisecond
	DefaultKafkaClientID       = "carekeeper"
	DefaultNotificationTopic   = "carekeeper.notifications"
	DefaultArchiveTopic        = "carekeeper.audit-archive"
)

var (
	ErrMissingDPOEmail     = errors.New("DPO contact email is required")
	ErrGracePeriodTooShort = errors.New("retention grace period must be positive")
	ErrThresholdTooShort   = errors.New("retention inactivity threshold must be positive")
	ErrFloorTooLow         = fmt.Errorf("retention floor must be at least %d years", DefaultFloorYears)
	ErrInvalidLogFormat    = errors.New("log format must be text or json")
)

// Load reads path (when non-empty) and the CAREKEEPER_* environment. It
// returns the config and every problem found; callers must not start with a
// non-empty error slice.
func Load(path string) (*Config, []error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
	}
	l := loader{k: k}

	cfg := &Config{
		Server: Server{
			Addr:            l.str("CAREKEEPER_ADDR", "server.addr", DefaultAddr),
			ShutdownTimeout: l.duration("CAREKEEPER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout", DefaultShutdownTimeout),
			DPO: DPOContact{
				Name:  l.str("CAREKEEPER_DPO_NAME", "server.dpo.name", "Data Protection Officer"),
				Email: l.str("CAREKEEPER_DPO_EMAIL", "server.dpo.email", ""),
				Phone: l.str("CAREKEEPER_DPO_PHONE", "server.dpo.phone", ""),
			},
		},
		Database: DatabaseConfig{
			URL:             l.str("DATABASE_URL", "database.url", ""),
			MaxOpenConns:    l.integer("CAREKEEPER_DB_MAX_OPEN_CONNS", "database.max_open_conns", 25),
			MaxIdleConns:    l.integer("CAREKEEPER_DB_MAX_IDLE_CONNS", "database.max_idle_conns", 5),
			ConnMaxLifetime: l.duration("CAREKEEPER_DB_CONN_MAX_LIFETIME", "database.conn_max_lifetime", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          l.str("REDIS_URL", "redis.url", ""),
			PoolSize:     l.integer("CAREKEEPER_REDIS_POOL_SIZE", "redis.pool_size", 10),
			MinIdleConns: l.integer("CAREKEEPER_REDIS_MIN_IDLE_CONNS", "redis.min_idle_conns", 2),
			DialTimeout:  l.duration("CAREKEEPER_REDIS_DIAL_TIMEOUT", "redis.dial_timeout", 5*time.Second),
			ReadTimeout:  l.duration("CAREKEEPER_REDIS_READ_TIMEOUT", "redis.read_timeout", 3*time.Second),
			WriteTimeout: l.duration("CAREKEEPER_REDIS_WRITE_TIMEOUT", "redis.write_timeout", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           l.list("KAFKA_BROKERS", "kafka.brokers"),
			ClientID:          l.str("CAREKEEPER_KAFKA_CLIENT_ID", "kafka.client_id", DefaultKafkaClientID),
			DialTimeout:       l.duration("CAREKEEPER_KAFKA_DIAL_TIMEOUT", "kafka.dial_timeout", 10*time.Second),
			NotificationTopic: l.str("CAREKEEPER_NOTIFICATION_TOPIC", "kafka.notification_topic", DefaultNotificationTopic),
			ArchiveTopic:      l.str("CAREKEEPER_ARCHIVE_TOPIC", "kafka.archive_topic", DefaultArchiveTopic),
			Partitions:        int32(l.integer("CAREKEEPER_KAFKA_PARTITIONS", "kafka.partitions", 3)),
			ReplicationFactor: int16(l.integer("CAREKEEPER_KAFKA_REPLICATION", "kafka.replication_factor", 1)),
		},
		Retention: RetentionConfig{
			InactivityThreshold: l.duration("CAREKEEPER_INACTIVITY_THRESHOLD", "retention.inactivity_threshold", DefaultInactivityThreshold),
			GracePeriod:         l.duration("CAREKEEPER_GRACE_PERIOD", "retention.grace_period", DefaultGracePeriod),
			FloorYears:          l.integer("CAREKEEPER_FLOOR_YEARS", "retention.floor_years", DefaultFloorYears),
			TickInterval:        l.duration("CAREKEEPER_TICK_INTERVAL", "retention.tick_interval", DefaultTickInterval),
			LockTTL:             l.duration("CAREKEEPER_LOCK_TTL", "retention.lock_ttl", DefaultLockTTL),
			Concurrency:         l.integer("CAREKEEPER_RETENTION_CONCURRENCY", "retention.concurrency", DefaultConcurrency),
		},
		Audit: AuditConfig{
			BufferSize:       l.integer("CAREKEEPER_AUDIT_BUFFER", "audit.buffer_size", DefaultAuditBuffer),
			BreakerThreshold: l.integer("CAREKEEPER_AUDIT_BREAKER_THRESHOLD", "audit.breaker_threshold", DefaultBreakerThreshold),
			BreakerCooldown:  l.duration("CAREKEEPER_AUDIT_BREAKER_COOLDOWN", "audit.breaker_cooldown", DefaultBreakerCooldown),
			FlushInterval:    l.duration("CAREKEEPER_AUDIT_FLUSH_INTERVAL", "audit.flush_interval", DefaultFlushInterval),
		},
		Access: AccessConfig{
			ConsentGate: l.boolean("CAREKEEPER_CONSENT_GATE", "access.consent_gate", true),
		},
		Log: LogConfig{
			Format: l.str("CAREKEEPER_LOG_FORMAT", "log.format", "json"),
			Level:  l.str("CAREKEEPER_LOG_LEVEL", "log.level", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    l.boolean("CAREKEEPER_TRACING", "tracing.enabled", false),
			Endpoint:   l.str("OTEL_EXPORTER_OTLP_ENDPOINT", "tracing.endpoint", ""),
			Insecure:   l.boolean("CAREKEEPER_TRACING_INSECURE", "tracing.insecure", false),
			SampleRate: l.float("CAREKEEPER_TRACING_SAMPLE_RATE", "tracing.sample_rate", 1),
		},
	}
	for _, raw := range l.list("CAREKEEPER_AUDIT_MANDATORY", "audit.mandatory_types") {
		rt, err := domain.ParseResourceType(raw)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("audit mandatory type %q: %w", raw, err))
			continue
		}
		cfg.Audit.MandatoryTypes = append(cfg.Audit.MandatoryTypes, rt)
	}

	return cfg, append(l.errs, cfg.Validate()...)
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error
	if strings.TrimSpace(c.Server.DPO.Email) == "" {
		errs = append(errs, ErrMissingDPOEmail)
	}
	if c.Retention.InactivityThreshold <= 0 {
		errs = append(errs, ErrThresholdTooShort)
	}
	if c.Retention.GracePeriod <= 0 {
		errs = append(errs, ErrGracePeriodTooShort)
	}
	if c.Retention.FloorYears < DefaultFloorYears {
		errs = append(errs, ErrFloorTooLow)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

// loader resolves one setting from env, then koanf, then the default, and
// collects parse errors instead of failing fast.
type loader struct {
	k    *koanf.Koanf
	errs []error
}

func (l *loader) str(env, key, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if v := l.k.String(key); v != "" {
		return v
	}
	return def
}

func (l *loader) integer(env, key string, def int) int {
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s must be an integer: %w", env, err))
			return def
		}
		return n
	}
	if l.k.Exists(key) {
		return l.k.Int(key)
	}
	return def
}

func (l *loader) boolean(env, key string, def bool) bool {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s must be a boolean: %w", env, err))
			return def
		}
		return b
	}
	if l.k.Exists(key) {
		return l.k.Bool(key)
	}
	return def
}

func (l *loader) float(env, key string, def float64) float64 {
	if v := os.Getenv(env); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s must be a number: %w", env, err))
			return def
		}
		return f
	}
	if l.k.Exists(key) {
		return l.k.Float64(key)
	}
	return def
}

func (l *loader) duration(env, key string, def time.Duration) time.Duration {
	raw := os.Getenv(env)
	if raw == "" {
		raw = l.k.String(key)
	}
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s must be a duration: %w", env, err))
		return def
	}
	return d
}

func (l *loader) list(env, key string) []string {
	if v := os.Getenv(env); v != "" {
		return strutil.DedupeAndTrim(strings.Split(v, ","))
	}
	return strutil.DedupeAndTrim(l.k.Strings(key))
}
