// Package config loads runtime configuration with env as the primary
// source, an optional YAML file (CONFIG_PATH) as the secondary source,
// and built-in defaults as the tertiary source.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
	PathPolicy PathPolicyConfig
	Storage   StorageConfig
	TMS       TMSConfig
	TSA       TSAConfig
	Signing   SigningConfig
	Idempotency IdempotencyConfig
	Dispatcher DispatcherConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Metrics   MetricsConfig
	Snapshot  SnapshotConfig
	Renderer  RendererConfig
	Archive   ArchiveConfig
	History   HistoryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	ShutdownDrainSeconds  int
}

// WebhookConfig controls ingress HMAC verification (§4.11.4).
type WebhookConfig struct {
	Secret               string
	AllowUnsigned        bool
	RequireDeliveryID    bool
	MaxBodyBytes         int64
}

// RateLimitConfig controls the token-bucket rate limiter (§4.11.3).
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	TrustedHeader     string
}

// PathPolicyConfig controls C1's segment and prefix rules (§4.1).
type PathPolicyConfig struct {
	ArchivePathField     string
	ArchiveUserField     string
	ArchiveUserModeField string
	AllowedPrefixes      []string
	AllowedPrefixesIsSet bool
	MaxDepth             int
	MaxSegmentLength     int
	FilenamePattern      string
}

// StorageConfig controls C2 (§4.2).
type StorageConfig struct {
	Root string
}

// TMSConfig controls C7 (§4.7).
type TMSConfig struct {
	BaseURL                  string
	Token                    string
	TimeoutSeconds           int
	AllowInsecureTransport   bool
	AllowDisabledTLSVerify   bool
	AllowLoopbackOrLinkLocal bool
	InsecureSkipVerify       bool
	TagNames                 TagNamesConfig
	RequireTriggerTag        bool
}

// TagNamesConfig names the four configurable tag values (§4.5).
type TagNamesConfig struct {
	Trigger    string
	Processing string
	Done       string
	Error      string
}

// TSAConfig controls the optional RFC3161 timestamp authority (§4.9).
type TSAConfig struct {
	Enabled        bool
	URL            string
	Username       string
	Password       string
	TimeoutSeconds int
}

// SigningConfig controls C10 (§4.10).
type SigningConfig struct {
	Enabled      bool
	PKCS12Path   string
	PKCS12Password string
}

// IdempotencyConfig controls C4 (§4.4).
type IdempotencyConfig struct {
	DeliveryTTLSeconds int
	UseRedis           bool
	RedisKeyPrefix     string
}

// DispatcherConfig controls C13 (§4.13).
type DispatcherConfig struct {
	MaxConcurrency int
	QueueCapacity  int
	UseExternalQueue bool
	StreamKey        string
	ConsumerGroup    string
	MaxAttempts      int
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// MetricsConfig controls the /metrics surface.
type MetricsConfig struct {
	BearerToken string
}

// SnapshotConfig controls C8's article-count cap policy (§4.8).
type SnapshotConfig struct {
	ArticleLimit int
	LimitMode    string
}

// RendererConfig points at the out-of-scope HTML-to-PDF rendering
// engine; the orchestrator treats it as an opaque bytes producer.
type RendererConfig struct {
	URL            string
	TimeoutSeconds int
}

// ArchiveConfig controls archive-level opt-in behaviour beyond the
// default metadata-only handling of attachments.
type ArchiveConfig struct {
	PersistAttachmentContent bool
	MaxAttachmentBytes       int64
}

// HistoryConfig bounds the in-memory job-outcome ledger.
type HistoryConfig struct {
	Size int
}

type yamlTree map[string]any

// Load reads configuration from environment variables (primary), an
// optional YAML file named by CONFIG_PATH (secondary), and built-in
// defaults (tertiary).
func Load() (*Config, error) {
	_ = godotenv.Load()

	tree := loadYAMLTree(os.Getenv("CONFIG_PATH"))

	cfg := &Config{
		App: AppConfig{
			Name:                  getString(tree, "app.name", "APP_NAME", "ticket-archiver"),
			Env:                   getString(tree, "app.env", "APP_ENV", "development"),
			Host:                  getString(tree, "app.host", "APP_HOST", "0.0.0.0"),
			Port:                  getString(tree, "app.port", "APP_PORT", "8080"),
			Version:               getString(tree, "app.version", "APP_VERSION", "dev"),
			RequestTimeoutSeconds: getInt(tree, "app.request_timeout_seconds", "HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			ShutdownDrainSeconds:  getInt(tree, "app.shutdown_drain_seconds", "SHUTDOWN_DRAIN_SECONDS", 30),
		},
		Webhook: WebhookConfig{
			Secret:            getString(tree, "webhook.secret", "WEBHOOK_SECRET", ""),
			AllowUnsigned:     getBool(tree, "webhook.allow_unsigned", "WEBHOOK_ALLOW_UNSIGNED", false),
			RequireDeliveryID: getBool(tree, "webhook.require_delivery_id", "WEBHOOK_REQUIRE_DELIVERY_ID", true),
			MaxBodyBytes:      int64(getInt(tree, "webhook.max_body_bytes", "WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getFloat(tree, "rate_limit.requests_per_second", "RATE_LIMIT_RPS", 5.0),
			Burst:             getInt(tree, "rate_limit.burst", "RATE_LIMIT_BURST", 10),
			TrustedHeader:     getString(tree, "rate_limit.trusted_header", "RATE_LIMIT_TRUSTED_HEADER", ""),
		},
		PathPolicy: PathPolicyConfig{
			ArchivePathField:     getString(tree, "path_policy.archive_path_field", "PATH_POLICY_ARCHIVE_PATH_FIELD", "archive_path"),
			ArchiveUserField:     getString(tree, "path_policy.archive_user_field", "PATH_POLICY_ARCHIVE_USER_FIELD", "archive_user"),
			ArchiveUserModeField: getString(tree, "path_policy.archive_user_mode_field", "PATH_POLICY_ARCHIVE_USER_MODE_FIELD", "archive_user_mode"),
			MaxDepth:             getInt(tree, "path_policy.max_depth", "PATH_POLICY_MAX_DEPTH", 10),
			MaxSegmentLength:     getInt(tree, "path_policy.max_segment_length", "PATH_POLICY_MAX_SEGMENT_LENGTH", 64),
			FilenamePattern:      getString(tree, "path_policy.filename_pattern", "PATH_POLICY_FILENAME_PATTERN", "Ticket-{ticket_number}_{timestamp_utc}.pdf"),
		},
		Storage: StorageConfig{
			Root: getString(tree, "storage.root", "STORAGE_ROOT", ""),
		},
		TMS: TMSConfig{
			BaseURL:                  getString(tree, "tms.base_url", "TMS_BASE_URL", ""),
			Token:                    getString(tree, "tms.token", "TMS_TOKEN", ""),
			TimeoutSeconds:           getInt(tree, "tms.timeout_seconds", "TMS_TIMEOUT_SECONDS", 10),
			AllowInsecureTransport:   getBool(tree, "tms.allow_insecure_transport", "TMS_ALLOW_INSECURE_TRANSPORT", false),
			AllowDisabledTLSVerify:   getBool(tree, "tms.allow_disabled_tls_verify", "TMS_ALLOW_DISABLED_TLS_VERIFY", false),
			AllowLoopbackOrLinkLocal: getBool(tree, "tms.allow_loopback_or_link_local", "TMS_ALLOW_LOOPBACK_OR_LINK_LOCAL", false),
			InsecureSkipVerify:       getBool(tree, "tms.insecure_skip_verify", "TMS_INSECURE_SKIP_VERIFY", false),
			RequireTriggerTag:        getBool(tree, "tms.require_trigger_tag", "TMS_REQUIRE_TRIGGER_TAG", true),
			TagNames: TagNamesConfig{
				Trigger:    getString(tree, "tms.tag_names.trigger", "TMS_TAG_TRIGGER", "pdf:sign"),
				Processing: getString(tree, "tms.tag_names.processing", "TMS_TAG_PROCESSING", "pdf:processing"),
				Done:       getString(tree, "tms.tag_names.done", "TMS_TAG_DONE", "pdf:signed"),
				Error:      getString(tree, "tms.tag_names.error", "TMS_TAG_ERROR", "pdf:error"),
			},
		},
		TSA: TSAConfig{
			Enabled:        getBool(tree, "tsa.enabled", "TSA_ENABLED", false),
			URL:            getString(tree, "tsa.url", "TSA_URL", ""),
			Username:       getString(tree, "tsa.username", "TSA_USERNAME", ""),
			Password:       getString(tree, "tsa.password", "TSA_PASSWORD", ""),
			TimeoutSeconds: getInt(tree, "tsa.timeout_seconds", "TSA_TIMEOUT_SECONDS", 10),
		},
		Signing: SigningConfig{
			Enabled:        getBool(tree, "signing.enabled", "SIGNING_ENABLED", false),
			PKCS12Path:     getString(tree, "signing.pkcs12_path", "SIGNING_PKCS12_PATH", ""),
			PKCS12Password: getString(tree, "signing.pkcs12_password", "SIGNING_PKCS12_PASSWORD", ""),
		},
		Idempotency: IdempotencyConfig{
			DeliveryTTLSeconds: getInt(tree, "idempotency.delivery_ttl_seconds", "IDEMPOTENCY_DELIVERY_TTL_SECONDS", 86400),
			UseRedis:           getBool(tree, "idempotency.use_redis", "IDEMPOTENCY_USE_REDIS", false),
			RedisKeyPrefix:     getString(tree, "idempotency.redis_key_prefix", "IDEMPOTENCY_REDIS_KEY_PREFIX", "ticket-archiver:delivery_id:"),
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrency:   getInt(tree, "dispatcher.max_concurrency", "DISPATCHER_MAX_CONCURRENCY", 8),
			QueueCapacity:    getInt(tree, "dispatcher.queue_capacity", "DISPATCHER_QUEUE_CAPACITY", 256),
			UseExternalQueue: getBool(tree, "dispatcher.use_external_queue", "DISPATCHER_USE_EXTERNAL_QUEUE", false),
			StreamKey:        getString(tree, "dispatcher.stream_key", "DISPATCHER_STREAM_KEY", "ticket-archiver:jobs"),
			ConsumerGroup:    getString(tree, "dispatcher.consumer_group", "DISPATCHER_CONSUMER_GROUP", "ticket-archiver"),
			MaxAttempts:      getInt(tree, "dispatcher.max_attempts", "DISPATCHER_MAX_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			Addr:     getString(tree, "redis.addr", "REDIS_ADDR", "127.0.0.1:6379"),
			Password: getString(tree, "redis.password", "REDIS_PASSWORD", ""),
			DB:       getInt(tree, "redis.db", "REDIS_DB", 0),
		},
		Logger: LoggerConfig{
			Level: getString(tree, "logger.level", "LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			BearerToken: getString(tree, "metrics.bearer_token", "METRICS_BEARER_TOKEN", ""),
		},
		Snapshot: SnapshotConfig{
			ArticleLimit: getInt(tree, "snapshot.article_limit", "SNAPSHOT_ARTICLE_LIMIT", 500),
			LimitMode:    getString(tree, "snapshot.limit_mode", "SNAPSHOT_LIMIT_MODE", "fail"),
		},
		Renderer: RendererConfig{
			URL:            getString(tree, "renderer.url", "RENDERER_URL", ""),
			TimeoutSeconds: getInt(tree, "renderer.timeout_seconds", "RENDERER_TIMEOUT_SECONDS", 20),
		},
		Archive: ArchiveConfig{
			PersistAttachmentContent: getBool(tree, "archive.attachments.persist_content", "ARCHIVE_ATTACHMENTS_PERSIST_CONTENT", false),
			MaxAttachmentBytes:       int64(getInt(tree, "archive.attachments.max_bytes", "ARCHIVE_ATTACHMENTS_MAX_BYTES", 25<<20)),
		},
		History: HistoryConfig{
			Size: getInt(tree, "history.size", "HISTORY_SIZE", 200),
		},
	}

	if raw, ok := os.LookupEnv("PATH_POLICY_ALLOWED_PREFIXES"); ok {
		cfg.PathPolicy.AllowedPrefixes = splitNonEmpty(raw, ",")
		cfg.PathPolicy.AllowedPrefixesIsSet = true
	} else if val, ok := lookupYAML(tree, "path_policy.allowed_prefixes"); ok {
		if list, ok := val.([]any); ok {
			cfg.PathPolicy.AllowedPrefixesIsSet = true
			for _, item := range list {
				if s, ok := item.(string); ok {
					cfg.PathPolicy.AllowedPrefixes = append(cfg.PathPolicy.AllowedPrefixes, s)
				}
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ShutdownDrain returns the configured graceful-shutdown drain deadline.
func (a AppConfig) ShutdownDrain() time.Duration {
	return time.Duration(a.ShutdownDrainSeconds) * time.Second
}

func loadYAMLTree(path string) yamlTree {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var tree yamlTree
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil
	}
	return tree
}

func lookupYAML(tree yamlTree, dottedKey string) (any, bool) {
	if tree == nil {
		return nil, false
	}
	parts := splitNonEmpty(dottedKey, ".")
	var cursor any = map[string]any(tree)
	for _, part := range parts {
		m, ok := cursor.(map[string]any)
		if !ok {
			return nil, false
		}
		cursor, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cursor, true
}

func getString(tree yamlTree, yamlKey, envKey, fallback string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if val, ok := lookupYAML(tree, yamlKey); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return fallback
}

func getInt(tree yamlTree, yamlKey, envKey string, fallback int) int {
	if val := os.Getenv(envKey); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	if val, ok := lookupYAML(tree, yamlKey); ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return fallback
}

func getFloat(tree yamlTree, yamlKey, envKey string, fallback float64) float64 {
	if val := os.Getenv(envKey); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	if val, ok := lookupYAML(tree, yamlKey); ok {
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return fallback
}

func getBool(tree yamlTree, yamlKey, envKey string, fallback bool) bool {
	if val := os.Getenv(envKey); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	if val, ok := lookupYAML(tree, yamlKey); ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return fallback
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
