package config

import (
	"encoding/json"
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Queue    *queueConfig
	Runtime  *runtimeConfig
	Lookup   *lookupConfig
	Events   *eventsConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"inference_queue"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string   `envconfig:"INFERENCE_QUEUE_ADDRESS" default:":3443"`
	MetricsAddress  string   `envconfig:"INFERENCE_QUEUE_METRICS_ADDRESS" default:":8080"`
	LogLevel        string   `envconfig:"INFERENCE_QUEUE_LOG_LEVEL" default:"info"`
	MigrationFolder string   `envconfig:"INFERENCE_QUEUE_MIGRATIONS_FOLDER" default:""`
	PoliciesFolder  string   `envconfig:"INFERENCE_QUEUE_POLICIES_FOLDER" default:""`
	AllowedOrigins  []string `envconfig:"INFERENCE_QUEUE_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	Auth            Auth
}

type Auth struct {
	AuthenticationType string `envconfig:"INFERENCE_QUEUE_AUTH" default:"header"`
	UserHeader         string `envconfig:"INFERENCE_QUEUE_AUTH_USER_HEADER" default:"X-User-ID"`
	JwkCertURL         string `envconfig:"INFERENCE_QUEUE_AUTH_JWK_CERT_URL" default:""`
}

type queueConfig struct {
	MaxRetries                    int           `envconfig:"QUEUE_MAX_RETRIES" default:"3"`
	HumanReviewThreshold          float64       `envconfig:"QUEUE_HUMAN_REVIEW_THRESHOLD" default:"0.7"`
	ComplianceConfidenceThreshold float64       `envconfig:"QUEUE_COMPLIANCE_CONFIDENCE_THRESHOLD" default:"0.8"`
	LeaseDuration                 time.Duration `envconfig:"QUEUE_LEASE_DURATION" default:"5m"`
	PollInterval                  time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"500ms"`
	ReaperInterval                time.Duration `envconfig:"QUEUE_REAPER_INTERVAL" default:"30s"`
	Workers                       int           `envconfig:"QUEUE_WORKERS" default:"4"`
	ExecutionSlots                int64         `envconfig:"QUEUE_EXECUTION_SLOTS" default:"2"`
	RuntimeTimeout                time.Duration `envconfig:"QUEUE_RUNTIME_TIMEOUT" default:"2m"`
	RetryInitialBackoff           time.Duration `envconfig:"QUEUE_RETRY_INITIAL_BACKOFF" default:"2s"`
	RetryMaxBackoff               time.Duration `envconfig:"QUEUE_RETRY_MAX_BACKOFF" default:"10s"`
	RetryPriorityDecay            int           `envconfig:"QUEUE_RETRY_PRIORITY_DECAY" default:"0"`
	ContextWindow                 int           `envconfig:"QUEUE_CONTEXT_WINDOW" default:"10"`
	CancelCheckInterval           time.Duration `envconfig:"QUEUE_CANCEL_CHECK_INTERVAL" default:"2s"`
}

type runtimeConfig struct {
	BaseURL string `envconfig:"RUNTIME_BASE_URL" default:"http://localhost:11434/v1"`
	Model   string `envconfig:"RUNTIME_MODEL" default:"llama3.1:8b"`
	Token   string `envconfig:"RUNTIME_TOKEN" default:"ollama"`
}

type lookupConfig struct {
	CRMBaseURL       string        `envconfig:"LOOKUP_CRM_BASE_URL" default:""`
	PortfolioBaseURL string        `envconfig:"LOOKUP_PORTFOLIO_BASE_URL" default:""`
	Timeout          time.Duration `envconfig:"LOOKUP_TIMEOUT" default:"10s"`
	CacheSize        int           `envconfig:"LOOKUP_CACHE_SIZE" default:"512"`
	CacheTTL         time.Duration `envconfig:"LOOKUP_CACHE_TTL" default:"5m"`
}

type eventsConfig struct {
	Writer  string `envconfig:"EVENTS_WRITER" default:"stdout"`
	NatsURL string `envconfig:"EVENTS_NATS_URL" default:"nats://localhost:4222"`
	Subject string `envconfig:"EVENTS_SUBJECT" default:"compliance.inference.jobs"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns the default configuration backed by an in-memory sqlite
// database. It is meant for tests and local runs.
func NewDefault() *Config {
	cfg := new(Config)
	if err := envconfig.Process("inference_queue_default", cfg); err != nil {
		panic(err)
	}
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = "file::memory:?cache=shared"
	return cfg
}

func (c *Config) String() string {
	val, _ := json.Marshal(c)
	return string(val)
}
