package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database   *dbConfig
	Service    *svcConfig
	Gating     *gatingConfig
	Council    *councilConfig
	Enrichment *enrichmentConfig
	Worker     *workerConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"leadqual"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address        string `envconfig:"LEADQUAL_ADDRESS" default:":3443"`
	MetricsAddress string `envconfig:"LEADQUAL_METRICS_ADDRESS" default:":8080"`
	BaseUrl        string `envconfig:"LEADQUAL_BASE_URL" default:"https://localhost:3443"`
	LogLevel       string `envconfig:"LEADQUAL_LOG_LEVEL" default:"info"`
}

type gatingConfig struct {
	RejectThreshold int `envconfig:"LEADQUAL_REJECT_THRESHOLD" default:"30"`
	AcceptThreshold int `envconfig:"LEADQUAL_ACCEPT_THRESHOLD" default:"60"`
}

type councilConfig struct {
	Evaluators        int           `envconfig:"LEADQUAL_COUNCIL_EVALUATORS" default:"4"`
	EvaluatorTimeout  time.Duration `envconfig:"LEADQUAL_COUNCIL_EVALUATOR_TIMEOUT" default:"30s"`
	CompletionBaseUrl string        `envconfig:"LEADQUAL_COMPLETION_BASE_URL" default:"http://localhost:8000"`
	CompletionModel   string        `envconfig:"LEADQUAL_COMPLETION_MODEL" default:"default"`
	CompletionApiKey  string        `envconfig:"LEADQUAL_COMPLETION_API_KEY" default:""`
	RequestsPerSecond float64       `envconfig:"LEADQUAL_COMPLETION_RPS" default:"2"`
}

type enrichmentConfig struct {
	PerCallTimeout time.Duration  `envconfig:"LEADQUAL_ENRICH_PER_CALL_TIMEOUT" default:"10s"`
	OverallTimeout time.Duration  `envconfig:"LEADQUAL_ENRICH_OVERALL_TIMEOUT" default:"30s"`
	DefaultQuota   int            `envconfig:"LEADQUAL_DEFAULT_QUOTA" default:"60"`
	QuotaWindow    time.Duration  `envconfig:"LEADQUAL_QUOTA_WINDOW" default:"1m"`
	ServiceQuotas  map[string]int `envconfig:"LEADQUAL_SERVICE_QUOTAS" default:""`
	// provider name -> endpoint url, e.g. "website:http://enrich/website,reviews:http://enrich/reviews"
	AdapterEndpoints map[string]string `envconfig:"LEADQUAL_ADAPTER_ENDPOINTS" default:""`
}

type workerConfig struct {
	Count        int           `envconfig:"LEADQUAL_WORKER_COUNT" default:"4"`
	MaxRetries   int           `envconfig:"LEADQUAL_MAX_RETRIES" default:"3"`
	PollInterval time.Duration `envconfig:"LEADQUAL_POLL_INTERVAL" default:"1s"`
	ClaimTTL     time.Duration `envconfig:"LEADQUAL_CLAIM_TTL" default:"5m"`
	JobTimeout   time.Duration `envconfig:"LEADQUAL_JOB_TIMEOUT" default:"5m"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
		if err := singleConfig.Validate(); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a sqlite-backed config, used by tests and local dev.
func NewDefault() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	cfg.Database.Type = "sqlite"
	// shared cache keeps every pooled connection on the same in-memory db
	cfg.Database.Name = "file::memory:?cache=shared&_busy_timeout=5000"
	return cfg, nil
}

// Validate fails fast on configuration the engine cannot run with.
func (c *Config) Validate() error {
	if c.Gating.RejectThreshold >= c.Gating.AcceptThreshold {
		return fmt.Errorf("configuration error: reject threshold %d must be lower than accept threshold %d",
			c.Gating.RejectThreshold, c.Gating.AcceptThreshold)
	}
	if c.Gating.RejectThreshold < 0 || c.Gating.AcceptThreshold > 100 {
		return fmt.Errorf("configuration error: thresholds must stay within [0,100]")
	}
	if c.Council.Evaluators < 1 {
		return fmt.Errorf("configuration error: council needs at least one evaluator")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("configuration error: worker count must be positive")
	}
	if c.Enrichment.DefaultQuota < 1 {
		return fmt.Errorf("configuration error: default quota must be positive")
	}
	return nil
}

// QuotaFor returns the request quota for an external service name.
func (c *Config) QuotaFor(service string) int {
	if q, ok := c.Enrichment.ServiceQuotas[service]; ok {
		return q
	}
	return c.Enrichment.DefaultQuota
}
