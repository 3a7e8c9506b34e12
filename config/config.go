package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// SourceConfig beschreibt Endpunkt und Limits einer externen Quelle.
type SourceConfig struct {
	BaseURL      string
	RPS          float64
	Burst        int
	MaxBatchSize int
	Timeout      time.Duration
}

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	// Kanal für Fortschritts-Events der Pipeline
	ProgressChannel string `envconfig:"PROGRESS_CHANNEL" default:"pipeline-progress"`

	CacheAnnotationTTL time.Duration `envconfig:"CACHE_ANNOTATION_TTL" default:"24h"`
	CacheEvidenceTTL   time.Duration `envconfig:"CACHE_EVIDENCE_TTL" default:"1h"`
	CachePercentileTTL time.Duration `envconfig:"CACHE_PERCENTILE_TTL" default:"6h"`
	CacheL1Size        int           `envconfig:"CACHE_L1_SIZE" default:"10000"`

	WorkerPoolSize      int           `envconfig:"WORKER_POOL_SIZE" default:"4"`
	CheckpointChunkSize int           `envconfig:"CHECKPOINT_CHUNK_SIZE" default:"200"`
	PercentileTimeout   time.Duration `envconfig:"PERCENTILE_TIMEOUT" default:"5s"`
	PercentileInterval  time.Duration `envconfig:"PERCENTILE_MIN_INTERVAL" default:"5m"`

	RetryMaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay       time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	BreakerThreshold    int           `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerWindow       time.Duration `envconfig:"BREAKER_WINDOW" default:"1m"`
	BreakerCooldown     time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
	DefaultFetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`

	HGNCBaseURL string  `envconfig:"HGNC_BASE_URL" default:"https://rest.genenames.org"`
	HGNCRPS     float64 `envconfig:"HGNC_RPS" default:"10"`
	HGNCBatch   int     `envconfig:"HGNC_BATCH_SIZE" default:"100"`

	MyGeneBaseURL string  `envconfig:"MYGENE_BASE_URL" default:"https://mygene.info/v3"`
	MyGeneRPS     float64 `envconfig:"MYGENE_RPS" default:"5"`
	MyGeneBatch   int     `envconfig:"MYGENE_BATCH_SIZE" default:"1000"`

	PubMedBaseURL string  `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey  string  `envconfig:"PUBMED_API_KEY"`
	PubMedEmail   string  `envconfig:"PUBMED_EMAIL"`
	PubMedTool    string  `envconfig:"PUBMED_TOOL" default:"kidney-genetics-fetcher"`
	PubMedRPS     float64 `envconfig:"PUBMED_RPS" default:"3"`

	EuropePMCBaseURL string  `envconfig:"EUROPEPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest"`
	EuropePMCRPS     float64 `envconfig:"EUROPEPMC_RPS" default:"5"`

	ClinVarRPS float64 `envconfig:"CLINVAR_RPS" default:"3"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`
	WeightsFile  string `envconfig:"WEIGHTS_FILE" default:"weights.yaml"`

	StratoS3Key    string `envconfig:"STRATO_S3_KEY"`
	StratoS3Secret string `envconfig:"STRATO_S3_SECRET"`
	StratoS3URL    string `envconfig:"STRATO_S3_URL"`
	StratoS3Region string `envconfig:"STRATO_S3_REGION" default:"eu-central-1"`
	StratoS3Bucket string `envconfig:"STRATO_S3_BUCKET"`

	// Provider-Konfiguration
	EnabledProviders string `envconfig:"ENABLED_PROVIDERS" default:"hgnc,mygene,pubmed,europepmc,clinvar"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// S3Enabled meldet, ob ein Upload-Archiv konfiguriert ist.
func (c *Config) S3Enabled() bool {
	return c.StratoS3URL != "" && c.StratoS3Bucket != "" && c.StratoS3Key != ""
}

// Providers gibt die aktivierten Provider-Namen zurück.
func (c *Config) Providers() []string {
	var out []string
	for _, name := range strings.Split(c.EnabledProviders, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Source liefert die Quellen-Konfiguration für einen Provider.
func (c *Config) Source(name string) SourceConfig {
	sc := SourceConfig{Burst: 1, MaxBatchSize: 1, Timeout: c.DefaultFetchTimeout}
	switch name {
	case "hgnc":
		sc.BaseURL, sc.RPS, sc.MaxBatchSize = c.HGNCBaseURL, c.HGNCRPS, c.HGNCBatch
	case "mygene":
		sc.BaseURL, sc.RPS, sc.MaxBatchSize = c.MyGeneBaseURL, c.MyGeneRPS, c.MyGeneBatch
	case "pubmed":
		sc.BaseURL, sc.RPS = c.PubMedBaseURL, c.PubMedRPS
	case "clinvar":
		sc.BaseURL, sc.RPS = c.PubMedBaseURL, c.ClinVarRPS
	case "europepmc":
		sc.BaseURL, sc.RPS = c.EuropePMCBaseURL, c.EuropePMCRPS
	}
	if sc.RPS <= 0 {
		sc.RPS = 1
	}
	if sc.RPS >= 2 {
		sc.Burst = int(sc.RPS)
	}
	return sc
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
