package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv     string `env:"APP_ENV" envDefault:"local"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8080"`

	// Run state and audit files
	StateDir     string `env:"STATE_DIR" envDefault:"output/state"`
	AuditDir     string `env:"AUDIT_DIR" envDefault:"output/audit"`
	KeywordsFile string `env:"KEYWORDS_FILE" envDefault:"config/keywords.txt"`

	// Postgres archive of kept items and discards. Empty disables it.
	PostgresDSN       string        `env:"POSTGRES_DSN"`
	DBMaxConnections  int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections  int32         `env:"DB_MIN_CONNECTIONS" envDefault:"1"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`

	// Redis backs the classification cache and notification dedup. Empty disables both.
	RedisURL string `env:"REDIS_URL"`

	// Rules
	RulesVersion       string `env:"RULES_VERSION" envDefault:"rules@v1"`
	RelevanceLexicon   string `env:"RELEVANCE_LEXICON_PATH"`
	IncidentLexicon    string `env:"INCIDENT_LEXICON_PATH"`
	IncidentMode       string `env:"INCIDENT_MODE" envDefault:"standard"`
	IncidentScope      string `env:"INCIDENT_SCOPE" envDefault:"auto-only"`
	RelevanceRedCutoff int    `env:"RELEVANCE_RED_CUTOFF" envDefault:"4"`
	MinYear            int    `env:"MIN_YEAR" envDefault:"2020"`
	MaxYear            int    `env:"MAX_YEAR" envDefault:"0"`

	// Dedup
	DedupHammingThreshold int     `env:"DEDUP_HAMMING_THRESHOLD" envDefault:"8"`
	DedupDateWindowDays   int     `env:"DEDUP_DATE_WINDOW_DAYS" envDefault:"3"`
	DedupSummaryFallback  bool    `env:"DEDUP_SUMMARY_FALLBACK" envDefault:"true"`
	DedupSummaryJaccard   float64 `env:"DEDUP_SUMMARY_JACCARD_MIN" envDefault:"0.7"`

	// Provider HTTP client
	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	ProviderUserAgent string        `env:"PROVIDER_USER_AGENT" envDefault:"incident-crawler/1.0"`
	ProviderCooldown  time.Duration `env:"PROVIDER_COOLDOWN" envDefault:"10m"`
	ProvidersDisabled []string      `env:"PROVIDERS_DISABLED" envSeparator:","`

	// Provider credentials
	GNewsToken            string `env:"GNEWS_API_TOKEN"`
	NewsAPIKey            string `env:"NEWSAPI_API_KEY"`
	SemanticScholarAPIKey string `env:"SEMANTIC_SCHOLAR_API_KEY"`
	NVDAPIKey             string `env:"NVD_API_KEY"`
	OpenAlexMailto        string `env:"OPENALEX_MAILTO"`
	NewsLanguage          string `env:"NEWS_LANGUAGE" envDefault:"en"`
	GDELTMaxEmptyWindows  int    `env:"GDELT_MAX_EMPTY_WINDOWS" envDefault:"6"`

	// Summary enrichment
	EnrichmentEnabled   bool          `env:"ENRICHMENT_ENABLED" envDefault:"true"`
	EnrichmentMaxTotal  int           `env:"ENRICHMENT_MAX_TOTAL" envDefault:"200"`
	EnrichmentPerDomain int           `env:"ENRICHMENT_PER_DOMAIN" envDefault:"5"`
	WebFetchRPS         float64       `env:"WEB_FETCH_RPS" envDefault:"2"`
	WebFetchTimeout     time.Duration `env:"WEB_FETCH_TIMEOUT" envDefault:"20s"`
	EnrichmentAllowlist string        `env:"ENRICHMENT_ALLOWLIST_DOMAINS" envDefault:""`
	EnrichmentDenylist  string        `env:"ENRICHMENT_DENYLIST_DOMAINS" envDefault:""`

	// Zero-shot classification
	ClassifyEnabled   bool          `env:"CLASSIFY_ENABLED" envDefault:"false"`
	LevelsPath        string        `env:"CLASSIFY_LEVELS_PATH"`
	LLMAPIKey         string        `env:"LLM_API_KEY"`
	LLMBaseURL        string        `env:"LLM_BASE_URL"`
	LLMModel          string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMRPS            float64       `env:"LLM_RPS" envDefault:"1"`
	ZeroShotEndpoints []string      `env:"ZEROSHOT_ENDPOINTS" envSeparator:","`
	ZeroShotToken     string        `env:"ZEROSHOT_TOKEN"`
	ZeroShotRPS       float64       `env:"ZEROSHOT_RPS" envDefault:"2"`
	ClassifyCacheTTL  time.Duration `env:"CLASSIFY_CACHE_TTL" envDefault:"168h"`

	// Telegram alerts. An empty token disables them.
	BotToken        string        `env:"BOT_TOKEN"`
	TargetChatID    int64         `env:"TARGET_CHAT_ID"`
	NotifyMinScore  int           `env:"NOTIFY_MIN_INCIDENT_SCORE" envDefault:"0"`
	NotifyPerSecond float64       `env:"NOTIFY_PER_SECOND" envDefault:"1"`
	NotifyDedupTTL  time.Duration `env:"NOTIFY_DEDUP_TTL" envDefault:"2160h"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	applyCredentialAliases(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyCredentialAliases accepts the alternative names the provider keys are
// commonly exported under.
func applyCredentialAliases(cfg *Config) {
	if !hasEnv("NEWSAPI_API_KEY") {
		setStringFromEnv("NEWSAPI_API_TOKEN", &cfg.NewsAPIKey)
	}

	if !hasEnv("SEMANTIC_SCHOLAR_API_KEY") {
		setStringFromEnv("S2_API_KEY", &cfg.SemanticScholarAPIKey)
	}
}

func (c *Config) validate() error {
	if c.BotToken != "" && c.TargetChatID == 0 {
		return fmt.Errorf("TARGET_CHAT_ID is required when BOT_TOKEN is set")
	}

	if c.MaxYear != 0 && c.MaxYear < c.MinYear {
		return fmt.Errorf("MAX_YEAR %d is before MIN_YEAR %d", c.MaxYear, c.MinYear)
	}

	return nil
}

func hasEnv(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func setStringFromEnv(key string, target *string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	val = strings.TrimSpace(val)
	if val == "" {
		return
	}

	*target = val
}
