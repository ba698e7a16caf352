package config

import (
	"time"

	"github.com/lueurxax/incident-crawler/internal/notify"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
	"github.com/lueurxax/incident-crawler/internal/process/enrichment"
	"github.com/lueurxax/incident-crawler/internal/process/pipeline"
	"github.com/lueurxax/incident-crawler/internal/providers"
	db "github.com/lueurxax/incident-crawler/internal/storage"
)

const dbHealthCheckPeriod = time.Minute

// DatabasePool returns the Postgres pool settings.
func (c *Config) DatabasePool() db.PoolOptions {
	return db.PoolOptions{
		MaxConns:          c.DBMaxConnections,
		MinConns:          c.DBMinConnections,
		MaxConnIdleTime:   c.DBMaxConnIdleTime,
		MaxConnLifetime:   c.DBMaxConnLifetime,
		HealthCheckPeriod: dbHealthCheckPeriod,
	}
}

// ProviderClient returns the shared HTTP client settings of the providers.
func (c *Config) ProviderClient() providers.ClientConfig {
	return providers.ClientConfig{
		Timeout:     c.ProviderTimeout,
		UserAgent:   c.ProviderUserAgent,
		MinInterval: providers.DefaultMinIntervals(),
		Cooldown:    c.ProviderCooldown,
	}
}

// ProviderSettings returns the per-provider settings.
func (c *Config) ProviderSettings() providers.Settings {
	return providers.Settings{
		GNews:           providers.GNewsConfig{Token: c.GNewsToken, Language: c.NewsLanguage},
		NewsAPI:         providers.NewsAPIConfig{APIKey: c.NewsAPIKey, Language: c.NewsLanguage},
		GoogleNews:      providers.GoogleNewsConfig{Language: c.NewsLanguage},
		GDELT:           providers.GDELTConfig{MaxEmptyWindows: c.GDELTMaxEmptyWindows},
		SemanticScholar: providers.SemanticScholarConfig{APIKey: c.SemanticScholarAPIKey},
		OpenAlex:        providers.OpenAlexConfig{Mailto: c.OpenAlexMailto},
		NVD:             providers.NVDConfig{APIKey: c.NVDAPIKey},
		Disabled:        c.ProvidersDisabled,
	}
}

// Dedup returns the fuzzy matcher settings over the package defaults.
func (c *Config) Dedup() dedup.Config {
	cfg := dedup.DefaultConfig()

	if c.DedupHammingThreshold > 0 {
		cfg.HammingThreshold = c.DedupHammingThreshold
	}

	if c.DedupDateWindowDays > 0 {
		cfg.DateWindowDays = c.DedupDateWindowDays
	}

	if c.DedupSummaryJaccard > 0 {
		cfg.SummaryJaccardMin = c.DedupSummaryJaccard
	}

	cfg.SummaryFallback = c.DedupSummaryFallback

	return cfg
}

// Pipeline returns the cascade settings. Levels are loaded separately.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		RulesVersion:          c.RulesVersion,
		MinYear:               c.MinYear,
		MaxYear:               c.MaxYear,
		RedCutoff:             c.RelevanceRedCutoff,
		ClassificationEnabled: c.ClassifyEnabled,
	}
}

// Enrichment returns the summary enrichment settings.
func (c *Config) Enrichment() enrichment.Config {
	return enrichment.Config{
		MaxTotal:        c.EnrichmentMaxTotal,
		PerDomainBudget: c.EnrichmentPerDomain,
		MinYear:         c.MinYear,
		MaxYear:         c.MaxYear,
		PreferSources:   []string{providers.NameGoogleNews, providers.NameGDELT},
	}
}

// Notify returns the Telegram alert settings.
func (c *Config) Notify() notify.Config {
	return notify.Config{
		ChatID:           c.TargetChatID,
		MinIncidentScore: c.NotifyMinScore,
		PerSecond:        c.NotifyPerSecond,
	}
}
