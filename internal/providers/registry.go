package providers

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

// Settings holds the per-provider configuration of every category.
type Settings struct {
	GNews           GNewsConfig
	NewsAPI         NewsAPIConfig
	GoogleNews      GoogleNewsConfig
	GDELT           GDELTConfig
	SemanticScholar SemanticScholarConfig
	OpenAlex        OpenAlexConfig
	Arxiv           ArxivConfig
	NVD             NVDConfig

	// Disabled lists provider names to leave out, case-insensitive.
	Disabled []string
}

// ForCategory builds the ordered provider list of a category. Key-based
// providers without a key are left out.
func ForCategory(category domain.Category, s Settings, client *Client, logger *zerolog.Logger) ([]Provider, error) {
	var all []Provider

	switch category {
	case domain.CategoryNews:
		if s.GNews.Token != "" {
			all = append(all, NewGNews(s.GNews, client))
		} else {
			logger.Info().Str("provider", NameGNews).Msg("no API token, provider disabled")
		}

		if s.NewsAPI.APIKey != "" {
			all = append(all, NewNewsAPI(s.NewsAPI, client))
		} else {
			logger.Info().Str("provider", NameNewsAPI).Msg("no API key, provider disabled")
		}

		all = append(all, NewGoogleNews(s.GoogleNews, client), NewGDELT(s.GDELT, client))
	case domain.CategoryPapers:
		all = append(all,
			NewSemanticScholar(s.SemanticScholar, client),
			NewOpenAlex(s.OpenAlex, client),
			NewArxiv(s.Arxiv, client),
		)
	case domain.CategoryVulnerabilities:
		all = append(all, NewNVD(s.NVD, client))
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownCategory, category)
	}

	disabled := make(map[string]struct{}, len(s.Disabled))
	for _, name := range s.Disabled {
		disabled[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	out := make([]Provider, 0, len(all))
	for _, p := range all {
		if _, off := disabled[strings.ToLower(p.Name())]; off {
			continue
		}

		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no provider enabled for %s", apperrors.ErrClientDisabled, category)
	}

	return out, nil
}
