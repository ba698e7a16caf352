package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	NameNVD = "NVD"

	nvdBaseURL   = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	nvdDetailURL = "https://nvd.nist.gov/vuln/detail/"
	nvdPageSize  = 200
	nvdMaxPages  = 10
	nvdMethod    = "cves-2.0"
	nvdLangEN    = "en"
	headerNVDKey = "apiKey"
)

// NVDConfig configures the NVD CVE 2.0 provider.
type NVDConfig struct {
	BaseURL  string
	APIKey   string
	PageSize int
	MaxPages int
}

// NVD runs keyword searches against the NVD CVE API, paging by startIndex.
type NVD struct {
	tracker
	cfg    NVDConfig
	client *Client
}

// NewNVD builds the provider. The API key is optional and raises the quota.
func NewNVD(cfg NVDConfig, client *Client) *NVD {
	if cfg.BaseURL == "" {
		cfg.BaseURL = nvdBaseURL
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = nvdPageSize
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = nvdMaxPages
	}

	return &NVD{tracker: newTracker(), cfg: cfg, client: client}
}

func (n *NVD) Name() string { return NameNVD }

type nvdResponse struct {
	ResultsPerPage  int `json:"resultsPerPage"`
	StartIndex      int `json:"startIndex"`
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Published    string `json:"published"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

func (n *NVD) Search(ctx context.Context, keyword string) ([]domain.Observation, error) {
	start := 0
	if next := n.startKeyword(keyword); next != "" {
		if v, err := strconv.Atoi(next); err == nil && v > 0 {
			start = v
		}
	}

	var headers http.Header
	if n.cfg.APIKey != "" {
		headers = http.Header{}
		headers.Set(headerNVDKey, n.cfg.APIKey)
	}

	var out []domain.Observation

	for page := 0; page < n.cfg.MaxPages; page++ {
		params := url.Values{
			"keywordSearch":  {strings.TrimSpace(keyword)},
			"startIndex":     {strconv.Itoa(start)},
			"resultsPerPage": {strconv.Itoa(n.cfg.PageSize)},
		}

		var resp nvdResponse
		if err := n.client.GetJSON(ctx, NameNVD, n.cfg.BaseURL, params, headers, &resp); err != nil {
			n.next = strconv.Itoa(start)
			return out, err
		}

		if len(resp.Vulnerabilities) == 0 {
			break
		}

		for _, v := range resp.Vulnerabilities {
			id := strings.ToUpper(clean(v.CVE.ID))
			if id == "" || !n.markNew(id) {
				continue
			}

			summary := ""
			for _, d := range v.CVE.Descriptions {
				if d.Lang == nvdLangEN || summary == "" {
					summary = clean(d.Value)
				}

				if d.Lang == nvdLangEN {
					break
				}
			}

			out = append(out, domain.Observation{
				Title:      id,
				URL:        nvdDetailURL + id,
				Summary:    summary,
				RawDate:    clean(v.CVE.Published),
				ExternalID: id,
				Source:     domain.Source{Provider: NameNVD, Method: nvdMethod},
			})
		}

		start += len(resp.Vulnerabilities)
		if start >= resp.TotalResults {
			break
		}
	}

	n.next = ""

	return out, nil
}
