package ingest

import (
	"embed"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// FetchConfig defines HTTP fetching configuration for a fuente.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int     `yaml:"max_retries,omitempty"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"`
}

// SourceConfig defines a single fuente (scraper source) for ingestion. It is
// the YAML-level twin of licitacion.ScraperConfig; LoadRegistry parses it,
// and Scheduler.LoadAndSchedule pairs each stored ScraperConfig row with the
// SourceConfig whose ID matches the row's name. Nothing writes ScraperConfig
// rows from a SourceConfig.
type SourceConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Jurisdiccion string `yaml:"jurisdiccion"`
	Nodo         string `yaml:"nodo,omitempty"`
	Strategy     string `yaml:"strategy"` // html_generic, aspnet_postback, json_api, boletin_pdf
	CategoryHint string `yaml:"category_hint"`
	BaseURL      string `yaml:"base_url,omitempty"`
	APIKey       string `yaml:"api_key,omitempty"`
	Seeds        []string `yaml:"seed_urls,omitempty"`
	Schedule     string `yaml:"schedule,omitempty"`
	AdaptiveSchedule bool `yaml:"adaptive_schedule,omitempty"`
	Description  string `yaml:"description,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`

	Selectors  SelectorConfig   `yaml:"selectors,omitempty"`
	Pagination PaginationConfig `yaml:"pagination,omitempty"`
	MaxPages   int              `yaml:"max_pages,omitempty"`
	Detail     DetailConfig     `yaml:"detail,omitempty"`

	// Postback fields the ASP.NET VIEWSTATE/GeneXus adapter needs to
	// resubmit the search form on each page.
	Postback PostbackConfig `yaml:"postback,omitempty"`
}

type PaginationConfig struct {
	Next string `yaml:"next,omitempty"`
}

type SelectorConfig struct {
	Container string `yaml:"container,omitempty"`
	Link      string `yaml:"link,omitempty"`
	LinkAttr  string `yaml:"link_attr,omitempty"`
	Title     string `yaml:"title,omitempty"`
	Date      string `yaml:"date,omitempty"`
	Content   string `yaml:"content,omitempty"`
	Organization string `yaml:"organization,omitempty"`
	Expedient string `yaml:"expedient,omitempty"`
}

// DetailParseConfig steers the licitación-specific extraction of a detail
// page beyond the listing fields.
type DetailParseConfig struct {
	DateLocales     []string `yaml:"date_locales,omitempty"`
	CurrencyDefault string   `yaml:"currency_default,omitempty"`
}

type DetailConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Selectors DetailSelectorConfig `yaml:"selectors,omitempty"`
	Parse     DetailParseConfig    `yaml:"parse,omitempty"`
}

type DetailSelectorConfig struct {
	Container   string `yaml:"container,omitempty"`
	Description string `yaml:"description,omitempty"`
	Budget      string `yaml:"budget,omitempty"`
	Expedient   string `yaml:"expedient,omitempty"`
	Attachments string `yaml:"attachments,omitempty"`
}

// PostbackConfig describes the hidden form fields an ASP.NET/GeneXus portal
// needs resubmitted on every page request.
type PostbackConfig struct {
	FormSelector   string            `yaml:"form_selector,omitempty"`
	EventTarget    string            `yaml:"event_target,omitempty"`
	HiddenFields   []string          `yaml:"hidden_fields,omitempty"`
	ExtraFields    map[string]string `yaml:"extra_fields,omitempty"`
}

// Registry holds the configuration for all fuentes.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadRegistry reads the embedded sources.yaml and returns a Registry. path
// is a filesystem fallback for local development/testing with an override
// file, mirroring the teacher's own embed-with-fallback pattern.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, err
	}

	return &reg, nil
}
