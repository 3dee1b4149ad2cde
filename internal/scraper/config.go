package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Togather-Foundation/catalog/internal/validation"
)

// Source tiers: tier 0 reads schema.org JSON-LD, tier 1 scrapes with CSS
// selectors.
const (
	TierJSONLD    = 0
	TierSelectors = 1

	defaultMaxPages = 10
)

// SourceConfig is one YAML file under the sources directory.
type SourceConfig struct {
	Name      string         `yaml:"name"`
	Site      string         `yaml:"site"`
	URL       string         `yaml:"url"`
	Tier      int            `yaml:"tier"`
	Enabled   bool           `yaml:"enabled"`
	MaxPages  int            `yaml:"max_pages"`
	Notes     string         `yaml:"notes,omitempty"`
	Selectors SelectorConfig `yaml:"selectors"`
}

// SelectorConfig holds the CSS selectors of a tier 1 source. Field
// selectors are relative to one EventList match.
type SelectorConfig struct {
	EventList   string `yaml:"event_list"`
	Name        string `yaml:"name"`
	Date        string `yaml:"date"`
	EndDate     string `yaml:"end_date"`
	Time        string `yaml:"time"`
	Venue       string `yaml:"venue"`
	Address     string `yaml:"address"`
	Organizer   string `yaml:"organizer"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	URL         string `yaml:"url"`
	Image       string `yaml:"image"`
	Pagination  string `yaml:"pagination"`
}

func DefaultSourceConfig() SourceConfig {
	return SourceConfig{Enabled: true, Tier: TierJSONLD, MaxPages: defaultMaxPages}
}

// SiteTag is the ingestion site of the source; Name unless Site is set.
func (c SourceConfig) SiteTag() string {
	if site := strings.TrimSpace(c.Site); site != "" {
		return site
	}
	return strings.TrimSpace(c.Name)
}

// ConfigError lists every problem found in one source config.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// ValidateConfig returns a *ConfigError naming each invalid field, or nil.
func ValidateConfig(cfg SourceConfig) error {
	e := &ConfigError{}

	if strings.TrimSpace(cfg.Name) == "" {
		e.add("name: required")
	}
	if site := cfg.SiteTag(); site != "" && !validation.IsSiteTag(site) {
		e.add("site: %q must start with a letter or digit and use only letters, digits, '.', '_' or '-'", site)
	}

	switch {
	case strings.TrimSpace(cfg.URL) == "":
		e.add("url: required")
	case validation.ValidateURL(cfg.URL, "url") != nil:
		e.add("url: %q is not an http/https URL", cfg.URL)
	}

	switch cfg.Tier {
	case TierJSONLD:
	case TierSelectors:
		if strings.TrimSpace(cfg.Selectors.EventList) == "" {
			e.add("selectors.event_list: required for tier 1")
		}
		if strings.TrimSpace(cfg.Selectors.Name) == "" {
			e.add("selectors.name: required for tier 1")
		}
	default:
		e.add("tier: must be 0 or 1, got %d", cfg.Tier)
	}

	if cfg.MaxPages < 0 {
		e.add("max_pages: must be positive, got %d", cfg.MaxPages)
	}

	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// LoadSourceConfigs reads every *.yaml and *.yml file in dir in name order,
// skipping names that start with "_". Invalid files, and files reusing a
// site tag already taken by an earlier file, are left out and reported
// together in the error alongside the valid configs. A missing directory
// holds no configs.
func LoadSourceConfigs(dir string) ([]SourceConfig, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []SourceConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources dir %s: %w", dir, err)
	}

	configs := []SourceConfig{}
	owner := map[string]string{}
	var bad []string
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || strings.HasPrefix(name, "_") || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		cfg, err := LoadSourceConfig(path)
		if err != nil {
			bad = append(bad, err.Error())
			continue
		}
		site := cfg.SiteTag()
		if prev, taken := owner[site]; taken {
			bad = append(bad, fmt.Sprintf("%s: site %q already defined in %s", path, site, prev))
			continue
		}
		owner[site] = name
		configs = append(configs, cfg)
	}

	if len(bad) > 0 {
		return configs, fmt.Errorf("invalid source configs:\n  %s", strings.Join(bad, "\n  "))
	}
	return configs, nil
}

// LoadSourceConfig reads and validates one source file. Unknown keys are
// rejected so a misspelt selector does not silently scrape nothing.
func LoadSourceConfig(path string) (SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceConfig{}, fmt.Errorf("loading %s: %w", path, err)
	}

	cfg := DefaultSourceConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return SourceConfig{}, fmt.Errorf("%s: parsing YAML: %w", path, err)
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = defaultMaxPages
	}

	if err := ValidateConfig(cfg); err != nil {
		return SourceConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
