package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"jobwatch/watcher-service/internal/model"
)

// sourceCatalog mirrors the sources.yaml layout.
type sourceCatalog struct {
	Sources []sourceEntry `yaml:"sources"`
}

type sourceEntry struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	Kind              string            `yaml:"kind"`
	URL               string            `yaml:"url"`
	IsActive          *bool             `yaml:"is_active"` // defaults to true
	Selectors         map[string]string `yaml:"selectors"`
	RequestsPerMinute int               `yaml:"requests_per_minute"`
}

// LoadSources reads and validates the YAML source catalog.
func LoadSources(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source catalog: %w", err)
	}

	var catalog sourceCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse source catalog %s: %w", path, err)
	}

	seen := make(map[string]bool)
	sources := make([]model.Source, 0, len(catalog.Sources))
	for i, entry := range catalog.Sources {
		if entry.ID == "" {
			return nil, fmt.Errorf("source #%d has no id", i+1)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("duplicate source id %q", entry.ID)
		}
		seen[entry.ID] = true
		if entry.URL == "" && entry.Kind != "mock" {
			return nil, fmt.Errorf("source %q has no url", entry.ID)
		}

		active := true
		if entry.IsActive != nil {
			active = *entry.IsActive
		}
		sources = append(sources, model.Source{
			ID:                entry.ID,
			Name:              entry.Name,
			Kind:              entry.Kind,
			URL:               entry.URL,
			IsActive:          active,
			Selectors:         entry.Selectors,
			RequestsPerMinute: entry.RequestsPerMinute,
		})
	}
	return sources, nil
}
