package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/courier/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Selection.Strategy == "" {
		cfg.Selection.Strategy = "load_aware"
	}

	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("no tiers configured")
	}
	seen := make(map[domain.TierID]bool, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		if t.ID == "" {
			return nil, fmt.Errorf("tier without id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate tier id %q", t.ID)
		}
		seen[t.ID] = true

		if !t.Type.Valid() {
			return nil, fmt.Errorf("tier %s: unknown type %q", t.ID, t.Type)
		}
		switch t.Type {
		case domain.TierTypeWebhook, domain.TierTypeStream:
			if t.Endpoint == "" {
				return nil, fmt.Errorf("tier %s: endpoint required for %s tiers", t.ID, t.Type)
			}
		case domain.TierTypeSpool:
			if t.Dir == "" {
				return nil, fmt.Errorf("tier %s: dir required for spool tiers", t.ID)
			}
		}
	}

	return &cfg, nil
}
