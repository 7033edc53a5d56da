package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ecosim/perps-engine/internal/model"
)

// Catalog is the game content file: tradable assets and the quest board.
// Either section may be omitted to keep the built-in one.
type Catalog struct {
	Assets []model.Asset `yaml:"assets"`
	Quests []model.Quest `yaml:"quests"`
}

// LoadCatalog reads a YAML catalog file and expands environment variables.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cat Catalog
	if err := yaml.Unmarshal([]byte(expanded), &cat); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}

	return &cat, nil
}

// LoadCatalogAndValidate loads a catalog, applies defaults, and validates.
func LoadCatalogAndValidate(path string) (*Catalog, error) {
	cat, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	cat.applyDefaults()
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return cat, nil
}
