package config

import (
	"strings"

	"github.com/ecosim/perps-engine/internal/asset"
	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/quest"
)

func (c *Catalog) applyDefaults() {
	if len(c.Assets) == 0 {
		c.Assets = asset.DefaultAssets()
	}
	for i := range c.Assets {
		a := &c.Assets[i]
		a.Symbol = model.AssetSymbol(strings.ToUpper(string(a.Symbol)))
		if a.Name == "" {
			a.Name = string(a.Symbol)
		}
	}

	if len(c.Quests) == 0 {
		c.Quests = quest.DefaultCatalog()
	}
	for i := range c.Quests {
		q := &c.Quests[i]
		if q.Title == "" {
			q.Title = q.ID
		}
		if q.MaxProgress == 0 {
			q.MaxProgress = 1
		}
	}
}
