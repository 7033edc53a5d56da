// Package asset holds the catalog of simulated assets and parses the symbol
// and direction strings that arrive from the presentation boundary.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/price"
)

// symbolRegex matches catalog symbols: 2-10 upper-case letters.
var symbolRegex = regexp.MustCompile(`^[A-Z]{2,10}$`)

var (
	ErrInvalidSymbol    = errors.New("asset: invalid symbol format")
	ErrUnknownSymbol    = errors.New("asset: symbol not in catalog")
	ErrInvalidDirection = errors.New("asset: direction must be LONG or SHORT")
	ErrInvalidAsset     = errors.New("asset: invalid asset configuration")
	ErrEmptyCatalog     = errors.New("asset: catalog is empty")
)

// DefaultAssets returns the stock ETH/BTC/SOL catalog.
func DefaultAssets() []model.Asset {
	return []model.Asset{
		{Symbol: model.SymbolETH, Name: "Ethereum", Price: decimal.NewFromInt(3000), Volatility: 0.02, Trend: 0.1},
		{Symbol: model.SymbolBTC, Name: "Bitcoin", Price: decimal.NewFromInt(60000), Volatility: 0.015, Trend: 0.05},
		{Symbol: model.SymbolSOL, Name: "Solana", Price: decimal.NewFromInt(150), Volatility: 0.04, Trend: -0.05},
	}
}

// Catalog is an ordered, immutable set of assets.
type Catalog struct {
	assets map[model.AssetSymbol]model.Asset
	order  []model.AssetSymbol
}

// NewCatalog validates assets and builds a catalog preserving their order.
func NewCatalog(assets []model.Asset) (*Catalog, error) {
	if len(assets) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{assets: make(map[model.AssetSymbol]model.Asset, len(assets))}
	for _, a := range assets {
		if !symbolRegex.MatchString(string(a.Symbol)) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, a.Symbol)
		}
		if _, dup := c.assets[a.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %s", ErrInvalidAsset, a.Symbol)
		}
		if !a.Price.IsPositive() {
			return nil, fmt.Errorf("%w: %s price must be positive", ErrInvalidAsset, a.Symbol)
		}
		if err := price.ValidateParams(a.Volatility, a.Trend); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAsset, a.Symbol, err)
		}
		if a.Name == "" {
			a.Name = string(a.Symbol)
		}
		c.assets[a.Symbol] = a
		c.order = append(c.order, a.Symbol)
	}
	return c, nil
}

// Default returns the stock catalog. It panics only if DefaultAssets is broken.
func Default() *Catalog {
	c, err := NewCatalog(DefaultAssets())
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the asset for sym.
func (c *Catalog) Get(sym model.AssetSymbol) (model.Asset, bool) {
	a, ok := c.assets[sym]
	return a, ok
}

// Symbols returns catalog symbols in configuration order.
func (c *Catalog) Symbols() []model.AssetSymbol {
	out := make([]model.AssetSymbol, len(c.order))
	copy(out, c.order)
	return out
}

// All returns the assets in configuration order.
func (c *Catalog) All() []model.Asset {
	out := make([]model.Asset, 0, len(c.order))
	for _, sym := range c.order {
		out = append(out, c.assets[sym])
	}
	return out
}

// Lookup parses a user-supplied symbol (case-insensitive) and resolves it.
func (c *Catalog) Lookup(s string) (model.Asset, error) {
	sym, err := ParseSymbol(s)
	if err != nil {
		return model.Asset{}, err
	}
	a, ok := c.assets[sym]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, sym)
	}
	return a, nil
}

// ParseSymbol normalizes and validates a symbol string.
func ParseSymbol(s string) (model.AssetSymbol, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(norm) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return model.AssetSymbol(norm), nil
}

// ParseDirection accepts LONG or SHORT in any case.
func ParseDirection(s string) (model.Direction, error) {
	switch model.Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case model.DirectionLong:
		return model.DirectionLong, nil
	case model.DirectionShort:
		return model.DirectionShort, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}
