package asset

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

func TestDefault_Catalog(t *testing.T) {
	c := Default()
	syms := c.Symbols()
	if len(syms) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(syms))
	}
	want := []model.AssetSymbol{model.SymbolETH, model.SymbolBTC, model.SymbolSOL}
	for i, s := range want {
		if syms[i] != s {
			t.Errorf("symbol %d: expected %s, got %s", i, s, syms[i])
		}
	}
	eth, ok := c.Get(model.SymbolETH)
	if !ok {
		t.Fatal("expected ETH in catalog")
	}
	if !eth.Price.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("expected ETH price 3000, got %s", eth.Price)
	}
}

func TestLookup(t *testing.T) {
	c := Default()

	a, err := c.Lookup(" btc ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Symbol != model.SymbolBTC {
		t.Errorf("expected BTC, got %s", a.Symbol)
	}

	if _, err := c.Lookup("DOGE"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := c.Lookup("e1h"); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want model.Direction
		ok   bool
	}{
		{"LONG", model.DirectionLong, true},
		{"short", model.DirectionShort, true},
		{" Long ", model.DirectionLong, true},
		{"", "", false},
		{"FLAT", "", false},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseDirection(%q) err=%v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDirection(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewCatalog_Invalid(t *testing.T) {
	good := model.Asset{Symbol: "ETH", Name: "Ethereum", Price: decimal.NewFromInt(1), Volatility: 0.1}

	tests := []struct {
		name   string
		assets []model.Asset
		want   error
	}{
		{"empty", nil, ErrEmptyCatalog},
		{"bad symbol", []model.Asset{{Symbol: "eth!", Price: decimal.NewFromInt(1)}}, ErrInvalidSymbol},
		{"duplicate", []model.Asset{good, good}, ErrInvalidAsset},
		{"zero price", []model.Asset{{Symbol: "ETH", Price: decimal.Zero}}, ErrInvalidAsset},
		{"huge volatility", []model.Asset{{Symbol: "ETH", Price: decimal.NewFromInt(1), Volatility: 1.5}}, ErrInvalidAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.assets)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewCatalog_DefaultsName(t *testing.T) {
	c, err := NewCatalog([]model.Asset{{Symbol: "ADA", Price: decimal.NewFromFloat(0.5), Volatility: 0.03}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := c.Get("ADA")
	if a.Name != "ADA" {
		t.Errorf("expected name to default to symbol, got %q", a.Name)
	}
}
