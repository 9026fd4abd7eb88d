package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketData is a merged market snapshot for one asset, priced in USD.
// Numeric fields are nullable: a field no provider reported stays null
// rather than zero.
type MarketData struct {
	Name              string              `json:"name"`
	Symbol            string              `json:"symbol"`
	Price             decimal.NullDecimal `json:"price"`
	MarketCap         decimal.NullDecimal `json:"market_cap"`
	Volume24h         decimal.NullDecimal `json:"volume_24h"`
	PercentChange24h  decimal.NullDecimal `json:"percent_change_24h"`
	PercentChange7d   decimal.NullDecimal `json:"percent_change_7d"`
	PercentChange30d  decimal.NullDecimal `json:"percent_change_30d"`
	CirculatingSupply decimal.NullDecimal `json:"circulating_supply"`
	TotalSupply       decimal.NullDecimal `json:"total_supply"`
	MaxSupply         decimal.NullDecimal `json:"max_supply"`
	MarketCapRank     *int                `json:"market_cap_rank"`
	ImageURL          string              `json:"image_url,omitempty"`
	LastUpdated       time.Time           `json:"last_updated"`
	Sources           map[string]string   `json:"sources"`
	Providers         []string            `json:"providers"`
	Extra             map[string]string   `json:"extra,omitempty"`
	Degraded          bool                `json:"degraded"`
}

// Field names used for source attribution.
const (
	FieldPrice             = "price"
	FieldMarketCap         = "market_cap"
	FieldVolume24h         = "volume_24h"
	FieldPercentChange24h  = "percent_change_24h"
	FieldPercentChange7d   = "percent_change_7d"
	FieldPercentChange30d  = "percent_change_30d"
	FieldCirculatingSupply = "circulating_supply"
	FieldTotalSupply       = "total_supply"
	FieldMaxSupply         = "max_supply"
	FieldMarketCapRank     = "market_cap_rank"
	FieldImageURL          = "image_url"
)

// NewMarketData creates an empty record attributed to provider.
func NewMarketData(provider string) *MarketData {
	md := &MarketData{
		Sources: make(map[string]string),
		Extra:   make(map[string]string),
	}
	if provider != "" {
		md.Providers = []string{provider}
	}
	return md
}

// Dec wraps a float as a valid nullable decimal.
func Dec(f float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(f))
}

// DecPtr converts an optional float from a provider payload.
func DecPtr(f *float64) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return Dec(*f)
}

// Source returns the provider credited with this record's data.
func (md *MarketData) Source() string {
	if len(md.Providers) == 0 {
		return ""
	}
	return md.Providers[0]
}

// Merge fills fields that are null in md from other, crediting other's
// provider. Callers merge in precedence order so the first provider to
// report a field keeps it. Merging the same record twice is a no-op.
func (md *MarketData) Merge(other *MarketData) {
	if other == nil || other == md {
		return
	}
	if md.Sources == nil {
		md.Sources = make(map[string]string)
	}
	if md.Extra == nil {
		md.Extra = make(map[string]string)
	}
	src := other.Source()

	if md.Name == "" {
		md.Name = other.Name
	}
	if md.Symbol == "" {
		md.Symbol = other.Symbol
	}

	md.fill(&md.Price, other.Price, FieldPrice, src)
	md.fill(&md.MarketCap, other.MarketCap, FieldMarketCap, src)
	md.fill(&md.Volume24h, other.Volume24h, FieldVolume24h, src)
	md.fill(&md.PercentChange24h, other.PercentChange24h, FieldPercentChange24h, src)
	md.fill(&md.PercentChange7d, other.PercentChange7d, FieldPercentChange7d, src)
	md.fill(&md.PercentChange30d, other.PercentChange30d, FieldPercentChange30d, src)
	md.fill(&md.CirculatingSupply, other.CirculatingSupply, FieldCirculatingSupply, src)
	md.fill(&md.TotalSupply, other.TotalSupply, FieldTotalSupply, src)
	md.fill(&md.MaxSupply, other.MaxSupply, FieldMaxSupply, src)

	if md.MarketCapRank == nil && other.MarketCapRank != nil {
		rank := *other.MarketCapRank
		md.MarketCapRank = &rank
		md.credit(FieldMarketCapRank, src)
	}
	if md.ImageURL == "" && other.ImageURL != "" {
		md.ImageURL = other.ImageURL
		md.credit(FieldImageURL, src)
	}

	for k, v := range other.Extra {
		if _, exists := md.Extra[k]; !exists {
			md.Extra[k] = v
		}
	}
	if other.LastUpdated.After(md.LastUpdated) {
		md.LastUpdated = other.LastUpdated
	}
	for _, p := range other.Providers {
		if !md.hasProvider(p) {
			md.Providers = append(md.Providers, p)
		}
	}
}

func (md *MarketData) fill(dst *decimal.NullDecimal, src decimal.NullDecimal, field, provider string) {
	if dst.Valid || !src.Valid {
		return
	}
	*dst = src
	md.credit(field, provider)
}

func (md *MarketData) credit(field, provider string) {
	if provider != "" {
		md.Sources[field] = provider
	}
}

func (md *MarketData) hasProvider(p string) bool {
	for _, existing := range md.Providers {
		if existing == p {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached records are never mutated by callers.
func (md *MarketData) Clone() *MarketData {
	if md == nil {
		return nil
	}
	out := *md
	if md.MarketCapRank != nil {
		rank := *md.MarketCapRank
		out.MarketCapRank = &rank
	}
	out.Sources = make(map[string]string, len(md.Sources))
	for k, v := range md.Sources {
		out.Sources[k] = v
	}
	out.Extra = make(map[string]string, len(md.Extra))
	for k, v := range md.Extra {
		out.Extra[k] = v
	}
	out.Providers = append([]string(nil), md.Providers...)
	return &out
}

// ChartPoint is one price sample of a historical series.
type ChartPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}
