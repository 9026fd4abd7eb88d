package services

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// FallbackSource is the provider name credited on degraded records.
const FallbackSource = "fallback"

type fallbackAsset struct {
	Name        string
	Rank        int
	CoinGeckoID string
}

// Well-known assets we can describe when every provider is down.
var fallbackAssets = map[string]fallbackAsset{
	"BTC":   {Name: "Bitcoin", Rank: 1, CoinGeckoID: "bitcoin"},
	"ETH":   {Name: "Ethereum", Rank: 2, CoinGeckoID: "ethereum"},
	"BNB":   {Name: "BNB", Rank: 4, CoinGeckoID: "binancecoin"},
	"XRP":   {Name: "XRP", Rank: 5, CoinGeckoID: "ripple"},
	"ADA":   {Name: "Cardano", Rank: 9, CoinGeckoID: "cardano"},
	"DOGE":  {Name: "Dogecoin", Rank: 8, CoinGeckoID: "dogecoin"},
	"SOL":   {Name: "Solana", Rank: 6, CoinGeckoID: "solana"},
	"MATIC": {Name: "Polygon", Rank: 20, CoinGeckoID: "matic-network"},
	"DOT":   {Name: "Polkadot", Rank: 15, CoinGeckoID: "polkadot"},
	"LINK":  {Name: "Chainlink", Rank: 12, CoinGeckoID: "chainlink"},
}

// FallbackProvider builds placeholder records when no provider answered.
// It never performs I/O and never fails.
type FallbackProvider struct {
	clock utils.Clock
}

// NewFallbackProvider creates a fallback provider. A nil clock uses wall time.
func NewFallbackProvider(clock utils.Clock) *FallbackProvider {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &FallbackProvider{clock: clock}
}

// Known reports whether symbol is on the fallback allow-list.
func (f *FallbackProvider) Known(symbol string) bool {
	_, ok := fallbackAssets[strings.ToUpper(symbol)]
	return ok
}

// GetFallback returns a degraded record for identity. Price and 24h change
// are zero, every other market field is null.
func (f *FallbackProvider) GetFallback(identity *models.CryptoIdentity) *models.MarketData {
	md := models.NewMarketData(FallbackSource)
	md.Degraded = true
	md.LastUpdated = f.clock.Now().UTC()

	symbol, name := "", ""
	if identity != nil {
		symbol = identity.Symbol
		name = identity.Name
		if symbol == "" {
			symbol = strings.TrimSpace(identity.Query)
		}
	}
	symbol = strings.ToUpper(symbol)

	if asset, ok := fallbackAssets[symbol]; ok {
		md.Name = asset.Name
		rank := asset.Rank
		md.MarketCapRank = &rank
		md.Extra["coingecko_id"] = asset.CoinGeckoID
	} else if name != "" {
		md.Name = name
	} else {
		md.Name = cases.Title(language.English).String(strings.ToLower(symbol))
	}
	md.Symbol = symbol

	md.Price = decimal.NewNullDecimal(decimal.Zero)
	md.PercentChange24h = decimal.NewNullDecimal(decimal.Zero)
	md.Sources[models.FieldPrice] = FallbackSource
	md.Sources[models.FieldPercentChange24h] = FallbackSource
	return md
}

// GetFallbackChart returns the empty series served when no chart provider answered.
func (f *FallbackProvider) GetFallbackChart(identity *models.CryptoIdentity, days int) []models.ChartPoint {
	return []models.ChartPoint{}
}

// FallbackIdentity synthesizes an identity for an allow-listed symbol so a
// query can still be answered while resolution is impossible.
func (f *FallbackProvider) FallbackIdentity(query string) (*models.CryptoIdentity, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(query))
	asset, ok := fallbackAssets[symbol]
	if !ok {
		for sym, a := range fallbackAssets {
			if strings.EqualFold(a.Name, query) || strings.EqualFold(a.CoinGeckoID, query) {
				symbol, asset, ok = sym, a, true
				break
			}
		}
	}
	if !ok {
		return nil, false
	}
	identity := models.NewCryptoIdentity(query, asset.Name, symbol)
	identity.SetProviderID(config.ProviderCoinGecko, asset.CoinGeckoID)
	return identity, true
}
