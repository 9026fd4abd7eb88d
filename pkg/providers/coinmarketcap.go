package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// CoinMarketCap resolves by symbol and serves latest quotes. Every request
// carries the X-CMC_PRO_API_KEY header.
type CoinMarketCap struct {
	client *Client
}

// NewCoinMarketCap creates a CoinMarketCap provider.
func NewCoinMarketCap(cfg config.ProviderConfig) *CoinMarketCap {
	c := NewClient(config.ProviderCoinMarketCap, cfg)
	c.SetHeader("X-CMC_PRO_API_KEY", cfg.APIKey)
	return &CoinMarketCap{client: c}
}

func (m *CoinMarketCap) Name() string { return config.ProviderCoinMarketCap }

func (m *CoinMarketCap) Capabilities() Capability { return CapSearch | CapMarket }

// Search looks the query up as a symbol. The map endpoint answers 400 for
// strings that are not valid symbols, which is reported as no match.
func (m *CoinMarketCap) Search(ctx context.Context, query string) models.ProviderResult[[]Candidate] {
	var resp cmcMapResponse
	status, err := m.client.getJSON(ctx, "/v1/cryptocurrency/map", url.Values{"symbol": {strings.ToUpper(query)}}, &resp)
	if status == http.StatusBadRequest {
		return models.Success[[]Candidate](m.Name(), nil)
	}
	if err != nil {
		return failure[[]Candidate](m.Name(), status, err)
	}

	candidates := make([]Candidate, 0, len(resp.Data))
	for _, coin := range resp.Data {
		identity := models.NewCryptoIdentity(query, coin.Name, coin.Symbol)
		identity.SetProviderID(m.Name(), strconv.Itoa(coin.ID))
		candidates = append(candidates, Candidate{Identity: identity, Rank: coin.Rank})
	}
	return models.Success(m.Name(), candidates)
}

func (m *CoinMarketCap) FetchMarket(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
	cmcID, ok := identity.ProviderID(m.Name())
	if !ok || identity.Symbol == "" {
		return missingID[*models.MarketData](m.Name())
	}

	var resp cmcQuotesResponse
	status, err := m.client.getJSON(ctx, "/v2/cryptocurrency/quotes/latest", url.Values{"symbol": {identity.Symbol}}, &resp)
	if err != nil {
		return failure[*models.MarketData](m.Name(), status, err)
	}

	entries := resp.Data[identity.Symbol]
	if len(entries) == 0 {
		return failure[*models.MarketData](m.Name(), status,
			utils.NewProviderError(m.Name(), status, errors.New("no quote for symbol "+identity.Symbol)))
	}

	// Several assets can share a symbol; prefer the one we resolved.
	entry := entries[0]
	for _, e := range entries {
		if strconv.Itoa(e.ID) == cmcID {
			entry = e
			break
		}
	}

	md := models.NewMarketData(m.Name())
	md.Name = entry.Name
	md.Symbol = entry.Symbol
	md.MarketCapRank = entry.CMCRank
	md.CirculatingSupply = models.DecPtr(entry.CirculatingSupply)
	md.TotalSupply = models.DecPtr(entry.TotalSupply)
	md.MaxSupply = models.DecPtr(entry.MaxSupply)
	md.LastUpdated = entry.LastUpdated
	md.Extra["coinmarketcap_id"] = strconv.Itoa(entry.ID)
	md.Extra["coinmarketcap_slug"] = entry.Slug

	if q, ok := entry.Quote["USD"]; ok {
		md.Price = models.DecPtr(q.Price)
		md.MarketCap = models.DecPtr(q.MarketCap)
		md.Volume24h = models.DecPtr(q.Volume24h)
		md.PercentChange24h = models.DecPtr(q.PercentChange24h)
		md.PercentChange7d = models.DecPtr(q.PercentChange7d)
		md.PercentChange30d = models.DecPtr(q.PercentChange30d)
	}
	return models.Success(m.Name(), md)
}

func (m *CoinMarketCap) FetchChart(ctx context.Context, identity *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint] {
	return failure[[]models.ChartPoint](m.Name(), 0, utils.NewProviderError(m.Name(), 0, errUnsupported))
}

var _ Provider = (*CoinMarketCap)(nil)
