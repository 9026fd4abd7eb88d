package providers

import (
	"context"
	"net/url"
	"strings"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// CoinPaprika serves search and tickers without an API key.
type CoinPaprika struct {
	client *Client
}

// NewCoinPaprika creates a CoinPaprika provider.
func NewCoinPaprika(cfg config.ProviderConfig) *CoinPaprika {
	return &CoinPaprika{client: NewClient(config.ProviderCoinPaprika, cfg)}
}

func (p *CoinPaprika) Name() string { return config.ProviderCoinPaprika }

func (p *CoinPaprika) Capabilities() Capability { return CapSearch | CapMarket }

func (p *CoinPaprika) Search(ctx context.Context, query string) models.ProviderResult[[]Candidate] {
	var resp paprikaSearchResponse
	params := url.Values{"q": {query}, "c": {"currencies"}, "limit": {"10"}}
	status, err := p.client.getJSON(ctx, "/search", params, &resp)
	if err != nil {
		return failure[[]Candidate](p.Name(), status, err)
	}

	candidates := make([]Candidate, 0, len(resp.Currencies))
	for _, currency := range resp.Currencies {
		identity := models.NewCryptoIdentity(query, currency.Name, currency.Symbol)
		identity.SetProviderID(p.Name(), currency.ID)
		candidates = append(candidates, Candidate{Identity: identity, Rank: currency.Rank})
	}
	return models.Success(p.Name(), candidates)
}

func (p *CoinPaprika) FetchMarket(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
	id, ok := identity.ProviderID(p.Name())
	if !ok {
		return missingID[*models.MarketData](p.Name())
	}

	var resp paprikaTickerResponse
	status, err := p.client.getJSON(ctx, "/tickers/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		return failure[*models.MarketData](p.Name(), status, err)
	}

	md := models.NewMarketData(p.Name())
	md.Name = resp.Name
	md.Symbol = strings.ToUpper(resp.Symbol)
	md.MarketCapRank = resp.Rank
	md.CirculatingSupply = models.DecPtr(resp.CirculatingSupply)
	md.TotalSupply = models.DecPtr(resp.TotalSupply)
	md.MaxSupply = models.DecPtr(resp.MaxSupply)
	md.LastUpdated = resp.LastUpdated
	md.Extra["coinpaprika_id"] = resp.ID

	if q, ok := resp.Quotes["USD"]; ok {
		md.Price = models.DecPtr(q.Price)
		md.MarketCap = models.DecPtr(q.MarketCap)
		md.Volume24h = models.DecPtr(q.Volume24h)
		md.PercentChange24h = models.DecPtr(q.PercentChange24h)
		md.PercentChange7d = models.DecPtr(q.PercentChange7d)
		md.PercentChange30d = models.DecPtr(q.PercentChange30d)
	}
	return models.Success(p.Name(), md)
}

func (p *CoinPaprika) FetchChart(ctx context.Context, identity *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint] {
	return failure[[]models.ChartPoint](p.Name(), 0, utils.NewProviderError(p.Name(), 0, errUnsupported))
}

var _ Provider = (*CoinPaprika)(nil)
