package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
)

// CoinGecko serves search, market data and charts.
type CoinGecko struct {
	client *Client
}

// NewCoinGecko creates a CoinGecko provider.
func NewCoinGecko(cfg config.ProviderConfig) *CoinGecko {
	c := NewClient(config.ProviderCoinGecko, cfg)
	c.SetHeader("x-cg-demo-api-key", cfg.APIKey)
	return &CoinGecko{client: c}
}

func (g *CoinGecko) Name() string { return config.ProviderCoinGecko }

func (g *CoinGecko) Capabilities() Capability { return CapSearch | CapMarket | CapChart }

func (g *CoinGecko) Search(ctx context.Context, query string) models.ProviderResult[[]Candidate] {
	var resp geckoSearchResponse
	status, err := g.client.getJSON(ctx, "/search", url.Values{"query": {query}}, &resp)
	if err != nil {
		return failure[[]Candidate](g.Name(), status, err)
	}

	candidates := make([]Candidate, 0, len(resp.Coins))
	for _, coin := range resp.Coins {
		identity := models.NewCryptoIdentity(query, coin.Name, coin.Symbol)
		identity.SetProviderID(g.Name(), coin.ID)
		c := Candidate{Identity: identity}
		if coin.MarketCapRank != nil {
			c.Rank = *coin.MarketCapRank
		}
		candidates = append(candidates, c)
	}
	return models.Success(g.Name(), candidates)
}

func (g *CoinGecko) FetchMarket(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
	id, ok := identity.ProviderID(g.Name())
	if !ok {
		return missingID[*models.MarketData](g.Name())
	}

	query := url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"market_data":    {"true"},
		"community_data": {"false"},
		"developer_data": {"false"},
		"sparkline":      {"false"},
	}
	var resp geckoCoinResponse
	status, err := g.client.getJSON(ctx, "/coins/"+url.PathEscape(id), query, &resp)
	if err != nil {
		return failure[*models.MarketData](g.Name(), status, err)
	}

	md := models.NewMarketData(g.Name())
	md.Name = resp.Name
	md.Symbol = strings.ToUpper(resp.Symbol)
	md.ImageURL = resp.Image.Large
	md.MarketCapRank = resp.MarketCapRank
	md.Extra["coingecko_id"] = resp.ID
	if len(resp.Categories) > 0 {
		md.Extra["categories"] = strings.Join(resp.Categories, ",")
	}

	if m := resp.MarketData; m != nil {
		md.Price = usd(m.CurrentPrice)
		md.MarketCap = usd(m.MarketCap)
		md.Volume24h = usd(m.TotalVolume)
		md.PercentChange24h = models.DecPtr(m.PriceChangePercentage24h)
		md.PercentChange7d = models.DecPtr(m.PriceChangePercentage7d)
		md.PercentChange30d = models.DecPtr(m.PriceChangePercentage30d)
		md.CirculatingSupply = models.DecPtr(m.CirculatingSupply)
		md.TotalSupply = models.DecPtr(m.TotalSupply)
		md.MaxSupply = models.DecPtr(m.MaxSupply)
		md.LastUpdated = m.LastUpdated
	}
	return models.Success(g.Name(), md)
}

// FetchChart reads daily prices from market_chart and falls back to the
// OHLC endpoint, using the close price, when that fails.
func (g *CoinGecko) FetchChart(ctx context.Context, identity *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint] {
	id, ok := identity.ProviderID(g.Name())
	if !ok {
		return missingID[[]models.ChartPoint](g.Name())
	}

	query := url.Values{
		"vs_currency": {"usd"},
		"days":        {strconv.Itoa(days)},
		"interval":    {"daily"},
	}
	var chart geckoMarketChartResponse
	status, err := g.client.getJSON(ctx, fmt.Sprintf("/coins/%s/market_chart", url.PathEscape(id)), query, &chart)
	if err == nil && len(chart.Prices) > 0 {
		return models.Success(g.Name(), pairsToPoints(chart.Prices, 1))
	}
	if status == 429 {
		return failure[[]models.ChartPoint](g.Name(), status, err)
	}

	var ohlc [][]float64
	ohlcStatus, ohlcErr := g.client.getJSON(ctx, fmt.Sprintf("/coins/%s/ohlc", url.PathEscape(id)), url.Values{
		"vs_currency": {"usd"},
		"days":        {strconv.Itoa(days)},
	}, &ohlc)
	if ohlcErr != nil {
		return failure[[]models.ChartPoint](g.Name(), ohlcStatus, ohlcErr)
	}
	return models.Success(g.Name(), pairsToPoints(ohlc, 4))
}

// pairsToPoints converts [timestamp_ms, ...values] rows, reading the price at index col.
func pairsToPoints(rows [][]float64, col int) []models.ChartPoint {
	points := make([]models.ChartPoint, 0, len(rows))
	for _, row := range rows {
		if len(row) <= col {
			continue
		}
		points = append(points, models.ChartPoint{
			Timestamp: timeFromMillis(row[0]),
			Price:     decimal.NewFromFloat(row[col]),
		})
	}
	return points
}

func usd(m map[string]float64) decimal.NullDecimal {
	if v, ok := m["usd"]; ok {
		return models.Dec(v)
	}
	return decimal.NullDecimal{}
}

var _ Provider = (*CoinGecko)(nil)
