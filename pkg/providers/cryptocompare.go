package providers

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

const (
	ccImageBase   = "https://www.cryptocompare.com"
	coinListTTL   = time.Hour
	maxCandidates = 10
)

// CryptoCompare resolves through the full coin list, which is fetched once
// and reused for an hour.
type CryptoCompare struct {
	client *Client
	apiKey string

	mu        sync.Mutex
	coins     map[string]ccCoin
	fetchedAt time.Time
	listGroup singleflight.Group
}

// NewCryptoCompare creates a CryptoCompare provider.
func NewCryptoCompare(cfg config.ProviderConfig) *CryptoCompare {
	return &CryptoCompare{
		client: NewClient(config.ProviderCryptoCompare, cfg),
		apiKey: cfg.APIKey,
	}
}

func (c *CryptoCompare) Name() string { return config.ProviderCryptoCompare }

func (c *CryptoCompare) Capabilities() Capability { return CapSearch | CapMarket | CapChart }

func (c *CryptoCompare) withKey(v url.Values) url.Values {
	if c.apiKey != "" {
		v.Set("api_key", c.apiKey)
	}
	return v
}

type ccCoinList struct {
	coins  map[string]ccCoin
	status int
}

func (c *CryptoCompare) coinList(ctx context.Context) (map[string]ccCoin, int, error) {
	c.mu.Lock()
	if c.coins != nil && time.Since(c.fetchedAt) < coinListTTL {
		coins := c.coins
		c.mu.Unlock()
		return coins, 0, nil
	}
	c.mu.Unlock()

	// Concurrent misses share one download of the list.
	v, err, _ := c.listGroup.Do("coinlist", func() (interface{}, error) {
		var resp ccCoinListResponse
		status, err := c.client.getJSON(context.WithoutCancel(ctx), "/data/all/coinlist", c.withKey(url.Values{}), &resp)
		if err != nil {
			return ccCoinList{status: status}, err
		}
		if resp.Response == "Error" {
			return ccCoinList{status: status}, utils.NewProviderError(c.Name(), status, errors.New(resp.Message))
		}

		c.mu.Lock()
		c.coins = resp.Data
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return ccCoinList{coins: resp.Data, status: status}, nil
	})
	list := v.(ccCoinList)
	return list.coins, list.status, err
}

// Search matches the symbol key exactly first, then coin names.
func (c *CryptoCompare) Search(ctx context.Context, query string) models.ProviderResult[[]Candidate] {
	coins, status, err := c.coinList(ctx)
	if err != nil {
		return failure[[]Candidate](c.Name(), status, err)
	}

	var candidates []Candidate
	if coin, ok := coins[strings.ToUpper(query)]; ok {
		candidates = append(candidates, c.candidate(query, coin))
	}
	for _, coin := range coins {
		if len(candidates) >= maxCandidates {
			break
		}
		if strings.EqualFold(coin.CoinName, query) && !strings.EqualFold(coin.Symbol, query) {
			candidates = append(candidates, c.candidate(query, coin))
		}
	}
	return models.Success(c.Name(), candidates)
}

func (c *CryptoCompare) candidate(query string, coin ccCoin) Candidate {
	identity := models.NewCryptoIdentity(query, coin.CoinName, coin.Symbol)
	identity.SetProviderID(c.Name(), coin.Symbol)
	rank, _ := strconv.Atoi(coin.SortOrder)
	return Candidate{Identity: identity, Rank: rank}
}

func (c *CryptoCompare) FetchMarket(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
	symbol, ok := identity.ProviderID(c.Name())
	if !ok {
		return missingID[*models.MarketData](c.Name())
	}

	var resp ccPriceMultiFullResponse
	query := c.withKey(url.Values{"fsyms": {symbol}, "tsyms": {"USD"}})
	status, err := c.client.getJSON(ctx, "/data/pricemultifull", query, &resp)
	if err != nil {
		return failure[*models.MarketData](c.Name(), status, err)
	}
	if resp.Response == "Error" {
		return failure[*models.MarketData](c.Name(), status, utils.NewProviderError(c.Name(), status, errors.New(resp.Message)))
	}

	raw, ok := resp.Raw[symbol]["USD"]
	if !ok {
		return failure[*models.MarketData](c.Name(), status,
			utils.NewProviderError(c.Name(), status, errors.New("no USD quote for "+symbol)))
	}

	md := models.NewMarketData(c.Name())
	md.Symbol = symbol
	md.Name = identity.Name
	md.Price = models.DecPtr(raw.Price)
	md.MarketCap = models.DecPtr(raw.MarketCap)
	md.Volume24h = models.DecPtr(raw.TotalVolume24hTo)
	md.PercentChange24h = models.DecPtr(raw.ChangePct24Hour)
	md.CirculatingSupply = models.DecPtr(raw.CirculatingSupply)
	md.TotalSupply = models.DecPtr(raw.Supply)
	if raw.ImageURL != "" {
		md.ImageURL = ccImageBase + raw.ImageURL
	}
	if raw.LastUpdate > 0 {
		md.LastUpdated = time.Unix(raw.LastUpdate, 0).UTC()
	}
	return models.Success(c.Name(), md)
}

func (c *CryptoCompare) FetchChart(ctx context.Context, identity *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint] {
	symbol, ok := identity.ProviderID(c.Name())
	if !ok {
		return missingID[[]models.ChartPoint](c.Name())
	}

	var resp ccHistoDayResponse
	query := c.withKey(url.Values{"fsym": {symbol}, "tsym": {"USD"}, "limit": {strconv.Itoa(days)}})
	status, err := c.client.getJSON(ctx, "/data/v2/histoday", query, &resp)
	if err != nil {
		return failure[[]models.ChartPoint](c.Name(), status, err)
	}
	if resp.Response == "Error" {
		return failure[[]models.ChartPoint](c.Name(), status, utils.NewProviderError(c.Name(), status, errors.New(resp.Message)))
	}

	points := make([]models.ChartPoint, 0, len(resp.Data.Data))
	for _, row := range resp.Data.Data {
		points = append(points, models.ChartPoint{
			Timestamp: time.Unix(row.Time, 0).UTC(),
			Price:     decimal.NewFromFloat(row.Close),
		})
	}
	return models.Success(c.Name(), points)
}

var _ Provider = (*CryptoCompare)(nil)
