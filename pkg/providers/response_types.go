package providers

import "time"

// CoinGecko

type geckoSearchResponse struct {
	Coins []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Symbol        string `json:"symbol"`
		MarketCapRank *int   `json:"market_cap_rank"`
	} `json:"coins"`
}

type geckoCoinResponse struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	MarketCapRank *int   `json:"market_cap_rank"`
	Image         struct {
		Large string `json:"large"`
	} `json:"image"`
	Categories []string `json:"categories"`
	MarketData *struct {
		CurrentPrice             map[string]float64 `json:"current_price"`
		MarketCap                map[string]float64 `json:"market_cap"`
		TotalVolume              map[string]float64 `json:"total_volume"`
		PriceChangePercentage24h *float64           `json:"price_change_percentage_24h"`
		PriceChangePercentage7d  *float64           `json:"price_change_percentage_7d"`
		PriceChangePercentage30d *float64           `json:"price_change_percentage_30d"`
		CirculatingSupply        *float64           `json:"circulating_supply"`
		TotalSupply              *float64           `json:"total_supply"`
		MaxSupply                *float64           `json:"max_supply"`
		LastUpdated              time.Time          `json:"last_updated"`
	} `json:"market_data"`
}

type geckoMarketChartResponse struct {
	Prices [][]float64 `json:"prices"`
}

// CoinMarketCap

type cmcStatus struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type cmcMapResponse struct {
	Status cmcStatus `json:"status"`
	Data   []struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		Slug   string `json:"slug"`
		Rank   int    `json:"rank"`
	} `json:"data"`
}

type cmcQuote struct {
	Price            *float64 `json:"price"`
	Volume24h        *float64 `json:"volume_24h"`
	PercentChange24h *float64 `json:"percent_change_24h"`
	PercentChange7d  *float64 `json:"percent_change_7d"`
	PercentChange30d *float64 `json:"percent_change_30d"`
	MarketCap        *float64 `json:"market_cap"`
}

type cmcQuotesResponse struct {
	Status cmcStatus `json:"status"`
	Data   map[string][]struct {
		ID                int                 `json:"id"`
		Name              string              `json:"name"`
		Symbol            string              `json:"symbol"`
		Slug              string              `json:"slug"`
		CMCRank           *int                `json:"cmc_rank"`
		CirculatingSupply *float64            `json:"circulating_supply"`
		TotalSupply       *float64            `json:"total_supply"`
		MaxSupply         *float64            `json:"max_supply"`
		LastUpdated       time.Time           `json:"last_updated"`
		Quote             map[string]cmcQuote `json:"quote"`
	} `json:"data"`
}

// CryptoCompare

type ccCoin struct {
	ID        string `json:"Id"`
	Symbol    string `json:"Symbol"`
	CoinName  string `json:"CoinName"`
	FullName  string `json:"FullName"`
	SortOrder string `json:"SortOrder"`
}

type ccCoinListResponse struct {
	Response string            `json:"Response"`
	Message  string            `json:"Message"`
	Data     map[string]ccCoin `json:"Data"`
}

type ccRawQuote struct {
	Price             *float64 `json:"PRICE"`
	MarketCap         *float64 `json:"MKTCAP"`
	TotalVolume24hTo  *float64 `json:"TOTALVOLUME24HTO"`
	ChangePct24Hour   *float64 `json:"CHANGEPCT24HOUR"`
	CirculatingSupply *float64 `json:"CIRCULATINGSUPPLY"`
	Supply            *float64 `json:"SUPPLY"`
	LastUpdate        int64    `json:"LASTUPDATE"`
	ImageURL          string   `json:"IMAGEURL"`
}

type ccPriceMultiFullResponse struct {
	Response string                           `json:"Response"`
	Message  string                           `json:"Message"`
	Raw      map[string]map[string]ccRawQuote `json:"RAW"`
}

type ccHistoDayResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []struct {
			Time  int64   `json:"time"`
			Close float64 `json:"close"`
		} `json:"Data"`
	} `json:"Data"`
}

// CoinPaprika

type paprikaSearchResponse struct {
	Currencies []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		Rank   int    `json:"rank"`
	} `json:"currencies"`
}

type paprikaTickerResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Symbol            string    `json:"symbol"`
	Rank              *int      `json:"rank"`
	CirculatingSupply *float64  `json:"circulating_supply"`
	TotalSupply       *float64  `json:"total_supply"`
	MaxSupply         *float64  `json:"max_supply"`
	LastUpdated       time.Time `json:"last_updated"`
	Quotes            map[string]struct {
		Price            *float64 `json:"price"`
		Volume24h        *float64 `json:"volume_24h"`
		MarketCap        *float64 `json:"market_cap"`
		PercentChange24h *float64 `json:"percent_change_24h"`
		PercentChange7d  *float64 `json:"percent_change_7d"`
		PercentChange30d *float64 `json:"percent_change_30d"`
	} `json:"quotes"`
}
