package providers

import (
	"context"

	"github.com/irfndi/crypto-insight-go/internal/models"
)

// Capability is a bit set of what a provider can serve.
type Capability uint8

const (
	CapSearch Capability = 1 << iota
	CapMarket
	CapChart
)

// Has reports whether c includes every bit of other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// Candidate is one search hit. Rank is the provider's market cap rank, zero
// when unknown.
type Candidate struct {
	Identity *models.CryptoIdentity
	Rank     int
}

// Provider is one upstream market data API. Implementations never retry
// and never return errors outside the ProviderResult.
type Provider interface {
	Name() string
	Capabilities() Capability
	Search(ctx context.Context, query string) models.ProviderResult[[]Candidate]
	FetchMarket(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData]
	FetchChart(ctx context.Context, identity *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint]
}
