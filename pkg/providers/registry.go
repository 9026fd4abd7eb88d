package providers

import (
	"github.com/irfndi/crypto-insight-go/internal/config"
)

// NewFromConfig builds every enabled provider, ordered by priority.
// Unknown provider names in the configuration are skipped.
func NewFromConfig(cfg *config.Config) []Provider {
	var out []Provider
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		switch name {
		case config.ProviderCoinGecko:
			out = append(out, NewCoinGecko(pc))
		case config.ProviderCoinMarketCap:
			out = append(out, NewCoinMarketCap(pc))
		case config.ProviderCryptoCompare:
			out = append(out, NewCryptoCompare(pc))
		case config.ProviderCoinPaprika:
			out = append(out, NewCoinPaprika(pc))
		}
	}
	return out
}
