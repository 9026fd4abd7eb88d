package models

import (
	"sort"
	"strings"
)

// CryptoIdentity maps one asset to the identifiers each provider uses for it.
type CryptoIdentity struct {
	Query            string            `json:"query"`
	Name             string            `json:"name"`
	Symbol           string            `json:"symbol"`
	ProviderIDs      map[string]string `json:"provider_ids"`
	AlternateSymbols []string          `json:"alternate_symbols,omitempty"`
}

// NewCryptoIdentity creates an identity with the symbol normalised to upper case.
func NewCryptoIdentity(query, name, symbol string) *CryptoIdentity {
	return &CryptoIdentity{
		Query:       query,
		Name:        name,
		Symbol:      strings.ToUpper(strings.TrimSpace(symbol)),
		ProviderIDs: make(map[string]string),
	}
}

// ProviderID returns the identifier the named provider uses, if any.
func (ci *CryptoIdentity) ProviderID(provider string) (string, bool) {
	if ci == nil || ci.ProviderIDs == nil {
		return "", false
	}
	id, ok := ci.ProviderIDs[provider]
	return id, ok && id != ""
}

// SetProviderID records id for provider. Empty ids are ignored.
func (ci *CryptoIdentity) SetProviderID(provider, id string) {
	if id == "" {
		return
	}
	if ci.ProviderIDs == nil {
		ci.ProviderIDs = make(map[string]string)
	}
	ci.ProviderIDs[provider] = id
}

// IsResolved reports whether at least one provider knows this asset.
func (ci *CryptoIdentity) IsResolved() bool {
	if ci == nil {
		return false
	}
	for _, id := range ci.ProviderIDs {
		if id != "" {
			return true
		}
	}
	return false
}

// AddAlternateSymbol records another symbol a lookup of this asset may mean.
func (ci *CryptoIdentity) AddAlternateSymbol(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || symbol == ci.Symbol {
		return
	}
	for _, s := range ci.AlternateSymbols {
		if s == symbol {
			return
		}
	}
	ci.AlternateSymbols = append(ci.AlternateSymbols, symbol)
	sort.Strings(ci.AlternateSymbols)
}

// Merge folds other into ci. Non-empty fields are never overwritten by
// empty ones, provider ids and alternate symbols are unioned. Merging the
// same identity twice leaves ci unchanged after the first merge.
func (ci *CryptoIdentity) Merge(other *CryptoIdentity) {
	if other == nil || other == ci {
		return
	}
	if ci.Name == "" {
		ci.Name = other.Name
	}
	if ci.Query == "" {
		ci.Query = other.Query
	}
	if ci.Symbol == "" {
		ci.Symbol = other.Symbol
	} else if other.Symbol != "" && !strings.EqualFold(other.Symbol, ci.Symbol) {
		ci.AddAlternateSymbol(other.Symbol)
	}
	for provider, id := range other.ProviderIDs {
		if _, exists := ci.ProviderID(provider); !exists {
			ci.SetProviderID(provider, id)
		}
	}
	for _, s := range other.AlternateSymbols {
		ci.AddAlternateSymbol(s)
	}
}

// Clone returns a deep copy.
func (ci *CryptoIdentity) Clone() *CryptoIdentity {
	if ci == nil {
		return nil
	}
	out := *ci
	out.ProviderIDs = make(map[string]string, len(ci.ProviderIDs))
	for k, v := range ci.ProviderIDs {
		out.ProviderIDs[k] = v
	}
	if ci.AlternateSymbols != nil {
		out.AlternateSymbols = append([]string(nil), ci.AlternateSymbols...)
	}
	return &out
}

// CacheKey is the key market and chart data for this asset are cached under.
func (ci *CryptoIdentity) CacheKey() string {
	if ci.Symbol != "" {
		return strings.ToLower(ci.Symbol)
	}
	return strings.ToLower(ci.Query)
}
