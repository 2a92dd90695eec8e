// Package market holds market-data types shared by the fetchers and the rendering side.
package market

import (
	"strings"

	"trendcast/internal/domain"
)

const (
	DefaultTopN = 5
	// MinMarketCapUSD is the floor below which a token is not worth showing.
	MinMarketCapUSD = 100_000
)

// Select keeps tokens worth showing, in input order, and returns at most n of them.
// A token qualifies with a market cap above MinMarketCapUSD, a positive 24h change,
// a name, and a real (non placeholder) image. Names are deduplicated case-insensitively;
// the first occurrence wins.
func Select(tokens []domain.Token, n int) []domain.Token {
	if n <= 0 {
		n = DefaultTopN
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]domain.Token, 0, n)
	for _, t := range tokens {
		if len(out) == n {
			break
		}
		if !qualifies(t) {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func qualifies(t domain.Token) bool {
	if t.MarketCapUSD <= MinMarketCapUSD || t.PriceChange24h <= 0 {
		return false
	}
	if strings.TrimSpace(t.Name) == "" {
		return false
	}
	img := strings.ToLower(strings.TrimSpace(t.ImageURL))
	if img == "" || strings.Contains(img, "placeholder") || strings.Contains(img, "default") {
		return false
	}
	return true
}
