package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DEXScreenerSource fetches quotes from the DEXScreener tokens API.
// Requests are batched because the API caps addresses per call.
type DEXScreenerSource struct {
	baseURL     string
	timeout     time.Duration
	maxPerBatch int
	client      *fasthttp.Client
	logger      *slog.Logger
}

// NewDEXScreenerSource creates a source against the given API base URL.
func NewDEXScreenerSource(baseURL string, timeout time.Duration, maxPerBatch int) *DEXScreenerSource {
	if maxPerBatch <= 0 {
		maxPerBatch = 30
	}
	return &DEXScreenerSource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		timeout:     timeout,
		maxPerBatch: maxPerBatch,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		logger: slog.Default().With("component", "dexscreener"),
	}
}

type pairResponse struct {
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD    string `json:"priceUsd"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// TokenPrices resolves quotes for the given contract addresses on one
// chain. A token may trade in several pairs; the deepest pool by USD
// liquidity wins. Addresses with no tradable pair are omitted.
func (s *DEXScreenerSource) TokenPrices(ctx context.Context, chainSlug string, addresses []string) (map[string]Quote, error) {
	quotes := make(map[string]Quote, len(addresses))

	for batch := range slices.Chunk(addresses, s.maxPerBatch) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pairs, err := s.fetchPairs(ctx, chainSlug, batch)
		if err != nil {
			return nil, err
		}
		s.mergePairs(quotes, pairs)
	}

	return quotes, nil
}

func (s *DEXScreenerSource) fetchPairs(ctx context.Context, chainSlug string, addresses []string) ([]pairResponse, error) {
	url := fmt.Sprintf("%s/tokens/v1/%s/%s", s.baseURL, chainSlug, strings.Join(addresses, ","))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode())
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return decodePairs(body)
}

// decodePairs accepts both response shapes the API has used: a bare
// array of pairs and an object wrapping them under "pairs".
func decodePairs(body []byte) ([]pairResponse, error) {
	var pairs []pairResponse
	if err := json.Unmarshal(body, &pairs); err == nil {
		return pairs, nil
	}

	var wrapped struct {
		Pairs []pairResponse `json:"pairs"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}
	return wrapped.Pairs, nil
}

func (s *DEXScreenerSource) mergePairs(quotes map[string]Quote, pairs []pairResponse) {
	best := make(map[string]float64)

	for _, pair := range pairs {
		addr := strings.ToLower(pair.BaseToken.Address)
		if addr == "" || pair.PriceUSD == "" {
			continue
		}

		liquidity := 0.0
		if pair.Liquidity != nil {
			liquidity = pair.Liquidity.USD
		}
		if seen, ok := best[addr]; ok && seen >= liquidity {
			continue
		}

		price, err := decimal.NewFromString(pair.PriceUSD)
		if err != nil {
			s.logger.Warn("unparseable price in API response",
				"token", addr, "symbol", pair.BaseToken.Symbol, "price", pair.PriceUSD)
			continue
		}

		best[addr] = liquidity
		quotes[addr] = Quote{
			PriceUSD:       price,
			PriceChange24h: decimal.NewFromFloat(pair.PriceChange.H24),
		}
	}
}
