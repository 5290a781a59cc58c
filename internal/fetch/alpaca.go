package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/model"
)

const (
	// alpacaPageLimit is the largest page the contracts endpoint serves
	alpacaPageLimit = 1000

	// alpacaSnapshotBatch is the largest symbols list the snapshots endpoint accepts
	alpacaSnapshotBatch = 100

	// alpacaMaxPages bounds pagination if the API keeps returning page tokens
	alpacaMaxPages = 50
)

// AlpacaClient implements Provider for the Alpaca trading and market data APIs
type AlpacaClient struct {
	dataURL    string
	tradingURL string
	*transport
}

// NewAlpacaClient creates a new Alpaca API client
func NewAlpacaClient(dataURL, tradingURL, apiKey, secretKey string, opts ...Option) *AlpacaClient {
	t := newTransport("alpaca", opts)
	t.header.Set("APCA-API-KEY-ID", apiKey)
	t.header.Set("APCA-API-SECRET-KEY", secretKey)
	return &AlpacaClient{
		dataURL:    strings.TrimRight(dataURL, "/"),
		tradingURL: strings.TrimRight(tradingURL, "/"),
		transport:  t,
	}
}

// Name implements Provider
func (c *AlpacaClient) Name() string {
	return "alpaca"
}

// alpacaContract is one entry of /v2/options/contracts
type alpacaContract struct {
	Symbol         string      `json:"symbol"`
	Type           string      `json:"type"`
	StrikePrice    json.Number `json:"strike_price"`
	ExpirationDate string      `json:"expiration_date"`
}

type alpacaContractsResponse struct {
	Contracts     []alpacaContract `json:"option_contracts"`
	NextPageToken *string          `json:"next_page_token"`
}

// alpacaSnapshot is one entry of /v1beta1/options/snapshots
type alpacaSnapshot struct {
	LatestQuote *struct {
		BidPrice *float64 `json:"bp"`
		AskPrice *float64 `json:"ap"`
	} `json:"latestQuote"`
	LatestTrade *struct {
		Price *float64 `json:"p"`
	} `json:"latestTrade"`
	DailyBar *struct {
		Volume *float64 `json:"v"`
	} `json:"dailyBar"`
}

type alpacaSnapshotsResponse struct {
	Snapshots     map[string]alpacaSnapshot `json:"snapshots"`
	NextPageToken *string                   `json:"next_page_token"`
}

// normalizeAlpaca joins a listed contract with its snapshot. A contract
// without a snapshot keeps its symbol and strike and nothing else.
func normalizeAlpaca(raw alpacaContract, snap *alpacaSnapshot) model.Contract {
	c := model.Contract{Symbol: raw.Symbol}
	if strike, err := strconv.ParseFloat(string(raw.StrikePrice), 64); err == nil {
		c.Strike = &strike
	}
	if snap == nil {
		return c
	}

	if snap.LatestQuote != nil {
		c.Bid = snap.LatestQuote.BidPrice
		c.Ask = snap.LatestQuote.AskPrice
	}
	if snap.LatestTrade != nil {
		c.LastPrice = snap.LatestTrade.Price
	}
	if snap.DailyBar != nil && snap.DailyBar.Volume != nil {
		c.Volume = int64(*snap.DailyBar.Volume)
	}
	return c
}

// Quote returns the close of the latest one-minute bar
func (c *AlpacaClient) Quote(ctx context.Context, ticker string) (float64, error) {
	var response struct {
		Bar *struct {
			Close *float64 `json:"c"`
		} `json:"bar"`
	}

	symbol := strings.ToUpper(ticker)
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars/latest", c.dataURL, url.PathEscape(symbol))
	if err := c.getJSON(ctx, "quote", endpoint, &response); err != nil {
		return 0, err
	}

	if response.Bar == nil || response.Bar.Close == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	return *response.Bar.Close, nil
}

// listContracts pages through the contracts endpoint. An empty expiry lists
// every active expiration.
func (c *AlpacaClient) listContracts(ctx context.Context, operation, ticker, expiry string) ([]alpacaContract, error) {
	var contracts []alpacaContract
	pageToken := ""

	for page := 0; page < alpacaMaxPages; page++ {
		q := url.Values{}
		q.Set("underlying_symbols", strings.ToUpper(ticker))
		q.Set("status", "active")
		q.Set("limit", strconv.Itoa(alpacaPageLimit))
		if expiry != "" {
			q.Set("expiration_date", expiry)
		}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var response alpacaContractsResponse
		if err := c.getJSON(ctx, operation, c.tradingURL+"/v2/options/contracts?"+q.Encode(), &response); err != nil {
			return nil, err
		}
		contracts = append(contracts, response.Contracts...)

		if response.NextPageToken == nil || *response.NextPageToken == "" {
			return contracts, nil
		}
		pageToken = *response.NextPageToken
	}

	logrus.WithFields(logrus.Fields{
		"ticker": strings.ToUpper(ticker),
		"pages":  alpacaMaxPages,
	}).Warn("Stopped paging Alpaca option contracts")
	return contracts, nil
}

// snapshots fetches option snapshots for symbols in batches
func (c *AlpacaClient) snapshots(ctx context.Context, symbols []string) (map[string]alpacaSnapshot, error) {
	out := make(map[string]alpacaSnapshot, len(symbols))

	for start := 0; start < len(symbols); start += alpacaSnapshotBatch {
		end := start + alpacaSnapshotBatch
		if end > len(symbols) {
			end = len(symbols)
		}

		pageToken := ""
		for page := 0; page < alpacaMaxPages; page++ {
			q := url.Values{}
			q.Set("symbols", strings.Join(symbols[start:end], ","))
			if pageToken != "" {
				q.Set("page_token", pageToken)
			}

			var response alpacaSnapshotsResponse
			if err := c.getJSON(ctx, "snapshots", c.dataURL+"/v1beta1/options/snapshots?"+q.Encode(), &response); err != nil {
				return nil, err
			}
			for symbol, snap := range response.Snapshots {
				out[symbol] = snap
			}

			if response.NextPageToken == nil || *response.NextPageToken == "" {
				break
			}
			pageToken = *response.NextPageToken
		}
	}

	return out, nil
}

// Expirations lists the distinct expiration dates of active contracts, ascending
func (c *AlpacaClient) Expirations(ctx context.Context, ticker string) ([]string, error) {
	contracts, err := c.listContracts(ctx, "expirations", ticker, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	expirations := make([]string, 0)
	for _, contract := range contracts {
		if contract.ExpirationDate == "" {
			continue
		}
		if _, ok := seen[contract.ExpirationDate]; ok {
			continue
		}
		seen[contract.ExpirationDate] = struct{}{}
		expirations = append(expirations, contract.ExpirationDate)
	}
	sort.Strings(expirations)

	return expirations, nil
}

// Chain lists the contracts expiring on token and joins them with their snapshots
func (c *AlpacaClient) Chain(ctx context.Context, ticker, token string) (*model.Chain, error) {
	expiry, err := ExpiryFromToken(token)
	if err != nil {
		return nil, err
	}

	contracts, err := c.listContracts(ctx, "chain", ticker, expiry)
	if err != nil {
		return nil, err
	}

	chain := &model.Chain{Puts: []model.Contract{}, Calls: []model.Contract{}}
	if len(contracts) == 0 {
		return chain, nil
	}

	symbols := make([]string, 0, len(contracts))
	for _, contract := range contracts {
		symbols = append(symbols, contract.Symbol)
	}
	snaps, err := c.snapshots(ctx, symbols)
	if err != nil {
		return nil, err
	}

	for _, contract := range contracts {
		var snap *alpacaSnapshot
		if s, ok := snaps[contract.Symbol]; ok {
			snap = &s
		}

		switch strings.ToLower(contract.Type) {
		case "put":
			chain.Puts = append(chain.Puts, normalizeAlpaca(contract, snap))
		case "call":
			chain.Calls = append(chain.Calls, normalizeAlpaca(contract, snap))
		}
	}

	logrus.WithFields(logrus.Fields{
		"ticker":     strings.ToUpper(ticker),
		"expiration": expiry,
		"puts":       len(chain.Puts),
		"calls":      len(chain.Calls),
	}).Debug("Received option chain from Alpaca")

	return chain, nil
}
