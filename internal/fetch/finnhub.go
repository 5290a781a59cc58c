package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/model"
)

// FinnhubClient implements Provider for the Finnhub API
type FinnhubClient struct {
	baseURL string
	*transport
}

// NewFinnhubClient creates a new Finnhub API client
func NewFinnhubClient(baseURL, token string, opts ...Option) *FinnhubClient {
	t := newTransport("finnhub", opts)
	t.header.Set("X-Finnhub-Token", token)
	return &FinnhubClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: t,
	}
}

// Name implements Provider
func (c *FinnhubClient) Name() string {
	return "finnhub"
}

// finnhubContract is one entry of options.CALL / options.PUT
type finnhubContract struct {
	ContractName string   `json:"contractName"`
	Strike       *float64 `json:"strike"`
	LastPrice    *float64 `json:"lastPrice"`
	Bid          *float64 `json:"bid"`
	Ask          *float64 `json:"ask"`
	Volume       *float64 `json:"volume"`
}

type finnhubChainResponse struct {
	Data []struct {
		ExpirationDate string `json:"expirationDate"`
		Options        struct {
			Call []finnhubContract `json:"CALL"`
			Put  []finnhubContract `json:"PUT"`
		} `json:"options"`
	} `json:"data"`
}

// normalizeFinnhub renames a Finnhub contract into the common shape.
// Nothing is validated or dropped here.
func normalizeFinnhub(raw finnhubContract) model.Contract {
	c := model.Contract{
		Symbol:    raw.ContractName,
		Strike:    raw.Strike,
		LastPrice: raw.LastPrice,
		Bid:       raw.Bid,
		Ask:       raw.Ask,
	}
	if raw.Volume != nil {
		c.Volume = int64(*raw.Volume)
	}
	return c
}

// Quote returns the current price field "c" of /quote
func (c *FinnhubClient) Quote(ctx context.Context, ticker string) (float64, error) {
	var response struct {
		Current *float64 `json:"c"`
	}

	endpoint := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(strings.ToUpper(ticker)))
	if err := c.getJSON(ctx, "quote", endpoint, &response); err != nil {
		return 0, err
	}

	// Finnhub answers unknown symbols with zeros rather than an error
	if response.Current == nil || *response.Current == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoQuote, strings.ToUpper(ticker))
	}
	return *response.Current, nil
}

func (c *FinnhubClient) optionChain(ctx context.Context, ticker, operation string) (*finnhubChainResponse, error) {
	var response finnhubChainResponse
	endpoint := fmt.Sprintf("%s/stock/option-chain?symbol=%s", c.baseURL, url.QueryEscape(strings.ToUpper(ticker)))
	if err := c.getJSON(ctx, operation, endpoint, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Expirations lists the distinct expirationDate values, ascending
func (c *FinnhubClient) Expirations(ctx context.Context, ticker string) ([]string, error) {
	response, err := c.optionChain(ctx, ticker, "expirations")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(response.Data))
	expirations := make([]string, 0, len(response.Data))
	for _, block := range response.Data {
		if block.ExpirationDate == "" {
			continue
		}
		if _, ok := seen[block.ExpirationDate]; ok {
			continue
		}
		seen[block.ExpirationDate] = struct{}{}
		expirations = append(expirations, block.ExpirationDate)
	}
	sort.Strings(expirations)

	return expirations, nil
}

// Chain returns the contracts of the block whose expirationDate matches token
func (c *FinnhubClient) Chain(ctx context.Context, ticker, token string) (*model.Chain, error) {
	expiry, err := ExpiryFromToken(token)
	if err != nil {
		return nil, err
	}

	response, err := c.optionChain(ctx, ticker, "chain")
	if err != nil {
		return nil, err
	}

	chain := &model.Chain{Puts: []model.Contract{}, Calls: []model.Contract{}}
	for _, block := range response.Data {
		if block.ExpirationDate != expiry {
			continue
		}
		for _, raw := range block.Options.Put {
			chain.Puts = append(chain.Puts, normalizeFinnhub(raw))
		}
		for _, raw := range block.Options.Call {
			chain.Calls = append(chain.Calls, normalizeFinnhub(raw))
		}
		break
	}

	logrus.WithFields(logrus.Fields{
		"ticker":     strings.ToUpper(ticker),
		"expiration": expiry,
		"puts":       len(chain.Puts),
		"calls":      len(chain.Calls),
	}).Debug("Received option chain from Finnhub")

	return chain, nil
}
