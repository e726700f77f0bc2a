package marketplace

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-market-watch/internal/services"
)

// ErrProductMissing reports a card payload that decoded fine but did not
// contain the requested article.
var ErrProductMissing = errors.New("marketplace: product not present in card payload")

// DefaultDest is the regional destination id used when none is configured.
const DefaultDest = "123585633"

// CardSampler reads one article's card through the public card API with an
// account's session cookies attached. It implements services.SampleSource.
type CardSampler struct {
	// BaseURL is the card detail endpoint, without query string.
	BaseURL string

	// Dest selects the regional warehouse slice the card is priced for.
	Dest string

	UserAgent string
	Timeout   time.Duration
	Log       zerolog.Logger
}

// NewCardSampler constructs a CardSampler with defaults filled in.
func NewCardSampler(baseURL, dest, userAgent string, timeout time.Duration, log zerolog.Logger) *CardSampler {
	if dest == "" {
		dest = DefaultDest
	}
	return &CardSampler{
		BaseURL:   baseURL,
		Dest:      dest,
		UserAgent: userAgent,
		Timeout:   timeout,
		Log:       log.With().Str("component", "card_sampler").Logger(),
	}
}

// Sample fetches the card for req.ProductExternalID under the account's
// cookies and extracts one price/availability reading.
func (s *CardSampler) Sample(ctx context.Context, req services.SampleRequest) (*services.SampleResult, error) {
	client, err := newClient(s.UserAgent, s.Timeout, req.Proxy)
	if err != nil {
		return nil, err
	}
	if err := restoreCookies(client, req.CredentialBlob); err != nil {
		return nil, err
	}

	res, err := client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"appType":    "1",
			"curr":       "rub",
			"dest":       s.Dest,
			"hide_dtype": "11",
			"ab_testing": "false",
			"lang":       "ru",
			"nm":         req.ProductExternalID,
		}).
		SetDoNotParseResponse(true).
		Get(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("card request: %w", err)
	}
	defer func() { _ = res.RawBody().Close() }()

	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("card request: unexpected status %d", res.StatusCode())
	}

	body, err := io.ReadAll(res.RawBody())
	if err != nil {
		return nil, fmt.Errorf("card response: %w", err)
	}

	result, err := extractReading(body, req.ProductExternalID, s.Dest)
	if err != nil {
		return nil, err
	}

	s.Log.Debug().
		Str("external_id", req.ProductExternalID).
		Float64("spp", result.SPP).
		Int("price_current", result.PriceCurrent).
		Int("qty", result.Qty).
		Msg("card sampled")
	return result, nil
}

type cardPayload struct {
	Products []cardProduct `json:"products"`
}

type cardProduct struct {
	ID    json.Number `json:"id"`
	Brand string      `json:"brand"`
	Name  string      `json:"name"`
	Sizes []cardSize  `json:"sizes"`
}

type cardSize struct {
	Price  cardPrice   `json:"price"`
	Stocks []cardStock `json:"stocks"`
}

type cardPrice struct {
	Basic   int `json:"basic"`
	Product int `json:"product"`
	Loyalty int `json:"loyalty"`
}

type cardStock struct {
	Qty int `json:"qty"`
}

// extractReading decodes a card payload (optionally gzipped regardless of
// transport headers) and reduces the matching product to a SampleResult.
func extractReading(raw []byte, externalID, dest string) (*services.SampleResult, error) {
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("card payload: %w", err)
		}
		defer func() { _ = gz.Close() }()
		raw, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("card payload: %w", err)
		}
	}

	var payload cardPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("card payload: %w", err)
	}

	for _, p := range payload.Products {
		if p.ID.String() != externalID {
			continue
		}

		var basic, current, loyalty, qty int
		for _, size := range p.Sizes {
			if basic == 0 && size.Price.Basic > 0 {
				basic = size.Price.Basic
				current = size.Price.Product
				loyalty = size.Price.Loyalty
			}
			for _, stock := range size.Stocks {
				qty += stock.Qty
			}
		}

		spp := 0.0
		if basic > 0 {
			spp = math.Round((100-float64(current)/float64(basic)*100)*100) / 100
		}

		result := &services.SampleResult{
			SPP:          spp,
			Dest:         dest,
			PriceBasic:   basic,
			PriceCurrent: current,
			Qty:          qty,
			ProductName:  p.Name,
			ProductBrand: p.Brand,
		}
		if loyalty > 0 {
			result.PriceWithLoyalty = &loyalty
		}
		return result, nil
	}
	return nil, ErrProductMissing
}
