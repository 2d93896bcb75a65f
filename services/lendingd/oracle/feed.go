package oracle

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"lendcore/fixedpoint"
	"lendcore/native/lending"
)

// Feed fetches price quotes from the upstream oracle service over HTTP. It
// satisfies the engine's price source interface; staleness and confidence
// policy stay with the engine, the feed only transports quotes.
type Feed struct {
	baseURL string
	client  *http.Client
}

// NewFeed builds a feed client against baseURL (no trailing slash).
func NewFeed(baseURL string, timeout time.Duration) *Feed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Feed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type quotePayload struct {
	// Price and Confidence are decimal strings in quote currency per whole
	// token, e.g. "1912.4500".
	Price       string `json:"price"`
	Confidence  string `json:"confidence"`
	PublishedAt int64  `json:"published_at"`
}

// Quote fetches the latest quote for a reserve's underlying token.
func (f *Feed) Quote(reserveID uuid.UUID) (lending.PriceQuote, error) {
	url := fmt.Sprintf("%s/v1/prices/%s", f.baseURL, reserveID)
	resp, err := f.client.Get(url)
	if err != nil {
		return lending.PriceQuote{}, fmt.Errorf("fetch quote: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lending.PriceQuote{}, fmt.Errorf("fetch quote: unexpected status %d", resp.StatusCode)
	}

	var payload quotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return lending.PriceQuote{}, fmt.Errorf("decode quote: %w", err)
	}
	return payload.toQuote()
}

func (p quotePayload) toQuote() (lending.PriceQuote, error) {
	price, err := parseDecimal(p.Price)
	if err != nil {
		return lending.PriceQuote{}, fmt.Errorf("parse price: %w", err)
	}
	confidence := fixedpoint.Zero()
	if p.Confidence != "" {
		confidence, err = parseDecimal(p.Confidence)
		if err != nil {
			return lending.PriceQuote{}, fmt.Errorf("parse confidence: %w", err)
		}
	}
	return lending.PriceQuote{
		Price:       price,
		Confidence:  confidence,
		PublishedAt: p.PublishedAt,
	}, nil
}

// parseDecimal converts a decimal string into a wad value, truncating digits
// beyond the wad resolution.
func parseDecimal(s string) (fixedpoint.Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if d.IsNegative() {
		return fixedpoint.Zero(), fmt.Errorf("negative value %s", s)
	}
	scaled := d.Shift(fixedpoint.Decimals).Truncate(0)
	raw, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return fixedpoint.Zero(), fmt.Errorf("value %s out of range", s)
	}
	return fixedpoint.FromRaw(raw), nil
}
