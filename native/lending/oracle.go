package lending

import (
	"github.com/google/uuid"

	"lendcore/fixedpoint"
)

// PriceQuote is the raw answer of the external oracle collaborator: a price
// in quote currency per whole token, a confidence interval around it, and the
// unix time it was published.
type PriceQuote struct {
	Price       fixedpoint.Value
	Confidence  fixedpoint.Value
	PublishedAt int64
}

// PriceSource retrieves price quotes for reserves. Implemented outside the
// core by the oracle client.
type PriceSource interface {
	Quote(reserveID uuid.UUID) (PriceQuote, error)
}

// Validate checks the quote against the reserve's freshness bounds and
// returns the usable price. Quotes older than maxAgeSec, or whose confidence
// interval is wider than maxConfidenceBps of the price, are rejected with
// ErrStalePrice; a zero price is ErrInvalidPrice. Quotes published after now
// count as age zero (the clock source is external and only trusted to be
// monotonic per operation).
func (q PriceQuote) Validate(now int64, maxAgeSec, maxConfidenceBps uint64) (fixedpoint.Value, error) {
	if q.Price.IsZero() {
		return fixedpoint.Zero(), ErrInvalidPrice
	}
	if q.PublishedAt < now {
		age := uint64(now - q.PublishedAt)
		if age > maxAgeSec {
			return fixedpoint.Zero(), ErrStalePrice
		}
	}
	if maxConfidenceBps > 0 && !q.Confidence.IsZero() {
		bound, err := q.Price.PercentageDown(maxConfidenceBps)
		if err != nil {
			return fixedpoint.Zero(), err
		}
		if q.Confidence.Cmp(bound) > 0 {
			return fixedpoint.Zero(), ErrStalePrice
		}
	}
	return q.Price, nil
}
