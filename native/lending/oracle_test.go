package lending

import (
	"errors"
	"testing"

	"lendcore/fixedpoint"
)

func TestPriceQuoteValidate(t *testing.T) {
	const now = int64(1_000)
	price := fixedpoint.FromTokens(2)

	fresh := PriceQuote{Price: price, PublishedAt: now - 30}
	got, err := fresh.Validate(now, 60, 200)
	if err != nil {
		t.Fatalf("fresh quote rejected: %v", err)
	}
	if got.Cmp(price) != 0 {
		t.Fatalf("price mangled: %s", got)
	}

	// A quote exactly at the age bound is still usable.
	boundary := PriceQuote{Price: price, PublishedAt: now - 60}
	if _, err := boundary.Validate(now, 60, 200); err != nil {
		t.Fatalf("boundary quote rejected: %v", err)
	}

	stale := PriceQuote{Price: price, PublishedAt: now - 61}
	if _, err := stale.Validate(now, 60, 200); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}

	// Future timestamps count as age zero rather than failing.
	future := PriceQuote{Price: price, PublishedAt: now + 5}
	if _, err := future.Validate(now, 60, 200); err != nil {
		t.Fatalf("future quote rejected: %v", err)
	}
}

func TestPriceQuoteConfidenceBound(t *testing.T) {
	const now = int64(1_000)
	price := fixedpoint.FromTokens(100)

	// 2% of 100 is the widest acceptable interval.
	atBound := PriceQuote{Price: price, Confidence: fixedpoint.FromTokens(2), PublishedAt: now}
	if _, err := atBound.Validate(now, 60, 200); err != nil {
		t.Fatalf("confidence at bound rejected: %v", err)
	}

	wide, err := fixedpoint.FromTokens(2).Add(fixedpoint.FromBps(1))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	tooWide := PriceQuote{Price: price, Confidence: wide, PublishedAt: now}
	if _, err := tooWide.Validate(now, 60, 200); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price for wide confidence, got %v", err)
	}
}

func TestPriceQuoteRejectsZeroPrice(t *testing.T) {
	q := PriceQuote{PublishedAt: 10}
	if _, err := q.Validate(10, 60, 200); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}
