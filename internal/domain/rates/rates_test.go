package rates

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestToSatsToFiatRoundTrip(t *testing.T) {
	// fiat-per-BTC rates spanning cheap and expensive currencies
	testRates := []float64{8_500_000, 129_500_000, 45_000}
	amounts := []float64{1, 10, 1000, 99.99, 12345.67}

	for _, rate := range testRates {
		for _, amount := range amounts {
			sats := ToSats(amount, rate)
			back := ToFiat(sats, rate)
			// one rounding unit of tolerance in the smallest fiat unit
			unit := rate / SatsPerBTC
			if diff := math.Abs(back - amount); diff > unit+0.01 {
				t.Fatalf("round trip rate=%v amount=%v: got %v back (diff %v)", rate, amount, back, diff)
			}
		}
	}
}

func TestToSatsRounding(t *testing.T) {
	// 1000 KES at 10,000,000 KES/BTC = 0.0001 BTC = 10,000 sats
	if sats := ToSats(1000, 10_000_000); sats != 10_000 {
		t.Fatalf("expected 10000 sats, got %d", sats)
	}
	if sats := ToSats(100, 0); sats != 0 {
		t.Fatalf("expected 0 sats for zero rate, got %d", sats)
	}
}

type staticSource struct {
	rates map[string]float64
	calls int
}

func (s *staticSource) FetchRates(_ context.Context, _ []string) (map[string]float64, error) {
	s.calls++
	return s.rates, nil
}

func (s *staticSource) Name() string { return "static" }

func TestRateStaleness(t *testing.T) {
	svc := NewService(&staticSource{}, nil, []string{"KES"}, 10*time.Minute)

	svc.SetQuote(Quote{Currency: "KES", Rate: 8_500_000, ObservedAt: time.Now().Add(-11 * time.Minute), Source: "static"})
	if _, err := svc.Rate("KES"); err != ErrStaleRate {
		t.Fatalf("expected ErrStaleRate, got %v", err)
	}

	svc.SetQuote(Quote{Currency: "KES", Rate: 8_500_000, ObservedAt: time.Now(), Source: "static"})
	q, err := svc.Rate("KES")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Rate != 8_500_000 {
		t.Fatalf("unexpected rate: %v", q.Rate)
	}
}

func TestRateUnavailableAndUnsupported(t *testing.T) {
	svc := NewService(&staticSource{}, nil, []string{"KES"}, 10*time.Minute)

	if _, err := svc.Rate("KES"); err != ErrRateUnavailable {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
	if _, err := svc.Rate("EUR"); err != ErrUnsupportedCurrency {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestRefreshPopulatesQuotes(t *testing.T) {
	src := &staticSource{rates: map[string]float64{"KES": 8_400_000}}
	svc := NewService(src, nil, []string{"KES"}, 10*time.Minute)

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	q, err := svc.Rate("KES")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Source != "static" || q.Rate != 8_400_000 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if src.calls != 1 {
		t.Fatalf("expected 1 source call, got %d", src.calls)
	}
}
