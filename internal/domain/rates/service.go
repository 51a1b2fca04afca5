package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Quote is one observed fiat-per-BTC rate
type Quote struct {
	Currency   string    `json:"currency"`
	Rate       float64   `json:"rate"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// Service serves cached fiat-per-BTC rates, refreshed on a polling
// interval. A conversion using a quote older than maxAge is refused so
// a dead source cannot silently misprice transactions.
type Service struct {
	source     Source
	redis      *redis.Client
	currencies []string
	maxAge     time.Duration

	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewService creates the rate service. redisClient may be nil; the
// in-process snapshot is authoritative, Redis only warm-starts it.
func NewService(source Source, redisClient *redis.Client, currencies []string, maxAge time.Duration) *Service {
	s := &Service{
		source:     source,
		redis:      redisClient,
		currencies: currencies,
		maxAge:     maxAge,
		quotes:     make(map[string]Quote),
	}
	s.warmStart()
	return s
}

// Rate returns the cached quote for currency, enforcing the staleness
// bound.
func (s *Service) Rate(currency string) (Quote, error) {
	s.mu.RLock()
	q, ok := s.quotes[currency]
	s.mu.RUnlock()

	if !ok {
		if !s.tracked(currency) {
			return Quote{}, ErrUnsupportedCurrency
		}
		return Quote{}, ErrRateUnavailable
	}
	if time.Since(q.ObservedAt) > s.maxAge {
		return Quote{}, ErrStaleRate
	}
	return q, nil
}

// Refresh fetches fresh quotes once. Used by Run and by tests.
func (s *Service) Refresh(ctx context.Context) error {
	fetched, err := s.source.FetchRates(ctx, s.currencies)
	if err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	for currency, rate := range fetched {
		q := Quote{Currency: currency, Rate: rate, ObservedAt: now, Source: s.source.Name()}
		s.quotes[currency] = q
		s.writeThrough(ctx, q)
	}
	s.mu.Unlock()

	log.Debug().Int("currencies", len(fetched)).Msg("Exchange rates refreshed")
	return nil
}

// Run refreshes quotes on interval until ctx is cancelled
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if err := s.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("Initial rate refresh failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Rate refresher stopped")
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				log.Error().Err(err).Msg("Rate refresh failed")
			}
		}
	}
}

// SetQuote injects a quote directly. Test seam.
func (s *Service) SetQuote(q Quote) {
	s.mu.Lock()
	s.quotes[q.Currency] = q
	s.mu.Unlock()
}

func (s *Service) tracked(currency string) bool {
	for _, c := range s.currencies {
		if c == currency {
			return true
		}
	}
	return false
}

func (s *Service) writeThrough(ctx context.Context, q Quote) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	key := fmt.Sprintf("rates:btc-%s", q.Currency)
	if err := s.redis.Set(ctx, key, data, s.maxAge).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache rate in Redis")
	}
}

// warmStart loads whatever Redis still holds so restarts can convert
// before the first poll completes.
func (s *Service) warmStart() {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for _, currency := range s.currencies {
		key := fmt.Sprintf("rates:btc-%s", currency)
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var q Quote
		if err := json.Unmarshal(data, &q); err != nil {
			continue
		}
		s.quotes[q.Currency] = q
	}
	if len(s.quotes) > 0 {
		log.Info().Int("currencies", len(s.quotes)).Msg("Warm-started exchange rates from Redis")
	}
}
