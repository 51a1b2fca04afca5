package rates

import "errors"

var (
	// ErrRateUnavailable means no rate has been observed yet for the currency
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	// ErrStaleRate means the cached rate is older than the configured bound
	ErrStaleRate = errors.New("exchange rate too stale for conversion")
	// ErrUnsupportedCurrency means the currency is not in the tracked set
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)
