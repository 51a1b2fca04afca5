package rates

import "math"

// SatsPerBTC is the number of satoshis in one bitcoin
const SatsPerBTC = 100_000_000

// ToSats converts a fiat amount to satoshis at a fiat-per-BTC rate,
// rounding to the nearest satoshi.
func ToSats(amountFiat, rate float64) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(math.Round(amountFiat / rate * SatsPerBTC))
}

// ToFiat converts satoshis to fiat at a fiat-per-BTC rate, rounding to
// the smallest fiat unit (cents).
func ToFiat(amountSats int64, rate float64) float64 {
	fiat := float64(amountSats) / SatsPerBTC * rate
	return math.Round(fiat*100) / 100
}
