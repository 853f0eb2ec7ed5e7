// Package transaction defines the data model shared by every stage of the
// fraud scoring pipeline: the inbound transaction, the outbound decision,
// and the geo helper used by the geo-impossible rule.
package transaction

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Device identifies the originating device of a transaction.
type Device struct {
	ID        string `json:"id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Location is the geographic origin of a transaction.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Transaction is the immutable inbound event scored by the pipeline.
type Transaction struct {
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	// AmountValid is false when the amount field was missing or unparsable
	// on the wire; it is distinct from a present-but-non-positive amount,
	// but both drive the invalid_amount rule identically.
	AmountValid bool       `json:"-"`
	Currency    string     `json:"currency,omitempty"`
	MerchantID  string     `json:"merchantId,omitempty"`
	OccurredAt  time.Time  `json:"occurredAt"`
	Device      *Device    `json:"device,omitempty"`
	Location    *Location  `json:"location,omitempty"`
}

// HasValidAmount reports whether Amount should be treated as a normal,
// positive transaction amount rather than triggering invalid_amount.
func (t Transaction) HasValidAmount() bool {
	return t.AmountValid && t.Amount.IsPositive()
}

// AmountFloat returns Amount as a float64 for feature/score arithmetic.
// Precision loss here is acceptable: the stored history and comparisons
// that must be exact use decimal.Decimal directly.
func (t Transaction) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// Category is one of the three terminal risk decisions.
type Category string

const (
	Allow  Category = "ALLOW"
	Review Category = "REVIEW"
	Block  Category = "BLOCK"
)

// rank orders categories for the monotonicity property: Allow < Review < Block.
func (c Category) rank() int {
	switch c {
	case Allow:
		return 0
	case Review:
		return 1
	case Block:
		return 2
	default:
		return -1
	}
}

// Less reports whether c is a strictly lower-severity category than other.
func (c Category) Less(other Category) bool {
	return c.rank() < other.rank()
}

// Decision is the immutable, once-emitted output of scoring a transaction.
type Decision struct {
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Decision      Category  `json:"decision"`
	Score         float64   `json:"score"`
	Reasons       []string  `json:"reasons"`
	LatencyMs     int64     `json:"latencyMs"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}

// EarthRadiusKm is the sphere radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// lat/lon points on a sphere of radius EarthRadiusKm.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// AcceptedCurrencies is the closed set of ISO-like codes the bad_currency
// rule treats as legitimate.
var AcceptedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "AUD": true,
	"JPY": true, "CHF": true, "NZD": true, "SEK": true, "NOK": true,
}

// currencyDictionary assigns a stable non-zero integer to every accepted
// currency for the feature extractor's currency slot. Order is fixed and
// must not change without a model version bump (spec.md §4.3).
var currencyDictionary = map[string]float64{
	"USD": 1, "EUR": 2, "GBP": 3, "CAD": 4, "AUD": 5,
	"JPY": 6, "CHF": 7, "NZD": 8, "SEK": 9, "NOK": 10,
}

// CurrencyCode returns the stable dictionary encoding for a currency,
// or 0 if the currency is unrecognized.
func CurrencyCode(currency string) float64 {
	return currencyDictionary[currency]
}
