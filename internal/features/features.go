// Package features builds the fixed-width numeric vector the model
// service scores (spec.md §4.3). The vector's slot order is a wire
// contract with the model: it must match the order the model's own
// feature metadata reports. Only the length is checked, once at startup
// in internal/server against modelclient.Features, not per-request; the
// slot names and their order are not compared.
package features

import (
	"time"

	"github.com/mbd888/fraudpipeline/internal/rules"
	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// Names is the canonical, ordered slot list. Index i in a Vector
// corresponds to Names[i].
var Names = []string{
	"amount",
	"currency_code",
	"hour_of_day",
	"is_night",
	"has_device",
	"has_location",
	"burst_count",
	"median_amount",
	"spend_deviation_ratio",
	"is_new_device",
	"is_new_ip",
	"required_speed_kmph",
	"rule_score",
	"fired_invalid_amount",
	"fired_high_amount",
	"fired_bad_currency",
	"fired_spend_spike",
	"fired_geo_impossible",
}

// Width is len(Names), exported so callers can size a Vector without
// importing the slice itself.
const Width = 18

// Vector is one transaction's feature values, in Names order.
type Vector [Width]float64

// Extract builds the feature vector for one transaction from its raw
// fields, the state signals already read for its user, and the rule
// engine's result. It performs no state reads or I/O of its own.
func Extract(tx transaction.Transaction, signals rules.Signals, result rules.Result) Vector {
	var v Vector

	v[0] = tx.AmountFloat()
	v[1] = transaction.CurrencyCode(tx.Currency)

	hour := tx.OccurredAt.UTC().Hour()
	v[2] = float64(hour)
	v[3] = boolToFloat(hour >= 0 && hour <= 5)

	v[4] = boolToFloat(tx.Device != nil && tx.Device.ID != "")
	v[5] = boolToFloat(tx.Location != nil)

	v[6] = float64(signals.BurstCount)
	v[7] = signals.MedianAmount
	v[8] = result.SpendDeviationRatio

	v[9] = boolToFloat(signals.DeviceFirstSeen || signals.DeviceWithinWindow)
	v[10] = boolToFloat(signals.IPFirstSeen || signals.IPWithinWindow)
	v[11] = result.SpeedKmph

	v[12] = result.Score
	v[13] = boolToFloat(result.Fired(rules.ReasonInvalidAmount))
	v[14] = boolToFloat(result.Fired(rules.ReasonHighAmount))
	v[15] = boolToFloat(result.Fired(rules.ReasonBadCurrency))
	v[16] = boolToFloat(result.Fired(rules.ReasonSpendSpike))
	v[17] = boolToFloat(result.Fired(rules.ReasonGeoImpossible))

	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Slice returns v as a plain []float64 for JSON encoding in the model
// request body.
func (v Vector) Slice() []float64 {
	out := make([]float64, Width)
	copy(out, v[:])
	return out
}

// IsNightHour reports whether t falls within the fixed night window
// [0,5] UTC inclusive, the same boundary the rule engine and the
// feature vector both use (spec.md's resolution of the night-hours
// Open Question).
func IsNightHour(t time.Time) bool {
	hour := t.UTC().Hour()
	return hour >= 0 && hour <= 5
}
