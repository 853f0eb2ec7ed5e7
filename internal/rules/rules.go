// Package rules implements the fraud pipeline's pure-function rule
// evaluator: given a transaction and the state signals already read for
// its user, it returns a partial score, the ordered set of triggered
// reason tags, and the raw values the feature extractor needs to build
// its vector. The engine never touches the state store itself — reads
// happen in the stream processor so failure paths can short-circuit
// before any state write (spec.md §4.2, §4.6 step 5).
package rules

import (
	"fmt"
	"time"

	"github.com/mbd888/fraudpipeline/internal/statestore"
	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// Reason tags, the closed set spec.md §4.2 and §8 refer to (plus
// ml_high_risk, added later by the score combiner).
const (
	ReasonInvalidAmount = "invalid_amount"
	ReasonHighAmount    = "high_amount"
	ReasonBadCurrency   = "bad_currency"
	ReasonNightTime     = "night_time"
	ReasonSpendSpike    = "spend_spike"
	ReasonNewDevice     = "new_device"
	ReasonNewIP         = "new_ip"
	ReasonGeoImpossible = "geo_impossible"
)

// Config carries every rule tunable in spec.md §6.5. Zero values are not
// valid; callers should start from Defaults() and override selectively.
type Config struct {
	BurstWindowSec  int
	BurstCount      int
	BurstScore      float64
	GeoMaxSpeedKmph float64
	GeoScore        float64
	DeviceNewWithinDays int
	DeviceScore         float64
	IPNewWithinDays     int
	IPScore             float64
	SpendMultiplier     float64
	SpendScore          float64
	SpendHistorySize    int
	HighAmountThreshold float64
	HighAmountScore     float64
	BadCurrencyScore    float64
	NightTimeScore      float64
	InvalidAmountScore  float64
}

// Defaults returns the rule configuration with every default from
// spec.md §6.5.
func Defaults() Config {
	return Config{
		BurstWindowSec:      60,
		BurstCount:          3,
		BurstScore:          40,
		GeoMaxSpeedKmph:     900,
		GeoScore:            50,
		DeviceNewWithinDays: 7,
		DeviceScore:         20,
		IPNewWithinDays:     7,
		IPScore:             15,
		SpendMultiplier:     5.0,
		SpendScore:          30,
		SpendHistorySize:    10,
		HighAmountThreshold: 1000,
		HighAmountScore:     60,
		BadCurrencyScore:    40,
		NightTimeScore:      20,
		InvalidAmountScore:  100,
	}
}

// Signals are the state-store reads the stream processor performs before
// evaluating rules for one transaction (spec.md §4.6 step 3).
type Signals struct {
	BurstCount         int
	MedianAmount       float64
	DeviceFirstSeen    bool // true iff this ObserveDevice call was the first ever for this device
	DeviceWithinWindow bool // true iff the device's first-seen timestamp is within the configured freshness window
	IPFirstSeen        bool
	IPWithinWindow     bool
	LastLocation       *statestore.LastLocation
}

// Result is the rule engine's verdict plus the raw values the feature
// extractor needs so it does not recompute geo speed or spend deviation
// itself.
type Result struct {
	Score               float64
	Reasons             []string
	Bits                map[string]bool
	SpeedKmph           float64 // implied travel speed used by geo_impossible, 0 if not computable
	SpendDeviationRatio float64 // (amount/median)-1 when median > 0, else 0
}

func (r *Result) fire(tag string, contribution float64) {
	if r.Bits[tag] {
		return
	}
	r.Bits[tag] = true
	r.Reasons = append(r.Reasons, tag)
	r.Score += contribution
}

// Fired reports whether the named canonical reason triggered. For the
// burst rule, whose tag embeds the configured window (e.g. "burst_60s"),
// pass ReasonBurst; Fired checks by prefix so callers don't need to know
// the configured window.
const ReasonBurst = "burst_"

func (r Result) Fired(reason string) bool {
	if reason == ReasonBurst {
		for tag := range r.Bits {
			if len(tag) > len(ReasonBurst) && tag[:len(ReasonBurst)] == ReasonBurst {
				return true
			}
		}
		return false
	}
	return r.Bits[reason]
}

// Evaluate scores a single transaction against its user's state signals.
// Reason ordering follows spec.md §4.2's table order and never contains
// duplicates. The returned score is clamped to [0, 100].
func Evaluate(tx transaction.Transaction, now time.Time, signals Signals, cfg Config) Result {
	res := Result{Bits: make(map[string]bool)}

	if !tx.HasValidAmount() {
		res.fire(ReasonInvalidAmount, cfg.InvalidAmountScore)
	}
	if tx.HasValidAmount() && tx.AmountFloat() >= cfg.HighAmountThreshold {
		res.fire(ReasonHighAmount, cfg.HighAmountScore)
	}
	if !isAcceptedCurrency(tx.Currency) {
		res.fire(ReasonBadCurrency, cfg.BadCurrencyScore)
	}
	if hour := tx.OccurredAt.UTC().Hour(); hour >= 0 && hour <= 5 {
		res.fire(ReasonNightTime, cfg.NightTimeScore)
	}

	burstTag := fmt.Sprintf("burst_%ds", cfg.BurstWindowSec)
	if signals.BurstCount >= cfg.BurstCount {
		res.fire(burstTag, cfg.BurstScore)
	}

	if signals.MedianAmount > 0 {
		res.SpendDeviationRatio = (tx.AmountFloat() / signals.MedianAmount) - 1
		if tx.AmountFloat() >= signals.MedianAmount*cfg.SpendMultiplier {
			res.fire(ReasonSpendSpike, cfg.SpendScore)
		}
	}

	if tx.Device != nil && tx.Device.ID != "" {
		if signals.DeviceFirstSeen || signals.DeviceWithinWindow {
			res.fire(ReasonNewDevice, cfg.DeviceScore)
		}
	}
	if tx.Device != nil && tx.Device.IP != "" {
		if signals.IPFirstSeen || signals.IPWithinWindow {
			res.fire(ReasonNewIP, cfg.IPScore)
		}
	}

	if tx.Location != nil && signals.LastLocation != nil {
		km := transaction.HaversineKm(signals.LastLocation.Lat, signals.LastLocation.Lon, tx.Location.Lat, tx.Location.Lon)
		dtSec := now.Unix() - signals.LastLocation.At.Unix()
		if dtSec < 1 {
			dtSec = 1
		}
		speed := km / (float64(dtSec) / 3600.0)
		res.SpeedKmph = speed
		if speed > cfg.GeoMaxSpeedKmph {
			res.fire(ReasonGeoImpossible, cfg.GeoScore)
		}
	}

	if res.Score > 100 {
		res.Score = 100
	}
	return res
}

func isAcceptedCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	return transaction.AcceptedCurrencies[currency]
}
