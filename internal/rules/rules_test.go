package rules

import (
	"testing"
	"time"

	"github.com/mbd888/fraudpipeline/internal/statestore"
	"github.com/mbd888/fraudpipeline/internal/transaction"
	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func baseTx(t *testing.T, amount string, hour int) transaction.Transaction {
	t.Helper()
	occurred := time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
	return transaction.Transaction{
		TransactionID: "tx1",
		UserID:        "u1",
		Amount:        mustDecimal(t, amount),
		AmountValid:   true,
		Currency:      "USD",
		OccurredAt:    occurred,
	}
}

func TestInvalidAmountSaturates(t *testing.T) {
	tx := baseTx(t, "0", 12)
	tx.AmountValid = false
	res := Evaluate(tx, tx.OccurredAt, Signals{}, Defaults())

	if res.Score != 100 {
		t.Errorf("expected saturating score 100, got %v", res.Score)
	}
	if !res.Fired(ReasonInvalidAmount) {
		t.Errorf("expected invalid_amount reason")
	}
}

func TestHighAmountBoundary(t *testing.T) {
	cfg := Defaults()

	below := baseTx(t, "999.99", 12)
	res := Evaluate(below, below.OccurredAt, Signals{}, cfg)
	if res.Fired(ReasonHighAmount) {
		t.Errorf("999.99 should not trigger high_amount")
	}

	at := baseTx(t, "1000", 12)
	res = Evaluate(at, at.OccurredAt, Signals{}, cfg)
	if !res.Fired(ReasonHighAmount) {
		t.Errorf("exactly 1000 should trigger high_amount")
	}
}

func TestNightTimeBoundary(t *testing.T) {
	cfg := Defaults()

	at5 := baseTx(t, "10", 5)
	res := Evaluate(at5, at5.OccurredAt, Signals{}, cfg)
	if !res.Fired(ReasonNightTime) {
		t.Errorf("hour 5 should trigger night_time")
	}

	at6 := baseTx(t, "10", 6)
	res = Evaluate(at6, at6.OccurredAt, Signals{}, cfg)
	if res.Fired(ReasonNightTime) {
		t.Errorf("hour 6 should not trigger night_time")
	}
}

func TestBadCurrency(t *testing.T) {
	cfg := Defaults()
	tx := baseTx(t, "10", 12)
	tx.Currency = "XXX"
	res := Evaluate(tx, tx.OccurredAt, Signals{}, cfg)
	if !res.Fired(ReasonBadCurrency) {
		t.Errorf("unrecognized currency should trigger bad_currency")
	}

	tx.Currency = ""
	res = Evaluate(tx, tx.OccurredAt, Signals{}, cfg)
	if !res.Fired(ReasonBadCurrency) {
		t.Errorf("missing currency should trigger bad_currency")
	}
}

func TestBurstBoundary(t *testing.T) {
	cfg := Defaults()
	tx := baseTx(t, "10", 12)

	below := Evaluate(tx, tx.OccurredAt, Signals{BurstCount: cfg.BurstCount - 1}, cfg)
	if below.Fired(ReasonBurst) {
		t.Errorf("burstCount-1 should not fire burst rule")
	}

	at := Evaluate(tx, tx.OccurredAt, Signals{BurstCount: cfg.BurstCount}, cfg)
	if !at.Fired(ReasonBurst) {
		t.Errorf("exactly burstCount should fire burst rule")
	}
	if len(at.Reasons) != 1 || at.Reasons[0] != "burst_60s" {
		t.Errorf("expected reason tag burst_60s, got %v", at.Reasons)
	}
}

func TestSpendSpike(t *testing.T) {
	cfg := Defaults()
	tx := baseTx(t, "100", 12)

	res := Evaluate(tx, tx.OccurredAt, Signals{MedianAmount: 100}, cfg)
	if res.Fired(ReasonSpendSpike) {
		t.Errorf("5x is the boundary, 100 vs median 100 should not fire alone (needs >= 5x)")
	}

	res = Evaluate(tx, tx.OccurredAt, Signals{MedianAmount: 20}, cfg)
	if !res.Fired(ReasonSpendSpike) {
		t.Errorf("amount >= median*5 should fire spend_spike")
	}
	if res.SpendDeviationRatio != 4 {
		t.Errorf("expected spend deviation ratio 4 (100/20 - 1), got %v", res.SpendDeviationRatio)
	}
}

func TestNewDeviceAndIP(t *testing.T) {
	cfg := Defaults()
	tx := baseTx(t, "10", 12)
	tx.Device = &transaction.Device{ID: "dev1", IP: "1.2.3.4"}

	res := Evaluate(tx, tx.OccurredAt, Signals{DeviceFirstSeen: true, IPFirstSeen: true}, cfg)
	if !res.Fired(ReasonNewDevice) || !res.Fired(ReasonNewIP) {
		t.Errorf("expected new_device and new_ip, got %v", res.Reasons)
	}
}

func TestGeoImpossible(t *testing.T) {
	cfg := Defaults()
	tx := baseTx(t, "10", 12)
	tx.Location = &transaction.Location{Lat: 35.68, Lon: 139.65}

	last := &statestore.LastLocation{Lat: 40.71, Lon: -74.01, At: tx.OccurredAt.Add(-5 * time.Minute)}
	res := Evaluate(tx, tx.OccurredAt, Signals{LastLocation: last}, cfg)
	if !res.Fired(ReasonGeoImpossible) {
		t.Errorf("NYC to Tokyo in 5 minutes should trigger geo_impossible")
	}
}

func TestGeoImpossibleSameSecondDoesNotDivideByZero(t *testing.T) {
	cfg := Defaults()
	tx := baseTx(t, "10", 12)
	tx.Location = &transaction.Location{Lat: 40.72, Lon: -74.02}

	last := &statestore.LastLocation{Lat: 40.71, Lon: -74.01, At: tx.OccurredAt}
	res := Evaluate(tx, tx.OccurredAt, Signals{LastLocation: last}, cfg)
	if res.SpeedKmph < 0 {
		t.Errorf("speed should never be negative")
	}
}

func TestReasonOrderingIsStableAndDeduped(t *testing.T) {
	cfg := Defaults()
	tx := baseTx(t, "5000", 2)
	tx.Currency = "ZZZ"
	tx.Device = &transaction.Device{ID: "dev1", IP: "9.9.9.9"}

	res := Evaluate(tx, tx.OccurredAt, Signals{
		BurstCount:      cfg.BurstCount,
		MedianAmount:    10,
		DeviceFirstSeen: true,
		IPFirstSeen:     true,
	}, cfg)

	seen := map[string]bool{}
	for _, r := range res.Reasons {
		if seen[r] {
			t.Errorf("duplicate reason tag %q", r)
		}
		seen[r] = true
	}

	expectedOrder := []string{
		ReasonHighAmount, ReasonBadCurrency, ReasonNightTime,
		"burst_60s", ReasonSpendSpike, ReasonNewDevice, ReasonNewIP,
	}
	if len(res.Reasons) != len(expectedOrder) {
		t.Fatalf("expected %d reasons, got %v", len(expectedOrder), res.Reasons)
	}
	for i, want := range expectedOrder {
		if res.Reasons[i] != want {
			t.Errorf("reason[%d] = %q, want %q (full: %v)", i, res.Reasons[i], want, res.Reasons)
		}
	}
	if res.Score != 100 {
		t.Errorf("expected clamped score 100, got %v", res.Score)
	}
}
