package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRecordTxTimeAndRecentCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		if err := s.RecordTxTime(ctx, "u1", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordTxTime: %v", err)
		}
	}

	count, err := s.RecentCount(ctx, "u1", base.Add(3*time.Second), 60*time.Second)
	if err != nil {
		t.Fatalf("RecentCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}

	count, err = s.RecentCount(ctx, "u1", base.Add(3*time.Second), 1*time.Second)
	if err != nil {
		t.Fatalf("RecentCount: %v", err)
	}
	if count == 3 {
		t.Errorf("narrow window should not include all entries, got %d", count)
	}
}

func TestRecordTxTimePrunesOldEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	if err := s.RecordTxTime(ctx, "u1", base.Add(-25*time.Hour)); err != nil {
		t.Fatalf("RecordTxTime: %v", err)
	}
	if err := s.RecordTxTime(ctx, "u1", base); err != nil {
		t.Fatalf("RecordTxTime: %v", err)
	}

	count, err := s.RecentCount(ctx, "u1", base, 48*time.Hour)
	if err != nil {
		t.Fatalf("RecentCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the 25h-old entry to be pruned, count=%d", count)
	}
}

func TestMedianAmountEmptyIsZero(t *testing.T) {
	s := NewMemoryStore()
	median, err := s.MedianAmount(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("MedianAmount: %v", err)
	}
	if !median.IsZero() {
		t.Errorf("expected zero median, got %s", median)
	}
}

func TestMedianAmountOddAndEven(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	amounts := []int64{10, 30, 20}
	for _, a := range amounts {
		if err := s.RecordAmount(ctx, "u1", decimal.NewFromInt(a), 10); err != nil {
			t.Fatalf("RecordAmount: %v", err)
		}
	}
	median, err := s.MedianAmount(ctx, "u1")
	if err != nil {
		t.Fatalf("MedianAmount: %v", err)
	}
	if !median.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected median 20, got %s", median)
	}

	if err := s.RecordAmount(ctx, "u1", decimal.NewFromInt(40), 10); err != nil {
		t.Fatalf("RecordAmount: %v", err)
	}
	median, err = s.MedianAmount(ctx, "u1")
	if err != nil {
		t.Fatalf("MedianAmount: %v", err)
	}
	if !median.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected median 25 (mean of 20 and 30), got %s", median)
	}
}

func TestMedianAmountTruncatesToMaxSize(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := s.RecordAmount(ctx, "u1", decimal.NewFromInt(i*100), 3); err != nil {
			t.Fatalf("RecordAmount: %v", err)
		}
	}
	median, err := s.MedianAmount(ctx, "u1")
	if err != nil {
		t.Fatalf("MedianAmount: %v", err)
	}
	// most-recent-first, truncated to 3: [500, 400, 300] -> median 400
	if !median.Equal(decimal.NewFromInt(400)) {
		t.Errorf("expected median 400 after truncation, got %s", median)
	}
}

func TestObserveDeviceFirstSeenPreserved(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now().Add(-48 * time.Hour)

	first, err := s.ObserveDevice(ctx, "u1", "dev-1", t0)
	if err != nil {
		t.Fatalf("ObserveDevice: %v", err)
	}
	if !first {
		t.Errorf("expected first observation to report firstSeen=true")
	}

	second, err := s.ObserveDevice(ctx, "u1", "dev-1", time.Now())
	if err != nil {
		t.Fatalf("ObserveDevice: %v", err)
	}
	if second {
		t.Errorf("expected repeat observation to report firstSeen=false")
	}

	within, err := s.DeviceFirstSeenWithin(ctx, "u1", "dev-1", time.Now(), 24*time.Hour)
	if err != nil {
		t.Fatalf("DeviceFirstSeenWithin: %v", err)
	}
	if within {
		t.Errorf("expected first-seen timestamp to remain the original (48h ago), not be refreshed")
	}

	within, err = s.DeviceFirstSeenWithin(ctx, "u1", "dev-1", time.Now(), 72*time.Hour)
	if err != nil {
		t.Fatalf("DeviceFirstSeenWithin: %v", err)
	}
	if !within {
		t.Errorf("expected 48h-old first-seen timestamp to be within a 72h window")
	}
}

func TestObserveIPFirstSeenPreserved(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now()

	first, _ := s.ObserveIP(ctx, "u1", "1.2.3.4", t0)
	if !first {
		t.Errorf("expected first IP observation to be firstSeen=true")
	}
	second, _ := s.ObserveIP(ctx, "u1", "1.2.3.4", t0.Add(time.Hour))
	if second {
		t.Errorf("expected repeat IP observation to be firstSeen=false")
	}
}

func TestLastLocationRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	loc, err := s.GetLastLocation(ctx, "u1")
	if err != nil {
		t.Fatalf("GetLastLocation: %v", err)
	}
	if loc != nil {
		t.Errorf("expected nil location before any write")
	}

	now := time.Now()
	if err := s.SetLastLocation(ctx, "u1", 40.71, -74.01, now); err != nil {
		t.Fatalf("SetLastLocation: %v", err)
	}
	loc, err = s.GetLastLocation(ctx, "u1")
	if err != nil {
		t.Fatalf("GetLastLocation: %v", err)
	}
	if loc == nil || loc.Lat != 40.71 || loc.Lon != -74.01 {
		t.Fatalf("unexpected location: %+v", loc)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.ObserveDevice(ctx, "u1", "shared-device", time.Now())
	firstForU2, err := s.ObserveDevice(ctx, "u2", "shared-device", time.Now())
	if err != nil {
		t.Fatalf("ObserveDevice: %v", err)
	}
	if !firstForU2 {
		t.Errorf("device history must be namespaced per user, not shared")
	}
}
