//go:build integration

package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudpipeline/internal/testutil"
)

func TestPostgresStoreRecentCount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	userID := "pg-user-1"
	now := time.Now().UTC()

	if err := store.RecordTxTime(ctx, userID, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("RecordTxTime: %v", err)
	}
	if err := store.RecordTxTime(ctx, userID, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("RecordTxTime: %v", err)
	}
	if err := store.RecordTxTime(ctx, userID, now); err != nil {
		t.Fatalf("RecordTxTime: %v", err)
	}

	count, err := store.RecentCount(ctx, userID, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("RecentCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 transactions within 30m window, got %d", count)
	}
}

func TestPostgresStoreMedianAmount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	userID := "pg-user-2"

	for _, amt := range []string{"10", "20", "30"} {
		d, _ := decimal.NewFromString(amt)
		if err := store.RecordAmount(ctx, userID, d, 10); err != nil {
			t.Fatalf("RecordAmount: %v", err)
		}
	}

	median, err := store.MedianAmount(ctx, userID)
	if err != nil {
		t.Fatalf("MedianAmount: %v", err)
	}
	if !median.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected median 20, got %s", median)
	}
}

func TestPostgresStoreObserveDeviceFirstSeenOnce(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	userID := "pg-user-3"
	now := time.Now().UTC()

	first, err := store.ObserveDevice(ctx, userID, "device-a", now)
	if err != nil {
		t.Fatalf("ObserveDevice: %v", err)
	}
	if !first {
		t.Fatal("expected first sighting to report firstSeen=true")
	}

	first, err = store.ObserveDevice(ctx, userID, "device-a", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ObserveDevice second call: %v", err)
	}
	if first {
		t.Fatal("expected second sighting of the same device to report firstSeen=false")
	}

	within, err := store.DeviceFirstSeenWithin(ctx, userID, "device-a", now.Add(2*time.Hour), 24*time.Hour)
	if err != nil {
		t.Fatalf("DeviceFirstSeenWithin: %v", err)
	}
	if !within {
		t.Fatal("expected device first-seen timestamp to still be within the window")
	}
}

func TestPostgresStoreLastLocationRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	userID := "pg-user-4"
	now := time.Now().UTC()

	if loc, err := store.GetLastLocation(ctx, userID); err != nil {
		t.Fatalf("GetLastLocation: %v", err)
	} else if loc != nil {
		t.Fatalf("expected no location before any SetLastLocation, got %+v", loc)
	}

	if err := store.SetLastLocation(ctx, userID, 40.7128, -74.0060, now); err != nil {
		t.Fatalf("SetLastLocation: %v", err)
	}

	loc, err := store.GetLastLocation(ctx, userID)
	if err != nil {
		t.Fatalf("GetLastLocation after set: %v", err)
	}
	if loc == nil {
		t.Fatal("expected a location after SetLastLocation")
	}
	if loc.Lat != 40.7128 || loc.Lon != -74.0060 {
		t.Fatalf("unexpected location: %+v", loc)
	}
}
