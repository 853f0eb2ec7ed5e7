package statestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process implementation of Store, one *record per
// user held in a sync.Map with a per-user mutex — the same shape as the
// teacher's risk.Engine sliding-window map, generalized from a single
// rolling window to the five sub-structures spec.md §3.3 requires.
type MemoryStore struct {
	users sync.Map // userID -> *record
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

type record struct {
	mu sync.Mutex

	txTimes     []int64 // epoch seconds, ascending
	txTimesSeen time.Time

	amounts     []decimal.Decimal // most-recent-first
	amountsSeen time.Time

	deviceFirstSeen map[string]int64 // deviceID -> epoch seconds
	deviceSeen      time.Time

	ipFirstSeen map[string]int64
	ipSeen      time.Time

	lastLoc     *LastLocation
	lastLocSeen time.Time
}

func (s *MemoryStore) recordFor(userID string) *record {
	v, _ := s.users.LoadOrStore(userID, &record{})
	return v.(*record)
}

func (s *MemoryStore) RecordTxTime(ctx context.Context, userID string, ts time.Time) error {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.txTimesSeen) > TxTimeTTL {
		r.txTimes = nil
	}
	r.txTimes = append(r.txTimes, ts.Unix())
	cutoff := ts.Add(-TxTimeWindow).Unix()
	r.txTimes = pruneOlderThan(r.txTimes, cutoff)
	r.txTimesSeen = ts
	return nil
}

func pruneOlderThan(times []int64, cutoff int64) []int64 {
	kept := times[:0]
	for _, t := range times {
		if t >= cutoff {
			kept = append(kept, t)
		}
	}
	return kept
}

func (s *MemoryStore) RecentCount(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.txTimesSeen) > TxTimeTTL {
		return 0, nil
	}

	lo := now.Add(-window).Unix()
	hi := now.Unix()
	count := 0
	for _, t := range r.txTimes {
		if t >= lo && t <= hi {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) RecordAmount(ctx context.Context, userID string, amount decimal.Decimal, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultAmountHistorySize
	}
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.amountsSeen) > AmountTTL {
		r.amounts = nil
	}
	r.amounts = append([]decimal.Decimal{amount}, r.amounts...)
	if len(r.amounts) > maxSize {
		r.amounts = r.amounts[:maxSize]
	}
	r.amountsSeen = time.Now()
	return nil
}

func (s *MemoryStore) MedianAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.amountsSeen) > AmountTTL || len(r.amounts) == 0 {
		return decimal.Zero, nil
	}

	sorted := make([]decimal.Decimal, len(r.amounts))
	copy(sorted, r.amounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	sum := sorted[n/2-1].Add(sorted[n/2])
	return sum.Div(decimal.NewFromInt(2)), nil
}

func (s *MemoryStore) ObserveDevice(ctx context.Context, userID, deviceID string, ts time.Time) (bool, error) {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.deviceSeen) > DeviceTTL || r.deviceFirstSeen == nil {
		r.deviceFirstSeen = make(map[string]int64)
	}
	r.deviceSeen = ts

	if _, ok := r.deviceFirstSeen[deviceID]; ok {
		return false, nil
	}
	r.deviceFirstSeen[deviceID] = ts.Unix()
	return true, nil
}

func (s *MemoryStore) DeviceFirstSeenWithin(ctx context.Context, userID, deviceID string, now time.Time, within time.Duration) (bool, error) {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.deviceSeen) > DeviceTTL || r.deviceFirstSeen == nil {
		return false, nil
	}
	firstSeen, ok := r.deviceFirstSeen[deviceID]
	if !ok {
		return false, nil
	}
	return now.Sub(time.Unix(firstSeen, 0)) <= within, nil
}

func (s *MemoryStore) ObserveIP(ctx context.Context, userID, ip string, ts time.Time) (bool, error) {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.ipSeen) > IPTTL || r.ipFirstSeen == nil {
		r.ipFirstSeen = make(map[string]int64)
	}
	r.ipSeen = ts

	if _, ok := r.ipFirstSeen[ip]; ok {
		return false, nil
	}
	r.ipFirstSeen[ip] = ts.Unix()
	return true, nil
}

func (s *MemoryStore) IPFirstSeenWithin(ctx context.Context, userID, ip string, now time.Time, within time.Duration) (bool, error) {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.ipSeen) > IPTTL || r.ipFirstSeen == nil {
		return false, nil
	}
	firstSeen, ok := r.ipFirstSeen[ip]
	if !ok {
		return false, nil
	}
	return now.Sub(time.Unix(firstSeen, 0)) <= within, nil
}

func (s *MemoryStore) GetLastLocation(ctx context.Context, userID string) (*LastLocation, error) {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastLoc == nil || time.Since(r.lastLocSeen) > LastLocationTTL {
		return nil, nil
	}
	loc := *r.lastLoc
	return &loc, nil
}

func (s *MemoryStore) SetLastLocation(ctx context.Context, userID string, lat, lon float64, ts time.Time) error {
	r := s.recordFor(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastLoc = &LastLocation{Lat: lat, Lon: lon, At: ts}
	r.lastLocSeen = ts
	return nil
}
