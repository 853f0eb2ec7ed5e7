// Package statestore implements the warm, per-user key-value state used by
// the rule engine: rolling transaction-time windows, recent amount history,
// device/IP first-seen tracking, and last known location.
//
// Every operation is atomic from the caller's point of view but the store
// provides no multi-key transactions — callers needing several signals for
// one decision issue several calls, as the stream processor does.
package statestore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TTLs, per spec.md §3.3. Refreshed on every write to the corresponding
// sub-structure; entries decay lazily, there is no background reaper.
const (
	TxTimeWindow    = 24 * time.Hour
	TxTimeTTL       = 48 * time.Hour
	AmountTTL       = 90 * 24 * time.Hour
	DeviceTTL       = 90 * 24 * time.Hour
	IPTTL           = 90 * 24 * time.Hour
	LastLocationTTL = 30 * 24 * time.Hour

	DefaultAmountHistorySize = 10
)

// LastLocation is a user's most recently observed transaction location.
type LastLocation struct {
	Lat float64
	Lon float64
	At  time.Time
}

// Store is the typed key-value client the rule engine reads and the stream
// processor writes. Implementations must make reads degrade to an
// absent/zero value on transport failure rather than propagating an error,
// per spec.md §4.1's failure semantics — the interface itself returns
// errors only for the caller to log; the returned zero value is always
// still meaningful to use.
type Store interface {
	// RecordTxTime inserts ts into the user's time series and drops entries
	// older than TxTimeWindow relative to ts.
	RecordTxTime(ctx context.Context, userID string, ts time.Time) error

	// RecentCount returns how many recorded tx times fall in
	// [now-window, now].
	RecentCount(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error)

	// RecordAmount prepends amount to the user's history, most-recent-first,
	// truncated to maxSize entries.
	RecordAmount(ctx context.Context, userID string, amount decimal.Decimal, maxSize int) error

	// MedianAmount returns the median of the stored amount history, or zero
	// if the history is empty. Even-length histories average the two
	// central values.
	MedianAmount(ctx context.Context, userID string) (decimal.Decimal, error)

	// ObserveDevice records a device sighting for userID at ts. It returns
	// true iff this is the first time the device has been seen for this
	// user; the stored first-seen timestamp is never overwritten by a
	// later call.
	ObserveDevice(ctx context.Context, userID, deviceID string, ts time.Time) (firstSeen bool, err error)

	// DeviceFirstSeenWithin reports whether the device's first-seen
	// timestamp for this user is at most 'within' old, relative to now.
	DeviceFirstSeenWithin(ctx context.Context, userID, deviceID string, now time.Time, within time.Duration) (bool, error)

	// ObserveIP and IPFirstSeenWithin are the IP analogues of the device
	// operations above.
	ObserveIP(ctx context.Context, userID, ip string, ts time.Time) (firstSeen bool, err error)
	IPFirstSeenWithin(ctx context.Context, userID, ip string, now time.Time, within time.Duration) (bool, error)

	// GetLastLocation returns the user's last known location, or nil if
	// none is recorded or it has expired.
	GetLastLocation(ctx context.Context, userID string) (*LastLocation, error)

	// SetLastLocation unconditionally overwrites the user's last known
	// location.
	SetLastLocation(ctx context.Context, userID string, lat, lon float64, ts time.Time) error
}
