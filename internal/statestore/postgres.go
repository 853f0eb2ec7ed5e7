package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore is a durable Store backed by a single row per user. Each
// operation runs inside a transaction that takes a row lock via
// SELECT ... FOR UPDATE, mirroring spec.md §5's rule that the mutual
// exclusion primitive is the row itself rather than an advisory lock —
// here the row lock stands in for the warm store's per-key atomicity.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing DB handle. The user_state table is
// created by migrations/0002_create_user_state.sql via cmd/migrate, not
// by this package.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type userRow struct {
	txTimes         []int64
	txTimesSeen     sql.NullTime
	amounts         []string
	amountsSeen     sql.NullTime
	deviceFirstSeen map[string]int64
	deviceSeen      sql.NullTime
	ipFirstSeen     map[string]int64
	ipSeen          sql.NullTime
	lastLat         sql.NullFloat64
	lastLon         sql.NullFloat64
	lastLocSeen     sql.NullTime
}

// withRow loads (creating if absent) and locks the user's row for the
// duration of fn, then persists whatever fn leaves in the row.
func (s *PostgresStore) withRow(ctx context.Context, userID string, fn func(*userRow) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO user_state (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("statestore: ensure row: %w", err)
	}

	var (
		txTimesJSON, amountsJSON, deviceJSON, ipJSON []byte
		row                                          userRow
	)
	err = tx.QueryRowContext(ctx, `
		SELECT tx_times, tx_times_seen, amounts, amounts_seen,
		       device_first_seen, device_seen, ip_first_seen, ip_seen,
		       last_lat, last_lon, last_loc_seen
		FROM user_state WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(
		&txTimesJSON, &row.txTimesSeen, &amountsJSON, &row.amountsSeen,
		&deviceJSON, &row.deviceSeen, &ipJSON, &row.ipSeen,
		&row.lastLat, &row.lastLon, &row.lastLocSeen,
	)
	if err != nil {
		return fmt.Errorf("statestore: select for update: %w", err)
	}
	_ = json.Unmarshal(txTimesJSON, &row.txTimes)
	_ = json.Unmarshal(amountsJSON, &row.amounts)
	_ = json.Unmarshal(deviceJSON, &row.deviceFirstSeen)
	_ = json.Unmarshal(ipJSON, &row.ipFirstSeen)
	if row.deviceFirstSeen == nil {
		row.deviceFirstSeen = make(map[string]int64)
	}
	if row.ipFirstSeen == nil {
		row.ipFirstSeen = make(map[string]int64)
	}

	if err := fn(&row); err != nil {
		return err
	}

	txTimesJSON, _ = json.Marshal(row.txTimes)
	amountsJSON, _ = json.Marshal(row.amounts)
	deviceJSON, _ = json.Marshal(row.deviceFirstSeen)
	ipJSON, _ = json.Marshal(row.ipFirstSeen)

	_, err = tx.ExecContext(ctx, `
		UPDATE user_state SET
			tx_times = $2, tx_times_seen = $3,
			amounts = $4, amounts_seen = $5,
			device_first_seen = $6, device_seen = $7,
			ip_first_seen = $8, ip_seen = $9,
			last_lat = $10, last_lon = $11, last_loc_seen = $12
		WHERE user_id = $1
	`, userID,
		txTimesJSON, row.txTimesSeen,
		amountsJSON, row.amountsSeen,
		deviceJSON, row.deviceSeen,
		ipJSON, row.ipSeen,
		row.lastLat, row.lastLon, row.lastLocSeen,
	)
	if err != nil {
		return fmt.Errorf("statestore: update: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) RecordTxTime(ctx context.Context, userID string, ts time.Time) error {
	return s.withRow(ctx, userID, func(r *userRow) error {
		if !r.txTimesSeen.Valid || time.Since(r.txTimesSeen.Time) > TxTimeTTL {
			r.txTimes = nil
		}
		r.txTimes = append(r.txTimes, ts.Unix())
		cutoff := ts.Add(-TxTimeWindow).Unix()
		kept := r.txTimes[:0]
		for _, t := range r.txTimes {
			if t >= cutoff {
				kept = append(kept, t)
			}
		}
		r.txTimes = kept
		r.txTimesSeen = sql.NullTime{Time: ts, Valid: true}
		return nil
	})
}

func (s *PostgresStore) RecentCount(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	count := 0
	err := s.withRow(ctx, userID, func(r *userRow) error {
		if !r.txTimesSeen.Valid || time.Since(r.txTimesSeen.Time) > TxTimeTTL {
			return nil
		}
		lo, hi := now.Add(-window).Unix(), now.Unix()
		for _, t := range r.txTimes {
			if t >= lo && t <= hi {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (s *PostgresStore) RecordAmount(ctx context.Context, userID string, amount decimal.Decimal, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultAmountHistorySize
	}
	return s.withRow(ctx, userID, func(r *userRow) error {
		if !r.amountsSeen.Valid || time.Since(r.amountsSeen.Time) > AmountTTL {
			r.amounts = nil
		}
		r.amounts = append([]string{amount.String()}, r.amounts...)
		if len(r.amounts) > maxSize {
			r.amounts = r.amounts[:maxSize]
		}
		r.amountsSeen = sql.NullTime{Time: time.Now(), Valid: true}
		return nil
	})
}

func (s *PostgresStore) MedianAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	var median decimal.Decimal
	err := s.withRow(ctx, userID, func(r *userRow) error {
		if !r.amountsSeen.Valid || time.Since(r.amountsSeen.Time) > AmountTTL || len(r.amounts) == 0 {
			median = decimal.Zero
			return nil
		}
		nums := make([]decimal.Decimal, 0, len(r.amounts))
		for _, s := range r.amounts {
			d, err := decimal.NewFromString(s)
			if err != nil {
				d = decimal.Zero
			}
			nums = append(nums, d)
		}
		sort.Slice(nums, func(i, j int) bool { return nums[i].LessThan(nums[j]) })
		n := len(nums)
		if n%2 == 1 {
			median = nums[n/2]
		} else {
			median = nums[n/2-1].Add(nums[n/2]).Div(decimal.NewFromInt(2))
		}
		return nil
	})
	return median, err
}

func (s *PostgresStore) ObserveDevice(ctx context.Context, userID, deviceID string, ts time.Time) (bool, error) {
	firstSeen := false
	err := s.withRow(ctx, userID, func(r *userRow) error {
		if !r.deviceSeen.Valid || time.Since(r.deviceSeen.Time) > DeviceTTL {
			r.deviceFirstSeen = make(map[string]int64)
		}
		r.deviceSeen = sql.NullTime{Time: ts, Valid: true}
		if _, ok := r.deviceFirstSeen[deviceID]; ok {
			return nil
		}
		r.deviceFirstSeen[deviceID] = ts.Unix()
		firstSeen = true
		return nil
	})
	return firstSeen, err
}

func (s *PostgresStore) DeviceFirstSeenWithin(ctx context.Context, userID, deviceID string, now time.Time, within time.Duration) (bool, error) {
	result := false
	err := s.withRow(ctx, userID, func(r *userRow) error {
		if !r.deviceSeen.Valid || time.Since(r.deviceSeen.Time) > DeviceTTL {
			return nil
		}
		firstSeen, ok := r.deviceFirstSeen[deviceID]
		if !ok {
			return nil
		}
		result = now.Sub(time.Unix(firstSeen, 0)) <= within
		return nil
	})
	return result, err
}

func (s *PostgresStore) ObserveIP(ctx context.Context, userID, ip string, ts time.Time) (bool, error) {
	firstSeen := false
	err := s.withRow(ctx, userID, func(r *userRow) error {
		if !r.ipSeen.Valid || time.Since(r.ipSeen.Time) > IPTTL {
			r.ipFirstSeen = make(map[string]int64)
		}
		r.ipSeen = sql.NullTime{Time: ts, Valid: true}
		if _, ok := r.ipFirstSeen[ip]; ok {
			return nil
		}
		r.ipFirstSeen[ip] = ts.Unix()
		firstSeen = true
		return nil
	})
	return firstSeen, err
}

func (s *PostgresStore) IPFirstSeenWithin(ctx context.Context, userID, ip string, now time.Time, within time.Duration) (bool, error) {
	result := false
	err := s.withRow(ctx, userID, func(r *userRow) error {
		if !r.ipSeen.Valid || time.Since(r.ipSeen.Time) > IPTTL {
			return nil
		}
		firstSeen, ok := r.ipFirstSeen[ip]
		if !ok {
			return nil
		}
		result = now.Sub(time.Unix(firstSeen, 0)) <= within
		return nil
	})
	return result, err
}

func (s *PostgresStore) GetLastLocation(ctx context.Context, userID string) (*LastLocation, error) {
	var loc *LastLocation
	err := s.withRow(ctx, userID, func(r *userRow) error {
		if !r.lastLat.Valid || !r.lastLon.Valid || !r.lastLocSeen.Valid {
			return nil
		}
		if time.Since(r.lastLocSeen.Time) > LastLocationTTL {
			return nil
		}
		loc = &LastLocation{Lat: r.lastLat.Float64, Lon: r.lastLon.Float64, At: r.lastLocSeen.Time}
		return nil
	})
	return loc, err
}

func (s *PostgresStore) SetLastLocation(ctx context.Context, userID string, lat, lon float64, ts time.Time) error {
	return s.withRow(ctx, userID, func(r *userRow) error {
		r.lastLat = sql.NullFloat64{Float64: lat, Valid: true}
		r.lastLon = sql.NullFloat64{Float64: lon, Valid: true}
		r.lastLocSeen = sql.NullTime{Time: ts, Valid: true}
		return nil
	})
}
