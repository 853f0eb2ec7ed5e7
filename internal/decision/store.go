package decision

import (
	"context"

	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// Store persists emitted decisions and answers the idempotency check the
// stream processor runs before scoring a transaction it may have already
// decided (spec.md §4.6 step 1, §7 exactly-once-effect requirement).
type Store interface {
	// Exists reports whether a decision has already been recorded for
	// transactionID.
	Exists(ctx context.Context, transactionID string) (bool, error)

	// Save persists d. Calling Save twice for the same TransactionID is a
	// no-op on the second call; it does not return an error and does not
	// overwrite the first decision.
	Save(ctx context.Context, d transaction.Decision) error

	// Recent returns up to limit of the most recently evaluated decisions,
	// newest first. Nothing in this pipeline calls it in production: the
	// admin live feed is deliberately fed only by the bus's Outbound
	// topic, never by a read path into this store, since spec.md §1 lists
	// a query/reporting API over the decision store as an out-of-scope
	// external collaborator. Recent exists for tests and for that future,
	// separately-owned reporting API to call.
	Recent(ctx context.Context, limit int) ([]transaction.Decision, error)
}
