package store

import (
	"context"
	"time"

	"github.com/nhle/mailpost/internal/model"
)

// DispatchFilter controls filtering and pagination for ledger queries.
type DispatchFilter struct {
	RunID   *string
	Rule    *string
	Mailbox *string
	Failed  *bool // true: only failures, false: only successes, nil: all
	Limit   int
	Offset  int
}

// Ledger is the dispatch journal. It records what was sent; it is never
// consulted to decide whether to send.
type Ledger interface {
	RecordDispatch(ctx context.Context, rec model.DispatchRecord) error
	RecentDispatches(ctx context.Context, filter DispatchFilter) ([]model.DispatchRecord, error)
	CountDispatches(ctx context.Context, filter DispatchFilter) (int, error)
	PruneDispatches(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
