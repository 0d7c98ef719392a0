package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/db"
)

// ClaimLease implements the execution-lease pattern of spec.md §4.5: a
// conditional UPDATE that only succeeds when no worker currently holds
// the row. Conflicting callers get STRATEGY_LOCKED with lock_until.
func (s *PgStore) ClaimLease(ctx context.Context, strategyID string, ttl time.Duration) (time.Time, error) {
	var until time.Time
	err := s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		now := timeNow()
		until = now.Add(ttl)
		tag, err := tx.Exec(ctx, `UPDATE strategy_locks SET lock_until=$1
			WHERE strategy_id=$2 AND (lock_until IS NULL OR lock_until <= $3)`,
			until, strategyID, now)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "claim lease")
		}
		if tag.RowsAffected() == 0 {
			row := tx.QueryRow(ctx, `SELECT lock_until FROM strategy_locks WHERE strategy_id=$1`, strategyID)
			var current *time.Time
			if scanErr := row.Scan(&current); scanErr != nil && scanErr != pgx.ErrNoRows {
				return apperr.Wrap(apperr.CodeInternal, scanErr, "read contended lease")
			}
			if current == nil {
				return apperr.New(apperr.CodeNotFound, "strategy lease row not found: "+strategyID)
			}
			return apperr.WithLease(apperr.CodeLeaseHeld, "strategy is locked by another worker", *current)
		}
		return nil
	})
	return until, err
}

func (s *PgStore) ReleaseLease(ctx context.Context, strategyID string) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `UPDATE strategy_locks SET lock_until=NULL WHERE strategy_id=$1`, strategyID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "release lease")
		}
		return nil
	})
}

// ClearStaleLeases is C10's boot-time cleanup: every lock_until in the
// past is released, since the process holding it is gone.
func (s *PgStore) ClearStaleLeases(ctx context.Context) (int, error) {
	cleared := 0
	err := s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctx, `UPDATE strategy_locks SET lock_until=NULL WHERE lock_until IS NOT NULL AND lock_until < $1`, timeNow())
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "clear stale leases")
		}
		cleared = int(tag.RowsAffected())
		return nil
	})
	return cleared, err
}

// timeNow is split out so tests can deterministically stub lease math
// without depending on wall-clock skew between the test and the store.
var timeNow = func() time.Time { return time.Now().UTC() }
