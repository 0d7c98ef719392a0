package marketcache

import (
	"context"
	"time"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/db"
)

// PgBarStore is the BarStore backing the cache in production, using the
// same TxManager every other store writes through.
type PgBarStore struct {
	tx db.TxManager
}

func NewPgBarStore(tx db.TxManager) *PgBarStore {
	return &PgBarStore{tx: tx}
}

func (s *PgBarStore) InsertBars(ctx context.Context, bars []models.Bar) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		for _, b := range bars {
			_, err := tx.Exec(ctx, `INSERT INTO bars(contract, bar_size, ts, open, high, low, close, volume, amount)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (contract, bar_size, ts) DO UPDATE SET
				open=$4, high=$5, low=$6, close=$7, volume=$8, amount=$9`,
				b.Contract.String(), b.BarSize, b.Ts, b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "insert bar")
			}
		}
		return nil
	})
}

func (s *PgBarStore) RangeBars(ctx context.Context, contract models.ContractKey, barSize string, start, end time.Time) ([]models.Bar, error) {
	var out []models.Bar
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT ts, open, high, low, close, volume, amount FROM bars
			WHERE contract=$1 AND bar_size=$2 AND ts >= $3 AND ts < $4 ORDER BY ts`,
			contract.String(), barSize, start, end)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "range bars")
		}
		defer rows.Close()
		for rows.Next() {
			b := models.Bar{Contract: contract, BarSize: barSize}
			if err := rows.Scan(&b.Ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Amount); err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "scan bar")
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PgBarStore) Coverage(ctx context.Context, contract models.ContractKey, barSize string, start, end time.Time) (time.Time, time.Time, bool) {
	var coveredStart, coveredEnd time.Time
	found := false
	_ = s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		row := tx.QueryRow(ctx, `SELECT min(ts), max(ts) FROM bars WHERE contract=$1 AND bar_size=$2 AND ts >= $3 AND ts < $4`,
			contract.String(), barSize, start, end)
		var minTs, maxTs *time.Time
		if err := row.Scan(&minTs, &maxTs); err != nil {
			return nil
		}
		if minTs != nil && maxTs != nil {
			coveredStart, coveredEnd, found = *minTs, *maxTs, true
		}
		return nil
	})
	return coveredStart, coveredEnd, found
}
