package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/db"
	"github.com/ibx/engine/pkg/logger"
)

// PgStore is the Postgres-backed Store, grounded on the teacher's
// pkg/db.TxManager transactional boundary.
type PgStore struct {
	tx db.TxManager
	sq sq.StatementBuilderType
}

func NewPgStore(tx db.TxManager) *PgStore {
	return &PgStore{
		tx: tx,
		sq: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PgStore) Create(ctx context.Context, detail models.StrategyDetail) (models.StrategyDetail, bool, error) {
	var result models.StrategyDetail
	var existed bool

	err := s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		if detail.Strategy.IdempotencyKey != nil {
			existing, err := s.getByIdempotencyKey(ctx, tx, *detail.Strategy.IdempotencyKey)
			if err == nil {
				result = existing
				existed = true
				return nil
			}
			if !apperr.Is(err, apperr.CodeNotFound) {
				return err
			}
		}

		symbolsJSON, err := encodeSymbols(detail.Strategy.ID, detail.Symbols)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalidArgument, err, "encode symbols")
		}
		conditionsJSON, err := encodeConditions(detail.Conditions)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalidArgument, err, "encode conditions")
		}
		actionJSON, err := encodeAction(detail.Strategy.ID, detail.Action)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalidArgument, err, "encode action")
		}

		q := s.sq.Insert("strategies").Columns(
			"id", "idempotency_key", "market", "sec_type", "exchange", "currency",
			"trade_type", "condition_logic", "upstream_only_activation",
			"upstream_strategy_id", "next_strategy_id",
			"symbols_json", "conditions_json", "trade_action_json",
			"expire_mode", "expire_in_seconds", "expire_at",
			"status", "version", "is_deleted",
		).Values(
			detail.Strategy.ID, detail.Strategy.IdempotencyKey, detail.Strategy.Market,
			detail.Strategy.SecType, detail.Strategy.Exchange, "USD",
			detail.Strategy.TradeType, detail.Strategy.ConditionLogic, detail.Strategy.UpstreamOnlyActivation,
			detail.Strategy.UpstreamStrategyID, detail.Strategy.NextStrategyID,
			symbolsJSON, conditionsJSON, actionJSON,
			detail.Strategy.ExpireMode, detail.Strategy.ExpireInSeconds, detail.Strategy.ExpireAt,
			models.StatusPendingActivation, 1, false,
		)
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "build insert")
		}
		if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert strategy")
		}
		if _, err := tx.Exec(ctx, `INSERT INTO strategy_locks(strategy_id, lock_until) VALUES ($1, NULL)`, detail.Strategy.ID); err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert lock row")
		}
		if _, err := tx.Exec(ctx, `INSERT INTO strategy_runtime_state(strategy_id) VALUES ($1)`, detail.Strategy.ID); err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert runtime state")
		}
		if err := appendEventTx(ctx, tx, detail.Strategy.ID, "CREATED", "strategy created"); err != nil {
			return err
		}

		got, err := s.getTx(ctx, tx, detail.Strategy.ID)
		if err != nil {
			return err
		}
		result = got
		return nil
	})
	if err != nil {
		return models.StrategyDetail{}, false, err
	}
	return result, existed, nil
}

func (s *PgStore) getByIdempotencyKey(ctx context.Context, tx db.Transaction, key string) (models.StrategyDetail, error) {
	var id string
	row := tx.QueryRow(ctx, `SELECT id FROM strategies WHERE idempotency_key = $1 AND NOT is_deleted`, key)
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return models.StrategyDetail{}, apperr.New(apperr.CodeNotFound, "idempotency key not found")
		}
		return models.StrategyDetail{}, apperr.Wrap(apperr.CodeInternal, err, "lookup idempotency key")
	}
	return s.getTx(ctx, tx, id)
}

func (s *PgStore) Get(ctx context.Context, id string) (models.StrategyDetail, error) {
	var result models.StrategyDetail
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		got, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		result = got
		return nil
	})
	return result, err
}

func (s *PgStore) getTx(ctx context.Context, tx db.Transaction, id string) (models.StrategyDetail, error) {
	row := tx.QueryRow(ctx, strategySelectCols+` WHERE id = $1 AND NOT is_deleted`, id)
	strat, symbolsRaw, conditionsRaw, actionRaw, err := scanStrategy(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.StrategyDetail{}, apperr.New(apperr.CodeNotFound, "strategy not found: "+id)
		}
		return models.StrategyDetail{}, apperr.Wrap(apperr.CodeInternal, err, "scan strategy")
	}

	symbols, err := decodeSymbols(id, symbolsRaw)
	if err != nil {
		return models.StrategyDetail{}, apperr.Wrap(apperr.CodeInternal, err, "decode symbols")
	}
	conditions, err := decodeConditions(id, conditionsRaw)
	if err != nil {
		return models.StrategyDetail{}, apperr.Wrap(apperr.CodeInternal, err, "decode conditions")
	}
	action, err := decodeAction(id, actionRaw)
	if err != nil {
		return models.StrategyDetail{}, apperr.Wrap(apperr.CodeInternal, err, "decode action")
	}

	return models.StrategyDetail{Strategy: strat, Symbols: symbols, Conditions: conditions, Action: action}, nil
}

const strategySelectCols = `SELECT id, idempotency_key, market, sec_type, exchange, currency, trade_type,
	condition_logic, upstream_only_activation, upstream_strategy_id, next_strategy_id,
	symbols_json, conditions_json, trade_action_json,
	expire_mode, expire_in_seconds, expire_at, activated_at, logical_activated_at,
	status, version, is_deleted, created_at, updated_at
	FROM strategies`

func scanStrategy(row pgx.Row) (models.Strategy, []byte, []byte, []byte, error) {
	var strat models.Strategy
	var symbolsRaw, conditionsRaw, actionRaw []byte
	err := row.Scan(
		&strat.ID, &strat.IdempotencyKey, &strat.Market, &strat.SecType, &strat.Exchange, &strat.Currency,
		&strat.TradeType, &strat.ConditionLogic, &strat.UpstreamOnlyActivation,
		&strat.UpstreamStrategyID, &strat.NextStrategyID,
		&symbolsRaw, &conditionsRaw, &actionRaw,
		&strat.ExpireMode, &strat.ExpireInSeconds, &strat.ExpireAt, &strat.ActivatedAt, &strat.LogicalActivatedAt,
		&strat.Status, &strat.Version, &strat.IsDeleted, &strat.CreatedAt, &strat.UpdatedAt,
	)
	return strat, symbolsRaw, conditionsRaw, actionRaw, err
}

func (s *PgStore) List(ctx context.Context, filter ListFilter) ([]models.StrategyDetail, error) {
	q := s.sq.Select("id").From("strategies").Where(sq.Eq{"is_deleted": false})
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if filter.SecType != "" {
		q = q.Where(sq.Eq{"sec_type": filter.SecType})
	}
	if filter.Symbol != "" {
		q = q.Where("symbols_json::text LIKE ?", "%"+filter.Symbol+"%")
	}
	q = q.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	var out []models.StrategyDetail
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "build list query")
		}
		rows, err := tx.Query(ctx, sqlStr, args...)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "list strategies")
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "scan list row")
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "iterate list rows")
		}

		for _, id := range ids {
			detail, err := s.getTx(ctx, tx, id)
			if err != nil {
				return err
			}
			out = append(out, detail)
		}
		return nil
	})
	return out, err
}

// PatchBasic applies mutate to the in-memory Strategy and persists it,
// allowed only when status is PENDING_ACTIVATION or PAUSED; a successful
// edit resets status to PENDING_ACTIVATION and bumps version.
func (s *PgStore) PatchBasic(ctx context.Context, id string, expectedVersion int, mutate func(*models.Strategy)) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		detail, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := guardEditable(detail.Strategy, expectedVersion); err != nil {
			return err
		}
		mutate(&detail.Strategy)

		tag, err := tx.Exec(ctx, `UPDATE strategies SET market=$1, sec_type=$2, exchange=$3, trade_type=$4,
			condition_logic=$5, upstream_only_activation=$6, next_strategy_id=$7,
			expire_mode=$8, expire_in_seconds=$9, expire_at=$10,
			status=$11, version=version+1, updated_at=now()
			WHERE id=$12 AND version=$13`,
			detail.Strategy.Market, detail.Strategy.SecType, detail.Strategy.Exchange, detail.Strategy.TradeType,
			detail.Strategy.ConditionLogic, detail.Strategy.UpstreamOnlyActivation, detail.Strategy.NextStrategyID,
			detail.Strategy.ExpireMode, detail.Strategy.ExpireInSeconds, detail.Strategy.ExpireAt,
			models.StatusPendingActivation, id, expectedVersion)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "update strategy basic fields")
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.CodeVersionMismatch, "strategy version changed concurrently")
		}
		return appendEventTx(ctx, tx, id, "EDITED_BASIC", "basic fields edited")
	})
}

func (s *PgStore) PutConditions(ctx context.Context, id string, expectedVersion int, conditions []models.Condition) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		detail, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := guardEditable(detail.Strategy, expectedVersion); err != nil {
			return err
		}
		raw, err := encodeConditions(conditions)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalidArgument, err, "encode conditions")
		}
		tag, err := tx.Exec(ctx, `UPDATE strategies SET conditions_json=$1, status=$2, version=version+1, updated_at=now()
			WHERE id=$3 AND version=$4`, raw, models.StatusPendingActivation, id, expectedVersion)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "update conditions")
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.CodeVersionMismatch, "strategy version changed concurrently")
		}
		return appendEventTx(ctx, tx, id, "EDITED_CONDITIONS", "conditions replaced")
	})
}

func (s *PgStore) PutActions(ctx context.Context, id string, expectedVersion int, action *models.TradeAction) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		detail, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := guardEditable(detail.Strategy, expectedVersion); err != nil {
			return err
		}
		raw, err := encodeAction(id, action)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalidArgument, err, "encode action")
		}
		tag, err := tx.Exec(ctx, `UPDATE strategies SET trade_action_json=$1, status=$2, version=version+1, updated_at=now()
			WHERE id=$3 AND version=$4`, raw, models.StatusPendingActivation, id, expectedVersion)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "update action")
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.CodeVersionMismatch, "strategy version changed concurrently")
		}
		return appendEventTx(ctx, tx, id, "EDITED_ACTIONS", "trade action replaced")
	})
}

func guardEditable(strat models.Strategy, expectedVersion int) error {
	if strat.Version != expectedVersion {
		return apperr.New(apperr.CodeVersionMismatch, "strategy version changed concurrently")
	}
	if strat.Status != models.StatusPendingActivation && strat.Status != models.StatusPaused {
		return apperr.New(apperr.CodeInvalidTransition, "strategy not editable in status "+string(strat.Status))
	}
	return nil
}

// Transition is the single path that mutates status, grounded on the
// conditional-UPDATE-with-WHERE-status-guard pattern in
// original_source/app/chain.py's activate_downstream_strategy.
func (s *PgStore) Transition(ctx context.Context, req TransitionRequest) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		if !Admissible(req.From, req.To) {
			return apperr.New(apperr.CodeInvalidTransition,
				string(req.From)+" -> "+string(req.To)+" is not admissible")
		}

		// Mutations carries the transition's optional extra columns
		// (activated_at, expire_at, ...) — exactly squirrel's use case,
		// since the SET clause's shape varies per call site.
		q := s.sq.Update("strategies").
			Set("status", req.To).
			Set("version", sq.Expr("version+1")).
			Set("updated_at", sq.Expr("now()")).
			Where(sq.Eq{"id": req.StrategyID, "status": req.From})
		for col, val := range req.Mutations {
			q = q.Set(col, val)
		}
		if req.ExpectedVersion > 0 {
			q = q.Where(sq.Eq{"version": req.ExpectedVersion})
		}

		sqlStr, args, err := q.ToSql()
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "build transition update")
		}
		tag, err := tx.Exec(ctx, sqlStr, args...)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "transition update")
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.CodeInvalidTransition, "transition rejected: strategy not in expected state")
		}
		if req.EventType != "" {
			if err := appendEventTx(ctx, tx, req.StrategyID, req.EventType, req.EventDetail); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PgStore) SoftDelete(ctx context.Context, id string, expectedVersion int) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctx, `UPDATE strategies SET is_deleted=true, next_strategy_id=NULL, version=version+1, updated_at=now()
			WHERE id=$1 AND version=$2`, id, expectedVersion)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "soft delete")
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.CodeVersionMismatch, "strategy version changed concurrently")
		}
		if _, err := tx.Exec(ctx, `UPDATE strategies SET upstream_strategy_id=NULL WHERE upstream_strategy_id=$1`, id); err != nil {
			logger.Error("failed to null upstream references for deleted strategy %s: %v", id, err)
		}
		return appendEventTx(ctx, tx, id, "DELETED", "soft deleted")
	})
}

