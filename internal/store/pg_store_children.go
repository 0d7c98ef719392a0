package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/db"
)

func appendEventTx(ctx context.Context, tx db.Transaction, strategyID, eventType, detail string) error {
	_, err := tx.Exec(ctx, `INSERT INTO strategy_events(strategy_id, event_type, detail) VALUES ($1, $2, $3)`,
		strategyID, eventType, detail)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "append event")
	}
	return nil
}

func (s *PgStore) AppendEvent(ctx context.Context, id string, eventType, detail string) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		return appendEventTx(ctx, tx, id, eventType, detail)
	})
}

func (s *PgStore) ListEvents(ctx context.Context, id string, limit int) ([]models.StrategyEvent, error) {
	var out []models.StrategyEvent
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT id, strategy_id, ts, event_type, detail FROM strategy_events
			WHERE strategy_id=$1 ORDER BY id DESC LIMIT $2`, id, limit)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "list events")
		}
		defer rows.Close()
		for rows.Next() {
			var e models.StrategyEvent
			if err := rows.Scan(&e.ID, &e.StrategyID, &e.Timestamp, &e.EventType, &e.Detail); err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "scan event")
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PgStore) GetRuntimeState(ctx context.Context, id string) (models.StrategyRuntimeState, error) {
	var st models.StrategyRuntimeState
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		row := tx.QueryRow(ctx, `SELECT strategy_id, since_activation_high, since_activation_low,
			anchor_price, market_snapshot_json, rolled_at FROM strategy_runtime_state WHERE strategy_id=$1`, id)
		err := row.Scan(&st.StrategyID, &st.SinceActivationHigh, &st.SinceActivationLow,
			&st.AnchorPrice, &st.MarketSnapshotJSON, &st.RolledAt)
		if err == pgx.ErrNoRows {
			return apperr.New(apperr.CodeNotFound, "runtime state not found: "+id)
		}
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "get runtime state")
		}
		return nil
	})
	return st, err
}

func (s *PgStore) PutRuntimeState(ctx context.Context, state models.StrategyRuntimeState) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `UPDATE strategy_runtime_state SET since_activation_high=$1,
			since_activation_low=$2, anchor_price=$3, market_snapshot_json=$4, rolled_at=$5
			WHERE strategy_id=$6`,
			state.SinceActivationHigh, state.SinceActivationLow, state.AnchorPrice,
			state.MarketSnapshotJSON, state.RolledAt, state.StrategyID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "put runtime state")
		}
		return nil
	})
}

func (s *PgStore) PutStrategyRun(ctx context.Context, run models.StrategyRun) error {
	raw, err := json.Marshal(run.LastMonitoringDataEndAt)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidArgument, err, "encode monitoring map")
	}
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `INSERT INTO strategy_runs(strategy_id, first_evaluated_at, evaluated_at,
			suggested_next_monitor_at, condition_met, decision_reason, last_monitoring_data_end_at, run_count,
			gateway_not_work_event_at, waiting_for_market_data_event_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (strategy_id) DO UPDATE SET evaluated_at=$3, suggested_next_monitor_at=$4,
			condition_met=$5, decision_reason=$6, last_monitoring_data_end_at=$7, run_count=$8,
			gateway_not_work_event_at=$9, waiting_for_market_data_event_at=$10`,
			run.StrategyID, run.FirstEvaluatedAt, run.EvaluatedAt, run.SuggestedNextMonitorAt,
			run.ConditionMet, run.DecisionReason, raw, run.RunCount,
			run.GatewayNotWorkEventAt, run.WaitingForMarketDataEventAt)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "put strategy run")
		}
		return nil
	})
}

func (s *PgStore) GetStrategyRun(ctx context.Context, strategyID string) (models.StrategyRun, bool, error) {
	var run models.StrategyRun
	var raw []byte
	found := false
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		row := tx.QueryRow(ctx, `SELECT strategy_id, first_evaluated_at, evaluated_at,
			suggested_next_monitor_at, condition_met, decision_reason, last_monitoring_data_end_at, run_count,
			gateway_not_work_event_at, waiting_for_market_data_event_at
			FROM strategy_runs WHERE strategy_id=$1`, strategyID)
		err := row.Scan(&run.StrategyID, &run.FirstEvaluatedAt, &run.EvaluatedAt,
			&run.SuggestedNextMonitorAt, &run.ConditionMet, &run.DecisionReason, &raw, &run.RunCount,
			&run.GatewayNotWorkEventAt, &run.WaitingForMarketDataEventAt)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "get strategy run")
		}
		found = true
		return nil
	})
	if err != nil {
		return models.StrategyRun{}, false, err
	}
	if !found {
		return models.StrategyRun{}, false, nil
	}
	if err := json.Unmarshal(raw, &run.LastMonitoringDataEndAt); err != nil {
		return models.StrategyRun{}, false, apperr.Wrap(apperr.CodeInternal, err, "decode monitoring map")
	}
	return run, true, nil
}

func (s *PgStore) InsertActivation(ctx context.Context, ev models.ActivationEvent) (bool, error) {
	inserted := false
	err := s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctx, `INSERT INTO strategy_activations
			(from_strategy_id, to_strategy_id, trigger_event_id, effective_activated_at, market_snapshot_json, context_json)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (trigger_event_id, to_strategy_id) DO NOTHING`,
			ev.FromStrategyID, ev.ToStrategyID, ev.TriggerEventID, ev.EffectiveActivatedAt,
			ev.MarketSnapshotJSON, ev.ContextJSON)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert activation")
		}
		inserted = tag.RowsAffected() > 0
		return nil
	})
	return inserted, err
}

func (s *PgStore) InsertOrder(ctx context.Context, order models.Order) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `INSERT INTO orders(trade_id, leg, strategy_id, gateway_order_id, status,
			quantity, filled_qty, avg_fill_price, payload_json)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			order.TradeID, order.Leg, order.StrategyID, order.GatewayOrderID, order.Status,
			order.Quantity, order.FilledQty, order.AvgFillPrice, order.PayloadJSON)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert order")
		}
		return nil
	})
}

func (s *PgStore) UpdateOrder(ctx context.Context, order models.Order) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `UPDATE orders SET gateway_order_id=$1, status=$2, filled_qty=$3,
			avg_fill_price=$4, updated_at=now() WHERE trade_id=$5 AND leg=$6`,
			order.GatewayOrderID, order.Status, order.FilledQty, order.AvgFillPrice, order.TradeID, order.Leg)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "update order")
		}
		return nil
	})
}

func (s *PgStore) GetOrdersByTrade(ctx context.Context, tradeID string) ([]models.Order, error) {
	var out []models.Order
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT trade_id, leg, strategy_id, gateway_order_id, status,
			quantity, filled_qty, avg_fill_price, payload_json, created_at, updated_at
			FROM orders WHERE trade_id=$1 ORDER BY leg`, tradeID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "get orders by trade")
		}
		defer rows.Close()
		for rows.Next() {
			var o models.Order
			if err := rows.Scan(&o.TradeID, &o.Leg, &o.StrategyID, &o.GatewayOrderID, &o.Status,
				&o.Quantity, &o.FilledQty, &o.AvgFillPrice, &o.PayloadJSON, &o.CreatedAt, &o.UpdatedAt); err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "scan order")
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PgStore) InsertTradeInstruction(ctx context.Context, ti models.TradeInstruction) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `INSERT INTO trade_instructions(trade_id, strategy_id, instruction_summary, status, expire_at)
			VALUES ($1,$2,$3,$4,$5)`, ti.TradeID, ti.StrategyID, ti.InstructionSummary, ti.Status, ti.ExpireAt)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert trade instruction")
		}
		return nil
	})
}

func (s *PgStore) UpdateTradeInstruction(ctx context.Context, ti models.TradeInstruction) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `UPDATE trade_instructions SET status=$1, updated_at=now() WHERE trade_id=$2`,
			ti.Status, ti.TradeID)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "update trade instruction")
		}
		return nil
	})
}

func (s *PgStore) ListActiveTradeInstructions(ctx context.Context) ([]models.TradeInstruction, error) {
	var out []models.TradeInstruction
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT trade_id, strategy_id, instruction_summary, status, expire_at, updated_at
			FROM trade_instructions WHERE status IN ('PENDING','ACTIVE')`)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "list active trade instructions")
		}
		defer rows.Close()
		for rows.Next() {
			var ti models.TradeInstruction
			if err := rows.Scan(&ti.TradeID, &ti.StrategyID, &ti.InstructionSummary, &ti.Status, &ti.ExpireAt, &ti.UpdatedAt); err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "scan trade instruction")
			}
			out = append(out, ti)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PgStore) InsertVerificationEvent(ctx context.Context, ev models.VerificationEvent) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `INSERT INTO verification_events(strategy_id, trade_id, rule_id, rule_version,
			passed, reason, snapshot_json) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			ev.StrategyID, ev.TradeID, ev.RuleID, ev.RuleVersion, ev.Passed, ev.Reason, ev.SnapshotJSON)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert verification event")
		}
		return nil
	})
}

func (s *PgStore) InsertTradeLog(ctx context.Context, entry models.TradeLogEntry) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, `INSERT INTO trade_logs(strategy_id, trade_id, stage, message)
			VALUES ($1,$2,$3,$4)`, entry.StrategyID, entry.TradeID, entry.Stage, entry.Message)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "insert trade log")
		}
		return nil
	})
}

func (s *PgStore) ListEligibleForScan(ctx context.Context, now time.Time, limit int) ([]models.StrategyDetail, error) {
	var out []models.StrategyDetail
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT s.id FROM strategies s
			LEFT JOIN strategy_runs r ON r.strategy_id = s.id
			WHERE s.status=$1 AND NOT s.is_deleted
			AND (r.suggested_next_monitor_at IS NULL OR r.suggested_next_monitor_at <= $2)
			ORDER BY s.id LIMIT $3`, models.StatusActive, now, limit)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "list eligible for scan")
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "scan eligible id")
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
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

func (s *PgStore) ListExpiring(ctx context.Context, now time.Time) ([]models.StrategyDetail, error) {
	var out []models.StrategyDetail
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT id FROM strategies WHERE expire_at IS NOT NULL AND expire_at <= $1
			AND status NOT IN ('FILLED','EXPIRED','CANCELLED','FAILED') AND NOT is_deleted`, now)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "list expiring")
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
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

func (s *PgStore) ListOrderSubmitted(ctx context.Context) ([]models.StrategyDetail, error) {
	var out []models.StrategyDetail
	err := s.tx.RunRepeatableRead(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT id FROM strategies WHERE status=$1 AND NOT is_deleted`, models.StatusOrderSubmitted)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "list order submitted")
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
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
