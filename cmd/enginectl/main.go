package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/ibx/engine/internal/chain"
	"github.com/ibx/engine/internal/gateway/paper"
	"github.com/ibx/engine/internal/marketcache"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/modules/postgres"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/internal/verifier"
	"github.com/ibx/engine/pkg/db"
	"github.com/ibx/engine/pkg/logger"
)

func openStore(ctx context.Context) (store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return store.NewPgStore(db.NewPgTxManager(pool)), pool.Close, nil
}

func loadConfig() (*config.Config, error) {
	return config.NewConfig()
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	log.Println("schema applied")
	return nil
}

// watchAction runs a cron-scheduled status report: every minute it
// prints the count of strategies currently stuck past expiry or stuck
// in ORDER_SUBMITTED, a cheap early-warning signal an operator can tail
// without standing up the full HTTP API.
func watchAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()
	st := store.NewPgStore(db.NewPgTxManager(pool))

	report := func() {
		stuck, err := st.ListOrderSubmitted(ctx)
		if err != nil {
			logger.Error("watch: list order_submitted failed: %v", err)
			return
		}
		expiring, err := st.ListExpiring(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("watch: list expiring failed: %v", err)
			return
		}
		log.Printf("order_submitted=%d expiring=%d", len(stuck), len(expiring))
	}

	c := cron.New()
	if _, err := c.AddFunc("@every 1m", report); err != nil {
		return fmt.Errorf("schedule report: %w", err)
	}
	report()
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return nil
}

// seedAction inserts a single sample strategy so a freshly migrated
// database has something to activate and monitor without standing up
// the HTTP API first — a simple PRICE >= threshold condition over a stock buy.
func seedAction(ctx context.Context, cmd *cli.Command) error {
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	symbol := cmd.String("symbol")
	if symbol == "" {
		symbol = "AAPL"
	}
	threshold, err := decimal.NewFromString(cmd.String("threshold"))
	if err != nil {
		return fmt.Errorf("parse threshold: %w", err)
	}
	qty, err := decimal.NewFromString(cmd.String("qty"))
	if err != nil {
		return fmt.Errorf("parse qty: %w", err)
	}

	id := uuid.New().String()
	detail := models.StrategyDetail{
		Strategy: models.Strategy{
			ID:             id,
			Market:         "US",
			SecType:        "STK",
			Exchange:       "SMART",
			Currency:       "USD",
			TradeType:      models.TradeTypeBuy,
			ConditionLogic: models.ConditionLogicAnd,
			ExpireMode:     models.ExpireModeRelative,
			Status:         models.StatusPendingActivation,
		},
		Symbols: []models.StrategySymbol{
			{Position: 0, Symbol: symbol, TradeType: models.SymbolTradeBuy},
		},
		Conditions: []models.Condition{
			{
				ConditionID:      "COND-" + uuid.New().String()[:8],
				ConditionType:    models.SingleProduct,
				Metric:           "PRICE",
				TriggerMode:      "LEVEL_INSTANT",
				EvaluationWindow: "1m",
				WindowPriceBasis: "CLOSE",
				Operator:         ">=",
				Value:            threshold,
				ProductA:         symbol,
			},
		},
		Action: &models.TradeAction{
			OrderType: "MKT",
			Quantity:  qty,
		},
	}

	created, _, err := st.Create(ctx, detail)
	if err != nil {
		return fmt.Errorf("create strategy: %w", err)
	}
	log.Printf("seeded strategy %s (symbol=%s threshold=%s qty=%s)", created.Strategy.ID, symbol, threshold, qty)
	return nil
}

// activateAction runs the same manual activation path the HTTP API's
// /activate endpoint exposes, for use when only the CLI is available.
func activateAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: enginectl activate <strategy-id>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	prices := marketcache.NewLastPriceTracker()
	v := verifier.New(st, cfg.Verification, prices)
	act := chain.New(st, v, nil, paper.New(prices))
	if err := act.Activate(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	log.Printf("activated strategy %s", id)
	return nil
}

func pauseAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: enginectl pause <strategy-id>")
	}
	return simpleTransition(ctx, id, models.StatusActive, models.StatusPaused, "PAUSED", "manual pause via enginectl")
}

func cancelAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: enginectl cancel <strategy-id>")
	}
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	detail, err := st.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get %s: %w", id, err)
	}
	if !store.EligibleForCancel(detail.Strategy.Status) {
		return fmt.Errorf("strategy %s is not cancellable from %s", id, detail.Strategy.Status)
	}
	if err := st.Transition(ctx, store.TransitionRequest{
		StrategyID:      id,
		From:            detail.Strategy.Status,
		To:              models.StatusCancelled,
		ExpectedVersion: detail.Strategy.Version,
		EventType:       "CANCELLED",
		EventDetail:     "manual cancel via enginectl",
	}); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	log.Printf("cancelled strategy %s", id)
	return nil
}

func simpleTransition(ctx context.Context, id string, from, to models.StrategyStatus, eventType, detail string) error {
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	current, err := st.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get %s: %w", id, err)
	}
	if err := st.Transition(ctx, store.TransitionRequest{
		StrategyID:      id,
		From:            from,
		To:              to,
		ExpectedVersion: current.Strategy.Version,
		EventType:       eventType,
		EventDetail:     detail,
	}); err != nil {
		return fmt.Errorf("%s %s: %w", eventType, id, err)
	}
	log.Printf("%s strategy %s", eventType, id)
	return nil
}

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	logger.Init(zapLogger, zapLogger)

	cmd := &cli.Command{
		Name:  "enginectl",
		Usage: "operational control for the conditional-trading engine",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply the strategy store schema to the configured database",
				Action: migrateAction,
			},
			{
				Name:   "watch",
				Usage:  "periodically report in-flight and expiring strategy counts",
				Action: watchAction,
			},
			{
				Name:  "seed",
				Usage: "insert a sample PENDING_ACTIVATION strategy for local testing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Value: "AAPL", Usage: "traded symbol"},
					&cli.StringFlag{Name: "threshold", Value: "100", Usage: "PRICE trigger threshold"},
					&cli.StringFlag{Name: "qty", Value: "1", Usage: "order quantity"},
				},
				Action: seedAction,
			},
			{
				Name:      "activate",
				Usage:     "manually activate a PENDING_ACTIVATION strategy",
				ArgsUsage: "<strategy-id>",
				Action:    activateAction,
			},
			{
				Name:      "pause",
				Usage:     "pause an ACTIVE strategy",
				ArgsUsage: "<strategy-id>",
				Action:    pauseAction,
			},
			{
				Name:      "cancel",
				Usage:     "cancel a PENDING_ACTIVATION, ACTIVE or PAUSED strategy",
				ArgsUsage: "<strategy-id>",
				Action:    cancelAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
