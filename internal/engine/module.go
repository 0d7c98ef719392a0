// Package engine composes every component C1-C11 into one fx.App: the
// strategy store, market-data cache, gateway client, rules document,
// evaluator-backed orchestrator, verifier, chain activator, submitter,
// scheduler, expiry sweeper, and boot-time recovery.
package engine

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/ibx/engine/internal/alerts"
	"github.com/ibx/engine/internal/chain"
	"github.com/ibx/engine/internal/expiry"
	"github.com/ibx/engine/internal/gateway"
	"github.com/ibx/engine/internal/gateway/ibsocket"
	"github.com/ibx/engine/internal/gateway/paper"
	"github.com/ibx/engine/internal/market"
	"github.com/ibx/engine/internal/marketcache"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/modules/health/service"
	"github.com/ibx/engine/internal/orchestrator"
	"github.com/ibx/engine/internal/recovery"
	"github.com/ibx/engine/internal/rules"
	"github.com/ibx/engine/internal/scheduler"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/internal/submitter"
	"github.com/ibx/engine/internal/verifier"
	"github.com/ibx/engine/pkg/db"
	"github.com/ibx/engine/pkg/logger"
)

func NewStore(tx *db.PgTxManager) store.Store {
	return store.NewPgStore(tx)
}

func NewPriceTracker() *marketcache.LastPriceTracker {
	return marketcache.NewLastPriceTracker()
}

// NewGatewayClient selects paper or ibsocket per ib_gateway.trading_mode.
// live_enabled must also be set, guarding against an accidental live
// connection from a config file meant for paper trading.
func NewGatewayClient(cfg *config.Config, prices *marketcache.LastPriceTracker) gateway.Client {
	if cfg.Gateway.TradingMode == "live" && cfg.Gateway.LiveEnabled {
		return ibsocket.New(cfg.Gateway.Host, cfg.Gateway.LivePort, cfg.Gateway.TimeoutSec)
	}
	return paper.New(prices)
}

func NewBarStore(tx *db.PgTxManager) marketcache.BarStore {
	return marketcache.NewPgBarStore(tx)
}

func NewMarketCache(gw gateway.Client, bars marketcache.BarStore) *marketcache.Cache {
	return marketcache.New(gw, bars)
}

func NewRules(cfg *config.Config) (*rules.Rules, error) {
	return rules.Load(cfg.ConditionRulesFile)
}

// NewMarketStreamer builds the live bar-streaming ingest described by
// market_stream.*. The returned Streamer is inert until Run is called;
// runEngine only starts it once market_stream.enabled is set, so an
// engine with no streaming endpoint configured behaves exactly as
// before.
func NewMarketStreamer(bars marketcache.BarStore, cfg *config.Config) *marketcache.Streamer {
	return marketcache.NewStreamer(bars, marketcache.StreamConfig{
		URL:            cfg.MarketStream.URL,
		BarSize:        cfg.MarketStream.BarSize,
		PingInterval:   cfg.MarketStream.PingIntervalSeconds,
		ReconnectDelay: cfg.MarketStream.ReconnectDelaySeconds,
	})
}

// streamInstruments builds the instrument-id -> contract map a
// Streamer subscribes to: one entry per symbol of every non-terminal
// strategy currently on the books, so the live feed tracks exactly what
// the engine is monitoring rather than a fixed watchlist.
func streamInstruments(ctx context.Context, st store.Store) map[string]models.ContractKey {
	out := map[string]models.ContractKey{}
	details, err := st.List(ctx, store.ListFilter{})
	if err != nil {
		logger.Warn("market stream: list strategies failed: %v", err)
		return out
	}
	for _, detail := range details {
		if detail.Strategy.Status.Terminal() {
			continue
		}
		for _, sym := range detail.Symbols {
			contract := market.ContractKeyFor(detail.Strategy, sym.Symbol)
			out[contract.String()] = contract
		}
	}
	return out
}

func NewOrchestrator(st store.Store, cache *marketcache.Cache, rs *rules.Rules, prices *marketcache.LastPriceTracker, cfg *config.Config) *orchestrator.Orchestrator {
	interval := time.Duration(cfg.Worker.MonitorIntervalSeconds) * time.Second
	gatewayNotWork := time.Duration(cfg.Worker.GatewayNotWorkEventThrottleSeconds) * time.Second
	waitingForMarketData := time.Duration(cfg.Worker.WaitingForMarketDataEventThrottleSeconds) * time.Second
	return orchestrator.New(st, cache, rs, prices, interval).WithEventThrottles(gatewayNotWork, waitingForMarketData)
}

func NewVerifier(st store.Store, cfg *config.Config, prices *marketcache.LastPriceTracker) *verifier.Verifier {
	return verifier.New(st, cfg.Verification, prices)
}

func NewChainActivator(st store.Store, v *verifier.Verifier, cache *marketcache.Cache, gw gateway.Client) *chain.Activator {
	return chain.New(st, v, cache, gw)
}

// NewAlertsNotifier selects Telegram when a bot token is configured,
// falling back to logging alerts to stdout otherwise so the engine
// still runs (and every alert still reaches the process log) with no
// alerting channel set up.
func NewAlertsNotifier(cfg *config.Config) alerts.Notifier {
	if cfg.Alerts.TelegramBotToken == "" {
		return alerts.NewStdout()
	}
	tg, err := alerts.NewTelegram(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID)
	if err != nil {
		logger.Warn("telegram alerts init failed, falling back to stdout: %v", err)
		return alerts.NewStdout()
	}
	return tg
}

func NewSubmitter(st store.Store, gw gateway.Client, v *verifier.Verifier, ch *chain.Activator, prices *marketcache.LastPriceTracker, notifier alerts.Notifier) *submitter.Submitter {
	return submitter.New(st, gw, v, ch, prices, notifier)
}

func NewScheduler(st store.Store, orch *orchestrator.Orchestrator, sub *submitter.Submitter, cfg *config.Config) *scheduler.Scheduler {
	return scheduler.New(st, orch, sub, scheduler.Config{
		MonitorInterval: time.Duration(cfg.Worker.MonitorIntervalSeconds) * time.Second,
		Threads:         cfg.Worker.ConfiguredThreads,
		QueueMaxSize:    cfg.Worker.QueueMaxSize,
		QueuePolicy:     scheduler.QueuePolicyDropOldest,
	})
}

func NewExpirySweeper(st store.Store, gw gateway.Client) *expiry.Sweeper {
	return expiry.New(st, gw)
}

func NewRecoverer(st store.Store, gw gateway.Client, sub *submitter.Submitter) *recovery.Recoverer {
	return recovery.New(st, gw, sub)
}

// runEngine wires the boot-time recovery sweep and every long-running
// loop into the fx lifecycle.
func runEngine(lc fx.Lifecycle, rec *recovery.Recoverer, sched *scheduler.Scheduler, sub *submitter.Submitter, sweeper *expiry.Sweeper, stream *marketcache.Streamer, st store.Store, cfg *config.Config, state *service.State) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rec.Run(ctx); err != nil {
				return err
			}
			if !cfg.Worker.Enabled {
				logger.Warn("worker disabled, engine idle")
				state.SetReady(true)
				return nil
			}

			var loopCtx context.Context
			loopCtx, cancel = context.WithCancel(context.Background())

			sched.Start(loopCtx)
			go func() {
				if err := sub.RunFillListener(loopCtx); err != nil {
					logger.Error("fill listener stopped: %v", err)
				}
			}()
			go sweeper.Run(loopCtx, time.Minute)
			if cfg.MarketStream.Enabled {
				instruments := streamInstruments(ctx, st)
				go stream.Run(loopCtx, instruments)
			}

			state.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewStore,
			NewPriceTracker,
			NewGatewayClient,
			NewBarStore,
			NewMarketCache,
			NewRules,
			NewOrchestrator,
			NewVerifier,
			NewChainActivator,
			NewAlertsNotifier,
			NewSubmitter,
			NewScheduler,
			NewExpirySweeper,
			NewRecoverer,
			NewMarketStreamer,
		),
		fx.Invoke(runEngine),
	)
}
