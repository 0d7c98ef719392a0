package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibx/engine/internal/alerts"
	"github.com/ibx/engine/internal/chain"
	"github.com/ibx/engine/internal/marketcache"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/config"
	"github.com/ibx/engine/internal/orchestrator"
	"github.com/ibx/engine/internal/rules"
	"github.com/ibx/engine/internal/storetest"
	"github.com/ibx/engine/internal/submitter"
	"github.com/ibx/engine/internal/verifier"
	"github.com/ibx/engine/pkg/logger"
)

func newTestScheduler(t *testing.T, st *storetest.Fake, cfg Config) *Scheduler {
	logger.Init(zap.NewNop(), zap.NewNop())
	rs, err := rules.Load("")
	require.NoError(t, err)
	prices := marketcache.NewLastPriceTracker()
	orch := orchestrator.New(st, nil, rs, prices, time.Minute)
	v := verifier.New(st, config.VerificationConfig{AllowedOrderTypes: []string{"MKT", "LMT"}}, prices)
	ch := chain.New(st, v, nil, nil)
	sub := submitter.New(st, nil, v, ch, prices, alerts.NewStdout())
	return New(st, orch, sub, cfg)
}

func TestEnqueue_SkipsStrategyAlreadyPending(t *testing.T) {
	s := newTestScheduler(t, storetest.New(), Config{MonitorInterval: time.Minute, Threads: 1, QueueMaxSize: 10})

	s.enqueue("a")
	s.enqueue("a")

	assert.Equal(t, 1, len(s.queue))
	assert.True(t, s.pending["a"])
}

func TestEnqueue_DropOldestPolicyEvictsOnFullQueue(t *testing.T) {
	s := newTestScheduler(t, storetest.New(), Config{
		MonitorInterval: time.Minute, Threads: 1, QueueMaxSize: 1, QueuePolicy: QueuePolicyDropOldest,
	})

	s.enqueue("a")
	s.enqueue("b")

	assert.Equal(t, 1, len(s.queue))
	got := <-s.queue
	assert.Equal(t, "b", got)
}

func TestEnqueue_DefaultPolicyDropsNewOnFullQueue(t *testing.T) {
	s := newTestScheduler(t, storetest.New(), Config{MonitorInterval: time.Minute, Threads: 1, QueueMaxSize: 1})

	s.enqueue("a")
	s.enqueue("b")

	assert.Equal(t, 1, len(s.queue))
	got := <-s.queue
	assert.Equal(t, "a", got)
}

func TestProcess_NonActiveStrategyIsSkippedAndLeaseReleased(t *testing.T) {
	st := storetest.New()
	st.Put(models.StrategyDetail{Strategy: models.Strategy{ID: "s1", Status: models.StatusPaused, Version: 1}})
	s := newTestScheduler(t, st, Config{MonitorInterval: time.Minute, Threads: 1, QueueMaxSize: 10})

	s.process(context.Background(), "s1")

	detail, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, detail.Strategy.Status)

	until, err := st.ClaimLease(context.Background(), "s1", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), until, time.Second)
}

func TestProcess_ActiveStrategyWithNoConditionsDoesNotTrigger(t *testing.T) {
	st := storetest.New()
	st.Put(models.StrategyDetail{Strategy: models.Strategy{ID: "s1", Status: models.StatusActive, Version: 1}})
	s := newTestScheduler(t, st, Config{MonitorInterval: time.Minute, Threads: 1, QueueMaxSize: 10})

	s.process(context.Background(), "s1")

	detail, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, detail.Strategy.Status)
}
