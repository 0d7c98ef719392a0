package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/store"
)

func TestAdmissible(t *testing.T) {
	cases := []struct {
		from, to models.StrategyStatus
		want     bool
	}{
		{models.StatusPendingActivation, models.StatusVerifying, true},
		{models.StatusPendingActivation, models.StatusActive, false},
		{models.StatusVerifying, models.StatusActive, true},
		{models.StatusVerifyFailed, models.StatusPendingActivation, true},
		{models.StatusActive, models.StatusTriggered, true},
		{models.StatusTriggered, models.StatusOrderSubmitted, true},
		{models.StatusOrderSubmitted, models.StatusFilled, true},
		{models.StatusOrderSubmitted, models.StatusCancelled, true},
		{models.StatusFilled, models.StatusActive, false},
		{models.StatusExpired, models.StatusActive, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, store.Admissible(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestEligibleForActivate(t *testing.T) {
	next := "next-id"
	base := models.StrategyDetail{
		Strategy:   models.Strategy{UpstreamOnlyActivation: false, NextStrategyID: &next},
		Conditions: []models.Condition{{ConditionID: "c1"}},
	}
	assert.True(t, store.EligibleForActivate(base))

	upstreamOnly := base
	upstreamOnly.Strategy.UpstreamOnlyActivation = true
	assert.False(t, store.EligibleForActivate(upstreamOnly))

	noConditions := base
	noConditions.Conditions = nil
	assert.False(t, store.EligibleForActivate(noConditions))

	noTarget := base
	noTarget.Strategy.NextStrategyID = nil
	assert.False(t, store.EligibleForActivate(noTarget))
}

func TestEligibleForCancel(t *testing.T) {
	assert.True(t, store.EligibleForCancel(models.StatusActive))
	assert.True(t, store.EligibleForCancel(models.StatusPendingActivation))
	assert.False(t, store.EligibleForCancel(models.StatusOrderSubmitted))
	assert.False(t, store.EligibleForCancel(models.StatusFilled))
}

func TestEligibleForExpiry(t *testing.T) {
	assert.True(t, store.EligibleForExpiry(models.StatusActive))
	assert.True(t, store.EligibleForExpiry(models.StatusPaused))
	assert.True(t, store.EligibleForExpiry(models.StatusTriggered))
	assert.False(t, store.EligibleForExpiry(models.StatusOrderSubmitted))
	assert.False(t, store.EligibleForExpiry(models.StatusFilled))
}
