package chainvalidator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibx/engine/internal/chainvalidator"
	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/storetest"
	"github.com/ibx/engine/pkg/apperr"
)

func strategy(id string, next *string) models.StrategyDetail {
	return models.StrategyDetail{Strategy: models.Strategy{ID: id, NextStrategyID: next}}
}

func TestValidateNoCycle_NilNextIsAlwaysValid(t *testing.T) {
	st := storetest.New()
	err := chainvalidator.ValidateNoCycle(context.Background(), st, "a", nil)
	assert.NoError(t, err)
}

func TestValidateNoCycle_SelfReferenceRejected(t *testing.T) {
	st := storetest.New()
	self := "a"
	err := chainvalidator.ValidateNoCycle(context.Background(), st, "a", &self)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeCycleDetected))
}

func TestValidateNoCycle_AcyclicChainPasses(t *testing.T) {
	st := storetest.New()
	st.Put(strategy("b", nil))
	next := "b"
	err := chainvalidator.ValidateNoCycle(context.Background(), st, "a", &next)
	assert.NoError(t, err)
}

func TestValidateNoCycle_IndirectCycleRejected(t *testing.T) {
	st := storetest.New()
	backToA := "a"
	st.Put(strategy("b", &backToA))
	next := "b"
	err := chainvalidator.ValidateNoCycle(context.Background(), st, "a", &next)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeCycleDetected))
}

func TestValidateNoCycle_DanglingNextIsValid(t *testing.T) {
	st := storetest.New()
	next := "does-not-exist"
	err := chainvalidator.ValidateNoCycle(context.Background(), st, "a", &next)
	assert.NoError(t, err)
}
