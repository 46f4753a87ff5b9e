package opctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/dberr"
)

func TestCheckForInterruptNilWhenHealthy(t *testing.T) {
	oc := New(context.Background(), YieldAuto, config.DefaultOptions())
	assert.NoError(t, oc.CheckForInterrupt())
}

func TestCheckForInterruptCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	oc := New(ctx, YieldAuto, config.DefaultOptions())
	err := oc.CheckForInterrupt()
	require.Error(t, err)
	de, ok := dberr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, dberr.KindInterrupted, de.Kind)
}

func TestCheckForInterruptDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)
	oc := New(ctx, YieldAuto, config.DefaultOptions())
	err := oc.CheckForInterrupt()
	require.Error(t, err)
	de, ok := dberr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, dberr.KindExceededTimeLimit, de.Kind)
}

func TestKillReportsQueryPlanKilled(t *testing.T) {
	oc := New(context.Background(), YieldAuto, config.DefaultOptions())
	oc.Kill()
	err := oc.CheckForInterrupt()
	require.Error(t, err)
	de, ok := dberr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, dberr.KindQueryPlanKilled, de.Kind)
}

func TestShouldYieldForWorkRespectsPolicy(t *testing.T) {
	cfg := config.New(config.WithSortMemoryBudget(0))
	cfg.YieldWorkBudget = 10

	auto := New(context.Background(), YieldAuto, cfg)
	auto.NoteWork(10)
	assert.True(t, auto.ShouldYieldForWork())

	noYield := New(context.Background(), NoYield, cfg)
	noYield.NoteWork(10)
	assert.False(t, noYield.ShouldYieldForWork())
}
