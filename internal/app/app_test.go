package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
	"github.com/Freeeeeet/coach_agenda/internal/conflict"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger("production", "warn")
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger = NewLogger("development", "")
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger = NewLogger("production", "nonsense")
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestSchedulerSweepKeepsLiveEntries(t *testing.T) {
	index := conflict.New(7 * 24 * time.Hour)
	window := index.Window()

	inside := calendar.Interval{Start: window.Start.Add(48 * time.Hour), End: window.Start.Add(72 * time.Hour)}
	gen := index.Generation()
	assert.True(t, index.Fill(1, gen, inside, nil, nil))

	s := NewScheduler(index, time.Hour, zap.NewNop())
	s.sweepIndex()

	_, ok := index.Lookup(1, inside)
	assert.True(t, ok)
	assert.Equal(t, 1, index.Len())
}

func TestSchedulerStop(t *testing.T) {
	index := conflict.New(24 * time.Hour)
	s := NewScheduler(index, time.Millisecond, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	s.Stop()
}
