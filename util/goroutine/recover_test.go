package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	func() {
		defer Recover("quiet", logger)
	}()
}

func TestRecover_LogsPanic(t *testing.T) {
	obs, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(obs).Sugar()

	func() {
		defer Recover("detector", logger)
		panic("boom")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "detector", fields["goroutine"])
	assert.Equal(t, "boom", fields["panic"])
	assert.Contains(t, fields, "stack")
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		func() {
			defer Recover("no-logger", nil)
			panic("still recovered")
		}()
	})
}

func TestGo_TracksAndRecovers(t *testing.T) {
	obs, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(obs).Sugar()

	var wg sync.WaitGroup
	ran := make(chan struct{}, 1)
	Go(&wg, "worker", logger, func() {
		ran <- struct{}{}
		panic("worker failed")
	})
	wg.Wait()

	assert.Len(t, ran, 1)
	assert.Equal(t, 1, logs.Len())
}
