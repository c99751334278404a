package mgo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famly/data/database/mgo/mongoutil"
	"famly/tools/errs"
)

func TestWaitReadyReportsLastError(t *testing.T) {
	m := NewManager(&mongoutil.Config{Database: "famly"}, nil)
	m.baseBackoff = time.Millisecond
	m.maxBackoff = 5 * time.Millisecond
	var attempts atomic.Int32
	m.connect = func(context.Context, *mongoutil.Config) (*mongoutil.Client, error) {
		attempts.Add(1)
		return nil, errs.New("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartAsync(ctx)

	wctx, wcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer wcancel()
	err := m.WaitReady(wctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Greater(t, attempts.Load(), int32(1))

	_, ok := m.DB()
	assert.False(t, ok)
	assert.Error(t, m.Ping(context.Background()))
}

func TestBackoffIsBounded(t *testing.T) {
	m := NewManager(&mongoutil.Config{}, nil)
	for attempt := 0; attempt < 10; attempt++ {
		d := m.backoff(attempt)
		assert.LessOrEqual(t, d, m.maxBackoff)
		assert.Greater(t, d, time.Duration(0))
	}
	assert.GreaterOrEqual(t, m.backoff(0), m.baseBackoff*9/10)
}

func TestStopsOnCancel(t *testing.T) {
	m := NewManager(&mongoutil.Config{}, nil)
	m.baseBackoff = time.Hour
	m.maxBackoff = time.Hour
	done := make(chan struct{})
	m.connect = func(context.Context, *mongoutil.Config) (*mongoutil.Client, error) {
		return nil, errs.New("down")
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		m.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}
