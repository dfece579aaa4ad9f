package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/batterylog/cache"
	"github.com/TheCacophonyProject/batterylog/estimate"
	"github.com/TheCacophonyProject/batterylog/logging"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	raw   []byte
	err   error
	calls int
}

func (s *staticSource) FetchLog(context.Context) ([]byte, error) {
	s.calls++
	return s.raw, s.err
}

// gatedSource blocks each fetch until the test releases it.
type gatedSource struct {
	raw   []byte
	gates chan chan struct{}
}

func (g *gatedSource) FetchLog(context.Context) ([]byte, error) {
	gate := make(chan struct{})
	g.gates <- gate
	<-gate
	return g.raw, nil
}

type estimationSource struct {
	report *estimate.Report
	err    error
}

func (e estimationSource) FetchEstimations(context.Context) (*estimate.Report, error) {
	return e.report, e.err
}

type outcome struct {
	result *Result
	err    error
}

func TestRefreshLastStartedWins(t *testing.T) {
	src := &gatedSource{raw: makeLog(30), gates: make(chan chan struct{})}
	r := NewRefresher(src, logging.Discard(), WithClock(func() time.Time { return t0 }))
	ctx := context.Background()

	older := make(chan outcome)
	go func() {
		res, err := r.Refresh(ctx, testConfig())
		older <- outcome{res, err}
	}()
	olderGate := <-src.gates

	newer := make(chan outcome)
	go func() {
		res, err := r.Refresh(ctx, testConfig().WithTargetPoints(10))
		newer <- outcome{res, err}
	}()
	newerGate := <-src.gates

	close(newerGate)
	n := <-newer
	require.NoError(t, n.err)
	assert.Equal(t, uint64(2), n.result.Generation)

	close(olderGate)
	o := <-older
	assert.True(t, errors.Is(o.err, ErrSuperseded))
	assert.Nil(t, o.result)

	latest := r.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, n.result.ID, latest.ID)
	assert.Len(t, latest.Resampled, 10)
}

func TestRefreshInOrder(t *testing.T) {
	src := &staticSource{raw: makeLog(30)}
	r := NewRefresher(src, logging.Discard(), WithClock(func() time.Time { return t0 }))
	assert.Nil(t, r.Latest())

	first, err := r.Refresh(context.Background(), testConfig())
	require.NoError(t, err)
	second, err := r.Refresh(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Generation)
	assert.Equal(t, uint64(2), second.Generation)
	assert.Equal(t, second, r.Latest())
}

func TestRefreshErrors(t *testing.T) {
	src := &staticSource{err: errors.New("connection refused")}
	r := NewRefresher(src, logging.Discard())
	_, err := r.Refresh(context.Background(), testConfig())
	assert.ErrorContains(t, err, "connection refused")
	assert.Nil(t, r.Latest())
}

func TestEstimations(t *testing.T) {
	src := &staticSource{raw: makeLog(30)}
	report := estimate.Build(nil)

	r := NewRefresher(src, logging.Discard(), WithEstimations(estimationSource{report: &report}))
	result, err := r.Compute(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, &report, result.Estimations)

	r = NewRefresher(src, logging.Discard(), WithEstimations(estimationSource{err: errors.New("503")}))
	result, err = r.Compute(context.Background(), testConfig())
	require.NoError(t, err, "estimations are optional")
	assert.Nil(t, result.Estimations)
}

func TestComputeCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := &staticSource{raw: makeLog(90)}
	r := NewRefresher(src, logging.Discard(),
		WithCache(cache.NewRedis(client, "test:"), time.Minute),
		WithClock(func() time.Time { return t0 }))

	cfg := testConfig().WithDay("2024-03-01")
	first, err := r.Compute(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Len(t, mr.Keys(), 1)

	second, err := r.Compute(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, len(first.Resampled), len(second.Resampled))
	assert.Equal(t, first.Anomalies[0].Index, second.Anomalies[0].Index)
	assert.Equal(t, time.UTC, second.Config.Location)

	third, err := r.Compute(context.Background(), cfg.WithTargetPoints(20))
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
}
