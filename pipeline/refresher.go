package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/batterylog/cache"
	"github.com/TheCacophonyProject/batterylog/estimate"
	"github.com/TheCacophonyProject/batterylog/timerange"
	"github.com/sirupsen/logrus"
)

// ErrSuperseded is returned by Refresh when a refresh started later has
// already been applied.
var ErrSuperseded = errors.New("refresh superseded by a newer one")

type LogSource interface {
	FetchLog(ctx context.Context) ([]byte, error)
}

type EstimationSource interface {
	FetchEstimations(ctx context.Context) (*estimate.Report, error)
}

type Option func(*Refresher)

// WithEstimations attaches the optional estimation panel source.
func WithEstimations(src EstimationSource) Option {
	return func(r *Refresher) { r.estimations = src }
}

func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Refresher) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// Refresher runs refreshes against a log source. Overlapping refreshes are
// allowed, but only the most recently started one that completes is applied.
type Refresher struct {
	logs        LogSource
	estimations EstimationSource
	cache       cache.Cache
	cacheTTL    time.Duration
	now         func() time.Time
	log         logrus.FieldLogger

	mu      sync.Mutex
	started uint64
	applied uint64
	latest  *Result
}

func NewRefresher(logs LogSource, log logrus.FieldLogger, opts ...Option) *Refresher {
	r := &Refresher{
		logs:     logs,
		cache:    cache.Nop{},
		cacheTTL: 5 * time.Minute,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh computes a result for cfg and makes it the latest one, unless a
// refresh that started after it has been applied in the meantime.
func (r *Refresher) Refresh(ctx context.Context, cfg Config) (*Result, error) {
	r.mu.Lock()
	r.started++
	gen := r.started
	r.mu.Unlock()

	result, err := r.Compute(ctx, cfg)
	if err != nil {
		return nil, err
	}
	result.Generation = gen

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen <= r.applied {
		r.log.Debugf("Dropping refresh %d, refresh %d already applied", gen, r.applied)
		return nil, ErrSuperseded
	}
	r.applied = gen
	r.latest = result
	return result, nil
}

// Latest returns the last applied result, nil before the first refresh.
func (r *Refresher) Latest() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Compute fetches and processes the log without touching Latest.
func (r *Refresher) Compute(ctx context.Context, cfg Config) (*Result, error) {
	raw, err := r.logs.FetchLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch battery log: %w", err)
	}
	now := r.now()

	key := cacheKey(raw, cfg, now)
	result := r.cached(ctx, key)
	if result != nil {
		result.Config = cfg
	} else {
		result, err = Run(raw, cfg, now)
		if err != nil {
			return nil, err
		}
		r.store(ctx, key, result)
	}

	if r.estimations != nil {
		report, err := r.estimations.FetchEstimations(ctx)
		if err != nil {
			r.log.Warnf("Estimations unavailable: %v", err)
		} else {
			result.Estimations = report
		}
	}
	return result, nil
}

// cacheKey covers the log contents, the config and the resolved window, so
// relative ranges only hit while their bounds are unchanged.
func cacheKey(raw []byte, cfg Config, now time.Time) string {
	w := timerange.Resolve(cfg.Token(), now.In(cfg.location()))
	h := sha256.New()
	h.Write(raw)
	fmt.Fprintf(h, "|%s|%d|%d", cfg.Key(), w.Start.UnixNano(), w.End.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Refresher) cached(ctx context.Context, key string) *Result {
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.log.Warnf("Cache read failed: %v", err)
		}
		return nil
	}
	result := &Result{}
	if err := json.Unmarshal(data, result); err != nil {
		r.log.Warnf("Discarding unreadable cache entry: %v", err)
		return nil
	}
	result.CacheHit = true
	return result
}

func (r *Refresher) store(ctx context.Context, key string, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		r.log.Warnf("Failed to encode result for cache: %v", err)
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		r.log.Warnf("Cache write failed: %v", err)
	}
}
