package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/metrics"
)

// EngineConfig holds the engine-level knobs that sit above one dispatch.
type EngineConfig struct {
	CacheTTL     time.Duration
	PublishTopic string
}

// Engine is the public entry point: cache check, dispatch, aggregation,
// cache store, completion event. It is safe for concurrent use; the cache
// store is the only shared mutable resource and its operations are atomic.
type Engine struct {
	cfg        EngineConfig
	policy     RequestPolicy
	store      CacheStore
	dispatcher *Dispatcher
	publisher  Publisher
	hasher     Hasher
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewEngine wires the engine from its collaborators.
func NewEngine(
	cfg EngineConfig,
	policy RequestPolicy,
	store CacheStore,
	dispatcher *Dispatcher,
	publisher Publisher,
	hasher Hasher,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		policy:     policy,
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		logger:     logger,
		tracer:     otel.Tracer("search-engine"),
	}
}

// Search answers one keyword set. A cache hit short-circuits the dispatcher
// entirely; nothing below the cache is touched. The returned error covers
// only request admission and infrastructure failures before dispatch; every
// per-keyword failure is reported inside the Result instead.
func (e *Engine) Search(ctx context.Context, req Request) (Result, error) {
	start := e.clock.Now()

	req, err := e.policy.Normalize(req)
	if err != nil {
		return Result{}, fmt.Errorf("admit request: %w", err)
	}
	key, err := CanonicalKey(e.hasher, req.Keywords)
	if err != nil {
		return Result{}, fmt.Errorf("derive cache key: %w", err)
	}

	if entry, ok, gerr := e.store.Get(ctx, key); gerr != nil {
		// A broken cache backend must not take search down with it.
		e.logger.Warn("cache read failed", zap.String("key", key), zap.Error(gerr))
	} else if ok {
		e.logger.Info("cache hit", zap.String("key", key), zap.Int("unique_results", entry.Result.UniqueResults))
		metrics.ObserveCache("get", "hit")
		result := entry.Result
		result.ProcessingTime = e.clock.Now().Sub(start).Seconds()
		metrics.ObserveSearch("cached", e.clock.Now().Sub(start))
		return result, nil
	} else {
		metrics.ObserveCache("get", "miss")
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("search canceled: %w", err)
	}

	dispatchID, err := e.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("new dispatch id: %w", err)
	}

	ctx, span := e.tracer.Start(ctx, "search.dispatch", trace.WithAttributes(
		attribute.String("dispatch_id", dispatchID),
		attribute.Int("keyword_count", len(req.Keywords)),
	))
	defer span.End()

	logger := e.logger.With(zap.String("dispatch_id", dispatchID))
	logger.Info("dispatching keyword set",
		zap.Strings("keywords", req.Keywords),
		zap.Int("max_results", req.MaxResults),
	)

	reports, elapsed := e.dispatcher.Dispatch(ctx, dispatchID, req.Keywords)
	result := Aggregate(req, reports, elapsed)
	span.SetAttributes(
		attribute.Int("unique_results", result.UniqueResults),
		attribute.Bool("success", result.Success),
	)
	metrics.ObserveSearch(searchStatus(result), elapsed)

	e.storeResult(ctx, key, result)
	e.publishCompletion(ctx, dispatchID, key, result)

	logger.Info("dispatch finished",
		zap.Int("unique_results", result.UniqueResults),
		zap.Float64("processing_time", result.ProcessingTime),
		zap.Bool("success", result.Success),
	)
	return result, nil
}

// storeResult writes the aggregate back to the cache. A full cache is a
// tolerated condition, logged and counted but never surfaced to the caller.
func (e *Engine) storeResult(ctx context.Context, key string, result Result) {
	entry := CacheEntry{
		Key:       key,
		Result:    result,
		CreatedAt: e.clock.Now(),
		TTL:       e.cfg.CacheTTL,
	}
	err := e.store.Put(context.WithoutCancel(ctx), entry)
	switch {
	case err == nil:
		metrics.ObserveCache("put", "stored")
	case errors.Is(err, ErrCacheCapacity):
		e.logger.Debug("cache write rejected at capacity", zap.String("key", key))
		metrics.ObserveCache("put", "rejected")
	default:
		e.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveCache("put", "error")
	}
}

// publishCompletion emits a dispatch summary for downstream consumers.
// Publishing is best effort.
func (e *Engine) publishCompletion(ctx context.Context, dispatchID, key string, result Result) {
	if e.publisher == nil || e.cfg.PublishTopic == "" {
		return
	}
	payload := CompletionEvent{
		DispatchID:     dispatchID,
		CacheKey:       key,
		TotalKeywords:  result.TotalKeywords,
		UniqueResults:  result.UniqueResults,
		Success:        result.Success,
		ProcessingTime: result.ProcessingTime,
	}
	if _, err := e.publisher.Publish(context.WithoutCancel(ctx), e.cfg.PublishTopic, payload); err != nil {
		e.logger.Warn("publish completion failed", zap.String("dispatch_id", dispatchID), zap.Error(err))
	}
}

// CompletionEvent is the payload published after each non-cached search.
type CompletionEvent struct {
	DispatchID     string  `json:"dispatch_id"`
	CacheKey       string  `json:"cache_key"`
	TotalKeywords  int     `json:"total_keywords"`
	UniqueResults  int     `json:"unique_results"`
	Success        bool    `json:"success"`
	ProcessingTime float64 `json:"processing_time"`
}

// CanonicalKey derives the cache key for a keyword set: sort a deduplicated
// copy, join, hash. Equal sets always map to the same key regardless of
// input order.
func CanonicalKey(hasher Hasher, keywords []string) (string, error) {
	uniq := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		uniq = append(uniq, kw)
	}
	sort.Strings(uniq)
	digest, err := hasher.Hash([]byte(strings.Join(uniq, "_")))
	if err != nil {
		return "", fmt.Errorf("hash keyword set: %w", err)
	}
	return digest, nil
}

func searchStatus(result Result) string {
	switch {
	case !result.Success:
		return "failed"
	case result.UniqueResults == 0:
		return "empty"
	default:
		return "ok"
	}
}
