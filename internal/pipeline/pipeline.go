// Package pipeline coordinates loading, training, publishing and forecasting
// for the CLI and HTTP server.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/apperrors"
	"github.com/funnelcast/funnelcast/internal/artifact"
	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/forecast"
	"github.com/funnelcast/funnelcast/internal/metrics"
	"github.com/funnelcast/funnelcast/internal/stats"
	"github.com/funnelcast/funnelcast/internal/trainer"
)

// Orchestrator owns the published bundle. Forecasts read it without
// locking; training and pruning are serialized.
type Orchestrator struct {
	store   artifact.Store
	cfg     *config.Config
	trainer *trainer.Trainer
	engine  *forecast.Engine
	logger  *zap.Logger
	now     func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[artifact.Bundle]
}

// Report is the result of a combined train and forecast.
type Report struct {
	Training *artifact.Metadata `json:"training"`
	Forecast *forecast.Result   `json:"forecast"`
}

// New builds an orchestrator and loads the published bundle, if any. A
// missing or corrupt bundle leaves the orchestrator untrained.
func New(ctx context.Context, store artifact.Store, cfg *config.Config, logger *zap.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		store:   store,
		cfg:     cfg,
		trainer: trainer.New(cfg.Training, logger.Named("trainer")),
		engine:  forecast.New(cfg.Forecast, logger.Named("forecast")),
		logger:  logger,
		now:     time.Now,
	}
	if _, err := o.load(ctx); err != nil && !errors.Is(err, apperrors.ErrModelNotTrained) {
		return nil, err
	}
	return o, nil
}

// WithClock overrides the clock used for default reference dates and
// training timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.trainer.WithClock(now)
	return o
}

func (o *Orchestrator) load(ctx context.Context) (*artifact.Bundle, error) {
	b, err := o.store.Current(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrArtifactCorruption) {
			o.logger.Warn("stored bundle is unreadable; retrain required", zap.Error(err))
		}
		metrics.BundleLoaded.Set(0)
		return nil, err
	}
	o.current.Store(b)
	metrics.BundleLoaded.Set(1)
	o.logger.Info("loaded bundle", zap.String("bundle_id", b.ID), zap.Time("trained_at", b.TrainedAt))
	return b, nil
}

// bundle returns the published bundle. The store's current pointer is
// checked on every call and the blobs are decoded again only when it has
// moved, so bundles published or pruned by another process are seen.
func (o *Orchestrator) bundle(ctx context.Context) (*artifact.Bundle, error) {
	id, err := o.store.CurrentID(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrModelNotTrained) {
			o.current.Store(nil)
			metrics.BundleLoaded.Set(0)
		}
		return nil, err
	}
	if b := o.current.Load(); b != nil && b.ID == id {
		return b, nil
	}
	return o.load(ctx)
}

// Train loads the ledger, fits every constituent and publishes the bundle.
// Nothing is published when training fails.
func (o *Orchestrator) Train(ctx context.Context, raw io.Reader) (*artifact.Metadata, error) {
	b, err := o.train(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &b.Metadata, nil
}

func (o *Orchestrator) train(ctx context.Context, raw io.Reader) (b *artifact.Bundle, err error) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.TrainingRuns.WithLabelValues(metrics.Outcome(err)).Inc()
		metrics.TrainingDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			o.logger.Error("training failed", zap.Error(err))
		}
	}()

	ds, err := dataset.Load(raw, o.cfg.DatasetOptions(time.Time{}))
	if err != nil {
		return nil, err
	}
	metrics.ExcludedMonths.Add(float64(len(ds.Excluded)))

	b, err = o.trainer.Train(ctx, ds)
	if err != nil {
		return nil, err
	}
	if err := o.store.Publish(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to publish bundle: %w", err)
	}
	o.current.Store(b)
	metrics.BundleLoaded.Set(1)
	o.logger.Info("published bundle", zap.String("bundle_id", b.ID), zap.Duration("elapsed", time.Since(start)))
	return b, nil
}

// Forecast scores the ledger's open pipeline as of ref against the current
// bundle. A zero ref means today.
func (o *Orchestrator) Forecast(ctx context.Context, raw io.Reader, ref time.Time) (*forecast.Result, error) {
	b, err := o.bundle(ctx)
	if err != nil {
		metrics.Forecasts.WithLabelValues(metrics.Outcome(err), "").Inc()
		return nil, err
	}
	return o.forecast(b, raw, ref)
}

func (o *Orchestrator) forecast(b *artifact.Bundle, raw io.Reader, ref time.Time) (res *forecast.Result, err error) {
	start := time.Now()
	defer func() {
		source := ""
		if res != nil {
			source = string(res.RatesSource)
		}
		metrics.Forecasts.WithLabelValues(metrics.Outcome(err), source).Inc()
		metrics.ForecastDuration.Observe(time.Since(start).Seconds())
	}()

	if ref.IsZero() {
		ref = o.now()
	}
	ref = time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)

	ds, err := dataset.Load(raw, o.cfg.DatasetOptions(ref))
	if err != nil {
		return nil, err
	}
	return o.engine.Forecast(b, ds, ref)
}

// TrainAndForecast trains on raw and forecasts from the bundle it just
// produced, even if another training run publishes in between.
func (o *Orchestrator) TrainAndForecast(ctx context.Context, raw io.Reader, ref time.Time) (*Report, error) {
	data, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	b, err := o.train(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	res, err := o.forecast(b, bytes.NewReader(data), ref)
	if err != nil {
		return nil, err
	}
	return &Report{Training: &b.Metadata, Forecast: res}, nil
}

// Metadata returns the current bundle's training metadata.
func (o *Orchestrator) Metadata(ctx context.Context) (*artifact.Metadata, error) {
	b, err := o.bundle(ctx)
	if err != nil {
		return nil, err
	}
	return &b.Metadata, nil
}

// Rates returns the conversion rates a forecast would use right now.
func (o *Orchestrator) Rates(ctx context.Context) (stats.ConversionRates, error) {
	b, err := o.bundle(ctx)
	if errors.Is(err, apperrors.ErrModelNotTrained) {
		return stats.Fallback(o.cfg.Forecast.FallbackRates), nil
	}
	if err != nil {
		return stats.ConversionRates{}, err
	}
	return stats.Resolve(b.Rates, o.cfg.Forecast.FallbackRates), nil
}

// ModelInfo describes the current bundle and its stored blobs.
type ModelInfo struct {
	artifact.Summary
	Metadata artifact.Metadata `json:"metadata"`
}

func (o *Orchestrator) Model(ctx context.Context) (*ModelInfo, error) {
	b, err := o.bundle(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{Metadata: b.Metadata}
	for _, s := range summaries {
		if s.ID == b.ID {
			info.Summary = s
			return info, nil
		}
	}
	info.Summary = artifact.Summary{ID: b.ID, TrainedAt: b.TrainedAt, DataSpanYears: b.Metadata.DataSpanYears}
	return info, nil
}

func (o *Orchestrator) History(ctx context.Context) ([]artifact.Summary, error) {
	return o.store.List(ctx)
}

// Prune deletes all but the newest keep bundles. It waits for any training
// run in progress.
func (o *Orchestrator) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	n, err := o.store.Prune(ctx, keep)
	if err != nil {
		return 0, err
	}
	o.logger.Info("pruned bundles", zap.Int("deleted", n), zap.Int("kept", keep))
	return n, nil
}

// Inspect loads the ledger and returns its statistics as of ref without
// touching the store. A zero ref uses the last trip date.
func (o *Orchestrator) Inspect(raw io.Reader, ref time.Time) (*dataset.Stats, error) {
	ds, err := dataset.Load(raw, o.cfg.DatasetOptions(ref))
	if err != nil {
		return nil, err
	}
	if ref.IsZero() {
		ref = ds.LastTrip
	}
	st := ds.Stats(ref)
	return &st, nil
}
