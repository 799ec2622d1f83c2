// Package trainer fits the seasonal, tree and rule constituents on a loaded
// dataset and assembles them into an artifact bundle.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/apperrors"
	"github.com/funnelcast/funnelcast/internal/artifact"
	"github.com/funnelcast/funnelcast/internal/boost"
	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/metrics"
	"github.com/funnelcast/funnelcast/internal/seasonal"
	"github.com/funnelcast/funnelcast/internal/stats"
)

type Config struct {
	Seasonal      seasonal.Config `yaml:"seasonal"`
	Tree          boost.Config    `yaml:"tree"`
	ProfileMaxLag int             `yaml:"profile_max_lag"`
}

func DefaultConfig() Config {
	return Config{
		Seasonal:      seasonal.DefaultConfig(),
		Tree:          boost.DefaultConfig(),
		ProfileMaxLag: 18,
	}
}

type Trainer struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Trainer {
	return &Trainer{cfg: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the training timestamp source.
func (t *Trainer) WithClock(now func() time.Time) *Trainer {
	t.now = now
	return t
}

// Train fits every constituent independently. A constituent that fails is
// recorded as absent; only when all three fail is a training error returned.
func (t *Trainer) Train(ctx context.Context, ds *dataset.Dataset) (*artifact.Bundle, error) {
	id := uuid.NewString()
	trainedAt := t.now().UTC()
	b := &artifact.Bundle{ID: id, TrainedAt: trainedAt}
	var failures []error

	record := func(model string, err error) {
		status := artifact.ConstituentStatus{Name: model, Present: err == nil}
		if err != nil {
			status.Error = err.Error()
			failures = append(failures, fmt.Errorf("%s: %w", model, err))
			t.logger.Warn("constituent fit failed", zap.String("model", model), zap.Error(err))
		} else {
			t.logger.Info("constituent fitted", zap.String("model", model))
		}
		metrics.ConstituentFits.WithLabelValues(model, metrics.Outcome(err)).Inc()
		b.Metadata.Constituents = append(b.Metadata.Constituents, status)
	}

	sm, err := seasonal.Fit(ds.Monthly, t.cfg.Seasonal)
	if err == nil {
		b.Seasonal = sm
		b.Metadata.SeasonalMetrics = &sm.Metrics
	}
	record(artifact.ModelSeasonal, err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = t.fitTree(b, ds)
	record(artifact.ModelTree, err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.Rates = stats.EstimateConversionRates(ds.Leads)
	err = nil
	if len(b.Rates) == 0 {
		err = errors.New("no concluded leads to estimate conversion rates from")
	}
	b.Metadata.ConversionRates = b.Rates
	record(artifact.ModelRule, err)

	if len(failures) == len(b.Metadata.Constituents) {
		return nil, apperrors.Training(errors.Join(failures...), "all constituent models failed")
	}

	b.Profile = stats.LearnProfile(ds.Leads, t.cfg.ProfileMaxLag)

	last := ds.LastCompleteMonth()
	b.Metadata.BundleID = id
	b.Metadata.TrainedAt = trainedAt
	b.Metadata.DataSpanYears = ds.SpanYears
	b.Metadata.LastCompleteMonth = last.Format("2006-01")
	b.Metadata.Dataset = ds.Stats(ds.LastTrip)
	b.Metadata.ExcludedMonths = b.Metadata.Dataset.ExcludedMonths

	t.logger.Info("training complete",
		zap.String("bundle_id", id),
		zap.Int("months", len(ds.Monthly)),
		zap.Int("excluded_months", len(ds.Excluded)),
		zap.Float64("data_span_years", ds.SpanYears),
		zap.Int("failed_constituents", len(failures)),
	)
	return b, nil
}

func (t *Trainer) fitTree(b *artifact.Bundle, ds *dataset.Dataset) error {
	concluded := ds.Concluded()
	if len(concluded) < t.cfg.Tree.MinSamples {
		return fmt.Errorf("%w: have %d concluded leads, need %d", boost.ErrTooFewSamples, len(concluded), t.cfg.Tree.MinSamples)
	}

	enc := boost.FitEncoders(concluded)
	X := make([][]float64, len(concluded))
	y := make([]bool, len(concluded))
	for i := range concluded {
		X[i] = enc.Features(&concluded[i])
		y[i] = concluded[i].Stage == dataset.StageCompleted
	}

	model, report, err := boost.Train(X, y, boost.FeatureNames, t.cfg.Tree)
	if err != nil {
		return err
	}
	b.Tree = model
	b.Encoders = &enc
	b.FeatureNames = append([]string(nil), boost.FeatureNames...)
	b.Metadata.TreeMetrics = report
	return nil
}
