package artifact

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/funnelcast/funnelcast/internal/apperrors"
	"github.com/funnelcast/funnelcast/internal/boost"
	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/seasonal"
	"github.com/funnelcast/funnelcast/internal/stats"
)

// Blob names. A bundle is the set of blobs sharing a bundle id.
const (
	BlobSeasonal     = "seasonal_model.json"
	BlobTree         = "tree_model.json"
	BlobEncoders     = "label_encoders.json"
	BlobFeatureNames = "feature_names.json"
	BlobRates        = "stage_conversion_rates.json"
	BlobProfile      = "conversion_profile.json"
	BlobMetadata     = "training_metadata.json"
)

// Constituent names.
const (
	ModelSeasonal = "seasonal"
	ModelTree     = "tree"
	ModelRule     = "rule"
)

// Bundle is everything training produces. Nil model fields mean that
// constituent failed to fit and is absent.
type Bundle struct {
	ID           string
	TrainedAt    time.Time
	Seasonal     *seasonal.Model
	Tree         *boost.Model
	Encoders     *boost.Encoders
	FeatureNames []string
	Rates        stats.RateTable
	Profile      *stats.EmpiricalProfile
	Metadata     Metadata
}

// Metadata is forwarded as-is to report consumers.
type Metadata struct {
	BundleID          string              `json:"bundle_id"`
	TrainedAt         time.Time           `json:"trained_at"`
	DataSpanYears     float64             `json:"data_span_years"`
	LastCompleteMonth string              `json:"last_complete_month"`
	ExcludedMonths    []string            `json:"excluded_months,omitempty"`
	Constituents      []ConstituentStatus `json:"constituents"`
	SeasonalMetrics   *seasonal.Metrics   `json:"seasonal_metrics,omitempty"`
	TreeMetrics       *boost.Report       `json:"tree_metrics,omitempty"`
	ConversionRates   stats.RateTable     `json:"conversion_rates,omitempty"`
	Dataset           dataset.Stats       `json:"dataset_stats"`
}

type ConstituentStatus struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Error   string `json:"error,omitempty"`
}

// Present reports whether the named constituent was trained.
func (b *Bundle) Present(name string) bool {
	switch name {
	case ModelSeasonal:
		return b.Seasonal != nil
	case ModelTree:
		return b.Tree != nil && b.Encoders != nil
	case ModelRule:
		return len(b.Rates) > 0
	}
	return false
}

type blob struct {
	name string
	data []byte
}

func encode(b *Bundle) ([]blob, error) {
	var blobs []blob
	add := func(name string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		blobs = append(blobs, blob{name: name, data: data})
		return nil
	}

	if b.Seasonal != nil {
		if err := add(BlobSeasonal, b.Seasonal); err != nil {
			return nil, err
		}
	}
	if b.Tree != nil && b.Encoders != nil {
		if err := add(BlobTree, b.Tree); err != nil {
			return nil, err
		}
		if err := add(BlobEncoders, b.Encoders); err != nil {
			return nil, err
		}
		if err := add(BlobFeatureNames, b.FeatureNames); err != nil {
			return nil, err
		}
	}
	if len(b.Rates) > 0 {
		if err := add(BlobRates, b.Rates); err != nil {
			return nil, err
		}
	}
	if b.Profile != nil {
		if err := add(BlobProfile, b.Profile); err != nil {
			return nil, err
		}
	}
	if err := add(BlobMetadata, b.Metadata); err != nil {
		return nil, err
	}
	return blobs, nil
}

func decode(id string, blobs map[string][]byte) (*Bundle, error) {
	b := &Bundle{ID: id}
	get := func(name string, v any) (bool, error) {
		data, ok := blobs[name]
		if !ok {
			return false, nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return false, apperrors.ArtifactCorruption(err, "bundle %s: %s does not decode", id, name)
		}
		return true, nil
	}

	ok, err := get(BlobMetadata, &b.Metadata)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ArtifactCorruption(nil, "bundle %s: %s is missing", id, BlobMetadata)
	}
	b.TrainedAt = b.Metadata.TrainedAt

	var sm seasonal.Model
	if ok, err := get(BlobSeasonal, &sm); err != nil {
		return nil, err
	} else if ok {
		b.Seasonal = &sm
	}

	var tree boost.Model
	treeOK, err := get(BlobTree, &tree)
	if err != nil {
		return nil, err
	}
	var enc boost.Encoders
	encOK, err := get(BlobEncoders, &enc)
	if err != nil {
		return nil, err
	}
	if _, err := get(BlobFeatureNames, &b.FeatureNames); err != nil {
		return nil, err
	}
	switch {
	case treeOK && encOK:
		if len(b.FeatureNames) != tree.NumFeatures {
			return nil, apperrors.ArtifactCorruption(nil, "bundle %s: %d feature names for a %d-feature tree model",
				id, len(b.FeatureNames), tree.NumFeatures)
		}
		b.Tree, b.Encoders = &tree, &enc
	case treeOK != encOK:
		return nil, apperrors.ArtifactCorruption(nil, "bundle %s: tree model and encoders must be stored together", id)
	}

	if _, err := get(BlobRates, &b.Rates); err != nil {
		return nil, err
	}
	for _, r := range b.Rates {
		if r.Rate < 0 || r.Rate > 1 {
			return nil, apperrors.ArtifactCorruption(nil, "bundle %s: conversion rate %f for %s outside [0,1]", id, r.Rate, r.Stage)
		}
	}

	var profile stats.EmpiricalProfile
	if ok, err := get(BlobProfile, &profile); err != nil {
		return nil, err
	} else if ok {
		b.Profile = &profile
	}
	return b, nil
}
