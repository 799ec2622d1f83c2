// Package artifact persists training bundles as versioned sets of named
// blobs and publishes them atomically.
package artifact

import (
	"context"
	"time"
)

// Store defines the interface for bundle storage operations
type Store interface {
	// Publish writes the bundle and makes it current in one step.
	Publish(ctx context.Context, b *Bundle) error
	// Current returns the published bundle. It fails with a model-not-trained
	// error when none exists and an artifact-corruption error when the
	// stored blobs do not decode.
	Current(ctx context.Context) (*Bundle, error)
	// CurrentID returns the id of the published bundle without decoding it.
	CurrentID(ctx context.Context) (string, error)
	Get(ctx context.Context, id string) (*Bundle, error)
	List(ctx context.Context) ([]Summary, error)
	// Prune deletes all but the newest keep bundles. The current bundle is
	// never deleted.
	Prune(ctx context.Context, keep int) (int, error)

	Close() error
}

// Summary describes a stored bundle without decoding it.
type Summary struct {
	ID            string     `json:"id"`
	TrainedAt     time.Time  `json:"trained_at"`
	DataSpanYears float64    `json:"data_span_years"`
	Current       bool       `json:"current"`
	Blobs         []BlobInfo `json:"blobs"`
}

type BlobInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (s Summary) TotalSize() int64 {
	var n int64
	for _, b := range s.Blobs {
		n += b.Size
	}
	return n
}
