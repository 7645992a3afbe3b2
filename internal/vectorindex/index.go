// Package vectorindex stores message embeddings per customer and answers
// nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"math"

	"github.com/rcliao/contextai/internal/model"
)

// Document is one indexed message.
type Document struct {
	ID         string
	CustomerID string
	Embedding  []float32
	Text       string
	Metadata   model.RecordMeta
}

// Filter narrows a query beyond the customer namespace.
type Filter struct {
	Intent string
}

// Match is one query hit. Distance is cosine distance (0 = identical).
type Match struct {
	ID       string           `json:"id"`
	Text     string           `json:"document"`
	Metadata model.RecordMeta `json:"metadata"`
	Distance float64          `json:"distance"`
}

// Index is a per-customer vector similarity index.
type Index interface {
	Add(ctx context.Context, doc Document) error
	Query(ctx context.Context, customerID string, embedding []float32, topK int, f *Filter) ([]Match, error)
}

// Score converts a distance to a similarity score in [0, 1].
func Score(distance float64) float64 {
	return 1 - math.Min(1, math.Max(0, distance))
}
