// Package datasource abstracts the metric backends rules are evaluated
// against. Evaluation never fails hard on a backend outage: adapters wrap
// transport errors in ErrUnavailable so the caller can fall back to an ok
// verdict instead of paging on a broken pipe.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// ErrUnavailable marks a backend that could not be queried. Distinct from
// an empty result, which is a successful query returning no data.
var ErrUnavailable = errors.New("data source unavailable")

// Point is a single observation of a signal
type Point struct {
	Timestamp time.Time
	Value     float64
}

// AggregateQuery describes a windowed reduction over one signal
type AggregateQuery struct {
	Signal      string
	Aggregation models.Aggregation
	Window      time.Duration
	Filter      map[string]string
	GroupBy     []string
}

// DataSource is one metric backend. QueryAggregate returns nil without
// error when the window holds no data.
type DataSource interface {
	QueryAggregate(ctx context.Context, q AggregateQuery) (*float64, error)
	QueryGrouped(ctx context.Context, q AggregateQuery) (map[string]float64, error)
	Baseline(ctx context.Context, signal string, window time.Duration, filter map[string]string) (mean, stddev float64, err error)
	LastPoint(ctx context.Context, signal string, filter map[string]string) (*Point, error)
	Close() error
}

// Registry resolves a rule's backend name to a DataSource
type Registry struct {
	mu      sync.RWMutex
	sources map[string]DataSource
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]DataSource)}
}

func (r *Registry) Register(name string, src DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = src
}

func (r *Registry) Get(name string) (DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q: %w", name, ErrUnavailable)
	}
	return src, nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, src := range r.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close backend %q: %w", name, err)
		}
		delete(r.sources, name)
	}
	return firstErr
}
