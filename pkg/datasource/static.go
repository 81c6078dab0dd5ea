package datasource

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// LabeledPoint is a StaticSource observation with its label set
type LabeledPoint struct {
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
}

// StaticSource serves points fed in by hand. It backs evaluator tests
// and local development without a metric backend. Now is swappable so
// tests control window boundaries.
type StaticSource struct {
	mu      sync.RWMutex
	points  map[string][]LabeledPoint
	failing bool

	Now func() time.Time
}

var _ DataSource = (*StaticSource)(nil)

func NewStaticSource() *StaticSource {
	return &StaticSource{
		points: make(map[string][]LabeledPoint),
		Now:    time.Now,
	}
}

// Add records an observation for a signal
func (s *StaticSource) Add(signal string, p LabeledPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[signal] = append(s.points[signal], p)
}

// SetFailing makes every query return ErrUnavailable
func (s *StaticSource) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *StaticSource) Close() error { return nil }

func matchesFilter(labels, filter map[string]string) bool {
	for k, v := range filter {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func (s *StaticSource) window(signal string, window time.Duration, filter map[string]string) ([]LabeledPoint, error) {
	if s.failing {
		return nil, ErrUnavailable
	}
	cutoff := s.Now().Add(-window)
	var out []LabeledPoint
	for _, p := range s.points[signal] {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		if !matchesFilter(p.Labels, filter) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func reduce(agg models.Aggregation, points []LabeledPoint) float64 {
	switch agg {
	case models.AggregationSum:
		var sum float64
		for _, p := range points {
			sum += p.Value
		}
		return sum
	case models.AggregationMin:
		min := points[0].Value
		for _, p := range points[1:] {
			if p.Value < min {
				min = p.Value
			}
		}
		return min
	case models.AggregationMax:
		max := points[0].Value
		for _, p := range points[1:] {
			if p.Value > max {
				max = p.Value
			}
		}
		return max
	case models.AggregationCount:
		return float64(len(points))
	case models.AggregationLast:
		last := points[0]
		for _, p := range points[1:] {
			if p.Timestamp.After(last.Timestamp) {
				last = p
			}
		}
		return last.Value
	default:
		var sum float64
		for _, p := range points {
			sum += p.Value
		}
		return sum / float64(len(points))
	}
}

func (s *StaticSource) QueryAggregate(ctx context.Context, q AggregateQuery) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points, err := s.window(q.Signal, q.Window, q.Filter)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		if q.Aggregation == models.AggregationCount {
			zero := 0.0
			return &zero, nil
		}
		return nil, nil
	}
	v := reduce(q.Aggregation, points)
	return &v, nil
}

func (s *StaticSource) QueryGrouped(ctx context.Context, q AggregateQuery) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points, err := s.window(q.Signal, q.Window, q.Filter)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]LabeledPoint)
	for _, p := range points {
		keys := make([]string, len(q.GroupBy))
		for i, g := range q.GroupBy {
			keys[i] = p.Labels[g]
		}
		key := strings.Join(keys, "/")
		groups[key] = append(groups[key], p)
	}
	out := make(map[string]float64, len(groups))
	for key, pts := range groups {
		out[key] = reduce(q.Aggregation, pts)
	}
	return out, nil
}

func (s *StaticSource) Baseline(ctx context.Context, signal string, window time.Duration, filter map[string]string) (float64, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points, err := s.window(signal, window, filter)
	if err != nil {
		return 0, 0, err
	}
	if len(points) == 0 {
		return 0, 0, nil
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	mean := sum / float64(len(points))
	var sq float64
	for _, p := range points {
		d := p.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(points))), nil
}

func (s *StaticSource) LastPoint(ctx context.Context, signal string, filter map[string]string) (*Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}
	var last *LabeledPoint
	for i := range s.points[signal] {
		p := s.points[signal][i]
		if !matchesFilter(p.Labels, filter) {
			continue
		}
		if last == nil || p.Timestamp.After(last.Timestamp) {
			last = &p
		}
	}
	if last == nil {
		return nil, nil
	}
	return &Point{Timestamp: last.Timestamp, Value: last.Value}, nil
}
