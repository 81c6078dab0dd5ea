package datasource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/timeplus-io/proton-go-driver/v2"
	"github.com/timeplus-io/proton-go-driver/v2/lib/driver"

	"github.com/brainz-lab/signal-sub000/pkg/config"
	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// TimeplusSource evaluates signals against Timeplus streams over the
// native protocol. Each signal maps to a stream carrying a `value`
// column; filter and group-by keys map to label columns on the stream.
type TimeplusSource struct {
	conn driver.Conn
}

var _ DataSource = (*TimeplusSource)(nil)

// NewTimeplusSource connects to Timeplus and verifies the connection
func NewTimeplusSource(cfg *config.TimeplusConfig) (*TimeplusSource, error) {
	address := strings.TrimPrefix(cfg.Address, "http://")
	address = strings.TrimPrefix(address, "https://")
	if !strings.Contains(address, ":") {
		address += ":8464"
	}

	logrus.Infof("Connecting to Timeplus at %s (workspace: %s)", address, cfg.Workspace)

	conn, err := proton.Open(&proton.Options{
		Addr: []string{address},
		Auth: proton.Auth{
			Database: cfg.Workspace,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 2 * time.Hour,
		Compression: &proton.Compression{
			Method: proton.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to Timeplus: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping Timeplus: %w", err)
	}

	logrus.Info("Successfully connected to Timeplus")
	return &TimeplusSource{conn: conn}, nil
}

func (s *TimeplusSource) Close() error {
	return s.conn.Close()
}

func aggregateExpr(agg models.Aggregation) string {
	switch agg {
	case models.AggregationSum:
		return "sum(value)"
	case models.AggregationMin:
		return "min(value)"
	case models.AggregationMax:
		return "max(value)"
	case models.AggregationCount:
		return "count()"
	case models.AggregationLast:
		return "latest(value)"
	default:
		return "avg(value)"
	}
}

// filterClause renders label filters as AND-ed equality predicates with
// bound values. Column names are backtick-quoted; they come from rule
// configuration validated at write time, not from query input.
func filterClause(filter map[string]string) (string, []interface{}) {
	if len(filter) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filter))
	args := make([]interface{}, 0, len(filter))
	for k, v := range filter {
		clauses = append(clauses, fmt.Sprintf("`%s` = ?", k))
		args = append(args, v)
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func (s *TimeplusSource) QueryAggregate(ctx context.Context, q AggregateQuery) (*float64, error) {
	where, args := filterClause(q.Filter)
	query := fmt.Sprintf(
		"SELECT %s FROM table(`%s`) WHERE _tp_time >= now() - %ds%s",
		aggregateExpr(q.Aggregation), q.Signal, int(q.Window.Seconds()), where)

	var value *float64
	row := s.conn.QueryRow(ctx, query, args...)
	if err := row.Scan(&value); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil
		}
		return nil, fmt.Errorf("query %q failed: %v: %w", q.Signal, err, ErrUnavailable)
	}
	return value, nil
}

func (s *TimeplusSource) QueryGrouped(ctx context.Context, q AggregateQuery) (map[string]float64, error) {
	groupCols := make([]string, len(q.GroupBy))
	for i, g := range q.GroupBy {
		groupCols[i] = fmt.Sprintf("`%s`", g)
	}
	where, args := filterClause(q.Filter)
	query := fmt.Sprintf(
		"SELECT %s, %s FROM table(`%s`) WHERE _tp_time >= now() - %ds%s GROUP BY %s",
		strings.Join(groupCols, ", "), aggregateExpr(q.Aggregation), q.Signal,
		int(q.Window.Seconds()), where, strings.Join(groupCols, ", "))

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("grouped query %q failed: %v: %w", q.Signal, err, ErrUnavailable)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		keys := make([]string, len(q.GroupBy))
		dest := make([]interface{}, 0, len(q.GroupBy)+1)
		for i := range keys {
			dest = append(dest, &keys[i])
		}
		var value float64
		dest = append(dest, &value)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan grouped row: %v: %w", err, ErrUnavailable)
		}
		out[strings.Join(keys, "/")] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grouped query %q failed: %v: %w", q.Signal, err, ErrUnavailable)
	}
	return out, nil
}

func (s *TimeplusSource) Baseline(ctx context.Context, signal string, window time.Duration, filter map[string]string) (float64, float64, error) {
	where, args := filterClause(filter)
	query := fmt.Sprintf(
		"SELECT avg(value), stddev_pop(value) FROM table(`%s`) WHERE _tp_time >= now() - %ds%s",
		signal, int(window.Seconds()), where)

	var mean, stddev *float64
	row := s.conn.QueryRow(ctx, query, args...)
	if err := row.Scan(&mean, &stddev); err != nil {
		return 0, 0, fmt.Errorf("baseline query %q failed: %v: %w", signal, err, ErrUnavailable)
	}
	if mean == nil || stddev == nil {
		return 0, 0, nil
	}
	return *mean, *stddev, nil
}

func (s *TimeplusSource) LastPoint(ctx context.Context, signal string, filter map[string]string) (*Point, error) {
	where, args := filterClause(filter)
	query := fmt.Sprintf(
		"SELECT _tp_time, value FROM table(`%s`) WHERE 1 = 1%s ORDER BY _tp_time DESC LIMIT 1",
		signal, where)

	var p Point
	row := s.conn.QueryRow(ctx, query, args...)
	if err := row.Scan(&p.Timestamp, &p.Value); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil
		}
		return nil, fmt.Errorf("last point query %q failed: %v: %w", signal, err, ErrUnavailable)
	}
	return &p, nil
}
