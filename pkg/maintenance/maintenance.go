// Package maintenance gates notifications on active maintenance windows
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// Gate answers whether a rule's notifications are currently suppressed
// by a maintenance window. Now is swappable for tests.
type Gate struct {
	store store.MaintenanceStore
	Now   func() time.Time
}

func NewGate(st store.MaintenanceStore) *Gate {
	return &Gate{store: st, Now: time.Now}
}

// Suppressed reports whether any active window covers the rule right
// now, and which one.
func (g *Gate) Suppressed(ctx context.Context, projectID, ruleID string) (bool, string, error) {
	windows, err := g.store.ListActiveWindows(ctx, projectID)
	if err != nil {
		return false, "", fmt.Errorf("failed to list maintenance windows: %w", err)
	}
	now := g.Now()
	for _, w := range windows {
		if w.Covers(ruleID, now) {
			return true, w.Name, nil
		}
	}
	return false, "", nil
}
