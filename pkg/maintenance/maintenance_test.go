package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

func TestGateSuppression(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	g := NewGate(st)
	g.Now = func() time.Time { return now }

	// no windows at all
	suppressed, _, err := g.Suppressed(ctx, "proj-1", "rule-1")
	assert.NoError(t, err)
	assert.False(t, suppressed)

	// project-wide window covering now
	assert.NoError(t, st.CreateWindow(ctx, &models.MaintenanceWindow{
		ID:        "win-1",
		ProjectID: "proj-1",
		Name:      "DB upgrade",
		StartsAt:  now.Add(-time.Hour),
		EndsAt:    now.Add(time.Hour),
		Active:    true,
	}))
	suppressed, name, err := g.Suppressed(ctx, "proj-1", "rule-1")
	assert.NoError(t, err)
	assert.True(t, suppressed)
	assert.Equal(t, "DB upgrade", name)

	// a different project is untouched
	suppressed, _, err = g.Suppressed(ctx, "proj-2", "rule-1")
	assert.NoError(t, err)
	assert.False(t, suppressed)
}

func TestGateScopedAndExpiredWindows(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	g := NewGate(st)
	g.Now = func() time.Time { return now }

	// rule-scoped window only covers the listed rules
	assert.NoError(t, st.CreateWindow(ctx, &models.MaintenanceWindow{
		ID:        "win-1",
		ProjectID: "proj-1",
		Name:      "Scoped",
		StartsAt:  now.Add(-time.Hour),
		EndsAt:    now.Add(time.Hour),
		Active:    true,
		RuleIDs:   []string{"rule-1"},
	}))
	suppressed, _, err := g.Suppressed(ctx, "proj-1", "rule-1")
	assert.NoError(t, err)
	assert.True(t, suppressed)

	suppressed, _, err = g.Suppressed(ctx, "proj-1", "rule-2")
	assert.NoError(t, err)
	assert.False(t, suppressed)

	// expired window no longer suppresses
	assert.NoError(t, st.CreateWindow(ctx, &models.MaintenanceWindow{
		ID:        "win-2",
		ProjectID: "proj-1",
		Name:      "Expired",
		StartsAt:  now.Add(-3 * time.Hour),
		EndsAt:    now.Add(-2 * time.Hour),
		Active:    true,
		RuleIDs:   []string{"rule-2"},
	}))
	suppressed, _, err = g.Suppressed(ctx, "proj-1", "rule-2")
	assert.NoError(t, err)
	assert.False(t, suppressed)
}

func TestGateRecurringWindow(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	// nightly 02:00-03:00 window anchored weeks back
	assert.NoError(t, st.CreateWindow(ctx, &models.MaintenanceWindow{
		ID:         "win-1",
		ProjectID:  "proj-1",
		Name:       "Nightly batch",
		StartsAt:   time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC),
		EndsAt:     time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC),
		Active:     true,
		Recurrence: "daily",
	}))

	g := NewGate(st)

	g.Now = func() time.Time { return time.Date(2026, 8, 31, 2, 30, 0, 0, time.UTC) }
	suppressed, _, err := g.Suppressed(ctx, "proj-1", "rule-1")
	assert.NoError(t, err)
	assert.True(t, suppressed)

	g.Now = func() time.Time { return time.Date(2026, 8, 31, 4, 0, 0, 0, time.UTC) }
	suppressed, _, err = g.Suppressed(ctx, "proj-1", "rule-1")
	assert.NoError(t, err)
	assert.False(t, suppressed)
}
