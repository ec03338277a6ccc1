package experiment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/querylab/internal/profile"
	"github.com/hrygo/querylab/plugin/ai/metrics"
	"github.com/hrygo/querylab/store"
	"github.com/hrygo/querylab/store/db/memory"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *store.Store
	clock *testClock
}

func newFixture(t *testing.T, driver store.Driver, opts ...Option) *fixture {
	t.Helper()
	if driver == nil {
		driver = memory.NewDB()
	}
	s := store.New(driver, &profile.Profile{Mode: "dev", Driver: "memory"})
	clock := &testClock{now: testEpoch}
	s.SetClock(clock.Now)
	return &fixture{svc: NewService(s, opts...), store: s, clock: clock}
}

func (f *fixture) template(t *testing.T, key string, active bool) *store.Template {
	t.Helper()
	created, err := f.store.CreateTemplate(context.Background(), &store.Template{
		Key:        key,
		Content:    "SELECT * FROM " + key,
		IntentType: "aggregate",
		IsActive:   active,
	})
	require.NoError(t, err)
	return created
}

// usage records n usages of key of which the first x succeed.
func (f *fixture) usage(t *testing.T, key string, n, x int) {
	t.Helper()
	perf := metrics.NewService(f.store)
	for i := 0; i < n; i++ {
		_, err := perf.RecordUsage(context.Background(), metrics.UsageEvent{
			TemplateKey:    key,
			Success:        i < x,
			Confidence:     0.8,
			ProcessingTime: 100 * time.Millisecond,
		})
		require.NoError(t, err)
	}
}

// experiment creates and starts an experiment between two new templates.
func (f *fixture) experiment(t *testing.T, control, variant string, split int32) *store.Experiment {
	t.Helper()
	f.template(t, control, true)
	f.template(t, variant, false)
	result, err := f.svc.CreateExperiment(context.Background(), CreateRequest{
		Name:               control + " vs " + variant,
		ControlTemplateKey: control,
		VariantTemplateKey: variant,
		TrafficSplit:       split,
		CreatedBy:          "alice",
	})
	require.NoError(t, err)
	require.True(t, result.Success, "validation: %v", result.Validation)
	return result.Experiment
}

// failingDriver fails performance reads of one template key.
type failingDriver struct {
	store.Driver
	failKey string
}

func (d *failingDriver) ListTemplatePerformances(ctx context.Context, find *store.FindTemplatePerformance) ([]*store.TemplatePerformance, error) {
	if find != nil && find.TemplateKey != nil && *find.TemplateKey == d.failKey {
		return nil, errors.New("connection reset by peer")
	}
	return d.Driver.ListTemplatePerformances(ctx, find)
}
