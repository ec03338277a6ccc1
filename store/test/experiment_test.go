package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/querylab/store"
)

func TestExperimentLifecycleStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	control := createTestingTemplate(ctx, t, ts, "control")
	variant := createTestingTemplate(ctx, t, ts, "variant")

	experiment, err := ts.CreateExperiment(ctx, &store.Experiment{
		Name:              "control vs variant",
		ControlTemplateID: control.ID,
		VariantTemplateID: variant.ID,
		TrafficSplit:      50,
		CreatedBy:         "test",
	})
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentCreated, experiment.Status)
	assert.Nil(t, experiment.StartTs)

	started, err := ts.StartExperiment(ctx, experiment.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentRunning, started.Status)
	require.NotNil(t, started.StartTs)

	// Starting twice is rejected by the status guard.
	_, err = ts.StartExperiment(ctx, experiment.ID, "test")
	require.ErrorIs(t, err, store.ErrStatusConflict)

	busy, err := ts.HasActiveExperimentForTemplate(ctx, variant.ID)
	require.NoError(t, err)
	assert.True(t, busy)

	paused, err := ts.PauseExperiment(ctx, experiment.ID, "investigating", "test")
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentPaused, paused.Status)
	assert.Equal(t, "investigating", paused.StatusReason)

	resumed, err := ts.ResumeExperiment(ctx, experiment.ID, "", "test")
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentRunning, resumed.Status)

	completed, err := ts.CompleteExperiment(ctx, experiment.ID, &variant.ID, "variant wins", `{"confidence":0.99}`, "scheduler")
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentCompleted, completed.Status)
	require.NotNil(t, completed.EndTs)
	require.NotNil(t, completed.WinnerTemplateID)
	assert.Equal(t, variant.ID, *completed.WinnerTemplateID)

	// Terminal states do not move.
	_, err = ts.CancelExperiment(ctx, experiment.ID, "too late", "test")
	require.ErrorIs(t, err, store.ErrStatusConflict)

	loaded, err := ts.GetExperiment(ctx, experiment.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.WinnerTemplate)
	assert.Equal(t, variant.Key, loaded.WinnerTemplate.Key)
	assert.Equal(t, control.Key, loaded.ControlTemplate.Key)

	counts, err := ts.CountExperimentsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[store.ExperimentCompleted])

	missing, err := ts.GetExperiment(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExperimentAgeQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.SetClock(func() time.Time { return now })

	control := createTestingTemplate(ctx, t, ts, "age_control")
	variant := createTestingTemplate(ctx, t, ts, "age_variant")
	experiment, err := ts.CreateExperiment(ctx, &store.Experiment{
		Name:              "age",
		ControlTemplateID: control.ID,
		VariantTemplateID: variant.ID,
		TrafficSplit:      50,
	})
	require.NoError(t, err)
	_, err = ts.StartExperiment(ctx, experiment.ID, "test")
	require.NoError(t, err)

	ts.SetClock(func() time.Time { return now.Add(8 * 24 * time.Hour) })

	ready, err := ts.ListExperimentsRequiringAnalysis(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, ready, 1)

	notYet, err := ts.ListExperimentsRequiringAnalysis(ctx, 9*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, notYet)

	expired, err := ts.ListExpiredExperiments(ctx, 60*24*time.Hour, 0)
	require.NoError(t, err)
	assert.Empty(t, expired)

	// Old enough but below the usage gate until both arms add up.
	ts.SetClock(func() time.Time { return now.Add(61 * 24 * time.Hour) })
	for _, key := range []string{"age_control", "age_control", "age_variant"} {
		_, err := ts.IncrementTemplateUsage(ctx, &store.IncrementTemplateUsage{TemplateKey: key, Success: true})
		require.NoError(t, err)
	}
	expired, err = ts.ListExpiredExperiments(ctx, 60*24*time.Hour, 4)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = ts.ListExpiredExperiments(ctx, 60*24*time.Hour, 3)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, experiment.ID, expired[0].ID)
}

func TestStartExperimentRequiresIdleTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	control := createTestingTemplate(ctx, t, ts, "shared_control")
	first := createTestingTemplate(ctx, t, ts, "first_variant")
	second := createTestingTemplate(ctx, t, ts, "second_variant")

	create := func(variant *store.Template) *store.Experiment {
		experiment, err := ts.CreateExperiment(ctx, &store.Experiment{
			Name:              control.Key + " vs " + variant.Key,
			ControlTemplateID: control.ID,
			VariantTemplateID: variant.ID,
			TrafficSplit:      50,
		})
		require.NoError(t, err)
		return experiment
	}
	a := create(first)
	b := create(second)

	_, err := ts.StartExperiment(ctx, a.ID, "test")
	require.NoError(t, err)

	_, err = ts.StartExperiment(ctx, b.ID, "test")
	require.ErrorIs(t, err, store.ErrStatusConflict)
	loaded, err := ts.GetExperiment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentCreated, loaded.Status)

	// A shared variant is guarded the same way as a shared control.
	other := createTestingTemplate(ctx, t, ts, "other_control")
	c, err := ts.CreateExperiment(ctx, &store.Experiment{
		Name:              "other vs first",
		ControlTemplateID: other.ID,
		VariantTemplateID: first.ID,
		TrafficSplit:      50,
	})
	require.NoError(t, err)
	_, err = ts.StartExperiment(ctx, c.ID, "test")
	require.ErrorIs(t, err, store.ErrStatusConflict)

	_, err = ts.CancelExperiment(ctx, a.ID, "superseded", "test")
	require.NoError(t, err)
	started, err := ts.StartExperiment(ctx, b.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentRunning, started.Status)
}

func TestExperimentAuditStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	for _, action := range []string{"START", "PAUSE"} {
		_, err := ts.CreateExperimentAudit(ctx, &store.ExperimentAudit{
			ExperimentID: 1,
			Kind:         store.AuditKindTransition,
			Action:       action,
			Actor:        "test",
		})
		require.NoError(t, err)
	}
	_, err := ts.CreateExperimentAudit(ctx, &store.ExperimentAudit{
		ExperimentID: 1,
		Kind:         store.AuditKindAnalysis,
		Action:       "NO_ACTION",
	})
	require.NoError(t, err)

	experimentID := int32(1)
	kind := store.AuditKindTransition
	transitions, err := ts.ListExperimentAudits(ctx, &store.FindExperimentAudit{ExperimentID: &experimentID, Kind: &kind})
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "START", transitions[0].Action)
	assert.Greater(t, transitions[0].ID, int64(0))
	assert.Greater(t, transitions[1].ID, transitions[0].ID)
	assert.Equal(t, "{}", transitions[0].Details)
}
