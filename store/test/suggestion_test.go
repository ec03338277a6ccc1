package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/querylab/store"
)

func TestSuggestionStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	template := createTestingTemplate(ctx, t, ts, "suggest_me")

	low, err := ts.CreateSuggestion(ctx, &store.Suggestion{
		UID:                 "s-low",
		TemplateID:          template.ID,
		TemplateKey:         template.Key,
		Category:            "PERFORMANCE",
		ExpectedImprovement: 8,
		Confidence:          0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, store.SuggestionPending, low.Status)
	assert.Equal(t, "{}", low.ProposedChange)

	high, err := ts.CreateSuggestion(ctx, &store.Suggestion{
		UID:                 "s-high",
		TemplateID:          template.ID,
		TemplateKey:         template.Key,
		Category:            "ACCURACY",
		ExpectedImprovement: 15,
		Confidence:          0.8,
	})
	require.NoError(t, err)

	list, err := ts.ListSuggestions(ctx, &store.FindSuggestion{TemplateID: &template.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, high.ID, list[0].ID)

	approved := store.SuggestionApproved
	reviewer := "alice"
	updated, err := ts.UpdateSuggestion(ctx, &store.UpdateSuggestion{
		ID:             high.ID,
		ExpectedStatus: []store.SuggestionStatus{store.SuggestionPending},
		Status:         &approved,
		ReviewedBy:     &reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, store.SuggestionApproved, updated.Status)
	assert.Equal(t, "alice", updated.ReviewedBy)

	// A reviewed suggestion no longer matches the pending guard.
	_, err = ts.UpdateSuggestion(ctx, &store.UpdateSuggestion{
		ID:             high.ID,
		ExpectedStatus: []store.SuggestionStatus{store.SuggestionPending},
		Status:         &approved,
	})
	require.ErrorIs(t, err, store.ErrStatusConflict)

	missing, err := ts.GetSuggestion(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
