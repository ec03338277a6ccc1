package experiment

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/querylab/store"
)

func TestExportResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.experiment(t, "ex_control", "ex_variant", 50)
	f.usage(t, "ex_control", 100, 70)
	f.usage(t, "ex_variant", 100, 85)
	f.clock.Advance(10 * day)
	_, err := f.svc.CompleteExperiment(ctx, e.ID, true, "carol")
	require.NoError(t, err)

	t.Run("csv", func(t *testing.T) {
		out, err := f.svc.ExportResults(ctx, e.ID, FormatCSV)
		require.NoError(t, err)
		records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "TestId,TestName,Status,OriginalSuccessRate,VariantSuccessRate,StatisticalSignificance,Winner,ImprovementPercent",
			strings.Join(records[0], ","))
		assert.Equal(t, []string{"1", "ex_control vs ex_variant", "COMPLETED", "0.7000", "0.8500", "0.9889", "ex_variant", "21.43"}, records[1])
	})

	t.Run("excel degrades to csv", func(t *testing.T) {
		csvOut, err := f.svc.ExportResults(ctx, e.ID, FormatCSV)
		require.NoError(t, err)
		excelOut, err := f.svc.ExportResults(ctx, e.ID, "EXCEL")
		require.NoError(t, err)
		assert.Equal(t, csvOut, excelOut)
	})

	t.Run("json", func(t *testing.T) {
		out, err := f.svc.ExportResults(ctx, e.ID, FormatJSON)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.Equal(t, "ex_variant", decoded["winner"])
		assert.Equal(t, "COMPLETED", decoded["status"])
		analysis := decoded["analysis"].(map[string]any)
		decision := analysis["decision"].(map[string]any)
		assert.Equal(t, "implement_variant", decision["recommendation"])
		assert.Len(t, decoded["audits"], 3)
	})

	t.Run("atom", func(t *testing.T) {
		out, err := f.svc.ExportResults(ctx, e.ID, FormatAtom)
		require.NoError(t, err)
		body := string(out)
		assert.Contains(t, body, "<feed")
		assert.Contains(t, body, "urn:querylab:experiment:1")
		assert.Equal(t, 3, strings.Count(body, "<entry>"))
		assert.Contains(t, body, "TRANSITION COMPLETE")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := f.svc.ExportResults(ctx, e.ID, "pdf")
		assert.ErrorIs(t, err, ErrUnknownFormat)
		assert.True(t, IsCode(err, ErrCodeValidation))
	})

	t.Run("missing experiment", func(t *testing.T) {
		out, err := f.svc.ExportResults(ctx, 404, FormatCSV)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("custom exporter", func(t *testing.T) {
		f.svc.RegisterExporter("tsv", exporterFunc(func(w io.Writer, r *Report) error {
			_, err := io.WriteString(w, r.Experiment.Name+"\t"+string(r.Experiment.Status))
			return err
		}))
		out, err := f.svc.ExportResults(ctx, e.ID, "tsv")
		require.NoError(t, err)
		assert.Equal(t, "ex_control vs ex_variant\tCOMPLETED", string(out))
	})
}

type exporterFunc func(w io.Writer, r *Report) error

func (exporterFunc) ContentType() string { return "text/plain" }

func (f exporterFunc) Export(w io.Writer, r *Report) error { return f(w, r) }

func TestExportResultsUsesCompletionSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.experiment(t, "ex_control", "ex_variant", 50)
	f.usage(t, "ex_control", 100, 70)
	f.usage(t, "ex_variant", 100, 85)
	f.clock.Advance(10 * day)
	_, err := f.svc.CompleteExperiment(ctx, e.ID, true, "carol")
	require.NoError(t, err)

	// The promoted variant keeps serving traffic after completion.
	f.usage(t, "ex_variant", 400, 0)

	out, err := f.svc.ExportResults(ctx, e.ID, FormatCSV)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "ex_control vs ex_variant", "COMPLETED", "0.7000", "0.8500", "0.9889", "ex_variant", "21.43"}, records[1])

	analysis, err := f.svc.AnalyzeResults(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, store.ExperimentCompleted, analysis.Status)
	assert.Equal(t, ImplementVariant, analysis.Decision.Recommendation)
	assert.Equal(t, int64(100), analysis.Statistics.VariantUsages)
	assert.Equal(t, "ex_variant", analysis.WinnerKey)
}

func TestAnalyzeResultsRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.experiment(t, "cs_control", "cs_variant", 50)
	winner := e.ControlTemplateID
	_, err := f.store.CompleteExperiment(ctx, e.ID, &winner, "done", "{not json", "test")
	require.NoError(t, err)

	_, err = f.svc.AnalyzeResults(ctx, e.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeOperation))
}
