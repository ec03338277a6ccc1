package experiment

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gorilla/feeds"

	"github.com/hrygo/querylab/store"
)

// Export formats.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatExcel = "excel"
	FormatAtom  = "atom"
)

// csvHeader is the column layout consumers of the CSV export rely on.
var csvHeader = []string{
	"TestId",
	"TestName",
	"Status",
	"OriginalSuccessRate",
	"VariantSuccessRate",
	"StatisticalSignificance",
	"Winner",
	"ImprovementPercent",
}

// Report is everything an exporter may render about one experiment.
type Report struct {
	Experiment *store.Experiment
	Analysis   *Analysis
	Audits     []*store.ExperimentAudit
}

// Exporter renders a report in one format.
type Exporter interface {
	ContentType() string
	Export(w io.Writer, report *Report) error
}

func defaultExporters() map[string]Exporter {
	return map[string]Exporter{
		FormatCSV:   csvExporter{},
		FormatJSON:  jsonExporter{},
		FormatExcel: csvExporter{},
		FormatAtom:  atomExporter{},
	}
}

// RegisterExporter adds or replaces the exporter of a format.
func (s *Service) RegisterExporter(format string, exporter Exporter) {
	s.exporters[strings.ToLower(format)] = exporter
}

// LookupExporter returns the exporter registered for a format.
func (s *Service) LookupExporter(format string) (Exporter, bool) {
	e, ok := s.exporters[strings.ToLower(format)]
	return e, ok
}

// ExportResults renders the results of one experiment. It returns nil when
// the experiment does not exist.
func (s *Service) ExportResults(ctx context.Context, id int32, format string) ([]byte, error) {
	exporter, ok := s.LookupExporter(format)
	if !ok {
		return nil, &Error{Code: ErrCodeValidation, Message: format, Cause: ErrUnknownFormat}
	}

	experiment, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, operation("failed to load experiment", err)
	}
	if experiment == nil {
		return nil, nil
	}
	analysis, err := s.analyze(ctx, experiment)
	if err != nil {
		return nil, err
	}
	audits, err := s.ListAudits(ctx, id)
	if err != nil {
		return nil, operation("failed to load audit trail", err)
	}

	var buf bytes.Buffer
	if err := exporter.Export(&buf, &Report{Experiment: experiment, Analysis: analysis, Audits: audits}); err != nil {
		return nil, operation(fmt.Sprintf("failed to export experiment %d as %s", id, format), err)
	}
	return buf.Bytes(), nil
}

// winnerKey is the stamped winner of a completed experiment, else empty.
func (r *Report) winnerKey() string {
	if r.Experiment.WinnerTemplate != nil {
		return r.Experiment.WinnerTemplate.Key
	}
	return ""
}

type csvExporter struct{}

func (csvExporter) ContentType() string { return "text/csv" }

func (csvExporter) Export(w io.Writer, report *Report) error {
	stats := report.Analysis.Statistics
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	if err := cw.Write([]string{
		strconv.FormatInt(int64(report.Experiment.ID), 10),
		report.Experiment.Name,
		string(report.Experiment.Status),
		strconv.FormatFloat(stats.ControlRate, 'f', 4, 64),
		strconv.FormatFloat(stats.VariantRate, 'f', 4, 64),
		strconv.FormatFloat(stats.Confidence, 'f', 4, 64),
		report.winnerKey(),
		strconv.FormatFloat(stats.ImprovementPct, 'f', 2, 64),
	}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

type jsonExporter struct{}

func (jsonExporter) ContentType() string { return "application/json" }

type jsonReport struct {
	ID           int32                  `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Status       store.ExperimentStatus `json:"status"`
	TrafficSplit int32                  `json:"traffic_split"`
	Winner       string                 `json:"winner,omitempty"`
	Analysis     *Analysis              `json:"analysis"`
	Audits       []jsonAudit            `json:"audits"`
}

type jsonAudit struct {
	Kind      store.ExperimentAuditKind `json:"kind"`
	Action    string                    `json:"action"`
	Actor     string                    `json:"actor,omitempty"`
	Reason    string                    `json:"reason,omitempty"`
	CreatedTs int64                     `json:"created_ts"`
}

func (jsonExporter) Export(w io.Writer, report *Report) error {
	out := jsonReport{
		ID:           report.Experiment.ID,
		Name:         report.Experiment.Name,
		Description:  report.Experiment.Description,
		Status:       report.Experiment.Status,
		TrafficSplit: report.Experiment.TrafficSplit,
		Winner:       report.winnerKey(),
		Analysis:     report.Analysis,
		Audits:       make([]jsonAudit, 0, len(report.Audits)),
	}
	for _, a := range report.Audits {
		out.Audits = append(out.Audits, jsonAudit{
			Kind:      a.Kind,
			Action:    a.Action,
			Actor:     a.Actor,
			Reason:    a.Reason,
			CreatedTs: a.CreatedTs.Unix(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// atomExporter renders the audit trail as an Atom feed.
type atomExporter struct{}

func (atomExporter) ContentType() string { return "application/atom+xml" }

func (atomExporter) Export(w io.Writer, report *Report) error {
	e := report.Experiment
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Experiment %d: %s", e.ID, e.Name),
		Link:        &feeds.Link{Href: experimentURN(e.ID)},
		Description: report.Analysis.Decision.Reason,
		Created:     e.CreatedTs,
		Updated:     e.UpdatedTs,
	}
	for _, a := range report.Audits {
		item := &feeds.Item{
			Id:          fmt.Sprintf("%s:audit:%d", experimentURN(e.ID), a.ID),
			Title:       fmt.Sprintf("%s %s", a.Kind, a.Action),
			Link:        &feeds.Link{Href: experimentURN(e.ID)},
			Description: a.Reason,
			Created:     a.CreatedTs,
		}
		if a.Actor != "" {
			item.Author = &feeds.Author{Name: a.Actor}
		}
		feed.Items = append(feed.Items, item)
	}
	return feed.WriteAtom(w)
}

func experimentURN(id int32) string {
	return fmt.Sprintf("urn:querylab:experiment:%d", id)
}
