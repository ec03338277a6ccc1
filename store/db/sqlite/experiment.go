package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hrygo/querylab/store"
)

const experimentColumns = `id, name, description, control_template_id, variant_template_id, traffic_split, status,
	start_ts, end_ts, winner_template_id, status_reason, analysis_snapshot, suggestion_id,
	created_by, updated_by, created_ts, updated_ts`

func (d *DB) CreateExperiment(ctx context.Context, create *store.Experiment) (*store.Experiment, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	stmt := `INSERT INTO experiment (name, description, control_template_id, variant_template_id, traffic_split, status,
			start_ts, end_ts, winner_template_id, status_reason, analysis_snapshot, suggestion_id,
			created_by, updated_by, created_ts, updated_ts)
		VALUES (` + placeholders(16) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.Name, create.Description, create.ControlTemplateID, create.VariantTemplateID, create.TrafficSplit, string(create.Status),
		nullableUnix(create.StartTs), nullableUnix(create.EndTs), nullableInt32(create.WinnerTemplateID),
		create.StatusReason, create.AnalysisSnapshot, nullableInt32(create.SuggestionID),
		create.CreatedBy, create.UpdatedBy, unix(create.CreatedTs), unix(create.UpdatedTs),
	).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	return create, nil
}

func (d *DB) ListExperiments(ctx context.Context, find *store.FindExperiment) ([]*store.Experiment, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, "id = "+placeholder(len(args)))
	}
	if len(find.Status) > 0 {
		holders := make([]string, 0, len(find.Status))
		for _, status := range find.Status {
			args = append(args, string(status))
			holders = append(holders, placeholder(len(args)))
		}
		where = append(where, "status IN ("+strings.Join(holders, ", ")+")")
	}
	if v := find.TemplateID; v != nil {
		args = append(args, *v, *v)
		where = append(where, "(control_template_id = ? OR variant_template_id = ?)")
	}
	if v := find.StartedBefore; v != nil {
		args = append(args, unix(*v))
		where = append(where, "start_ts IS NOT NULL AND start_ts < "+placeholder(len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM experiment
		WHERE %s
		ORDER BY id ASC
	`, experimentColumns, strings.Join(where, " AND "))
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	list := []*store.Experiment{}
	for rows.Next() {
		experiment, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		list = append(list, experiment)
	}

	return list, rows.Err()
}

// UpdateExperiment applies a guarded update. When ExpectedStatus is set the
// row only changes if its current status is one of the expected values.
func (d *DB) UpdateExperiment(ctx context.Context, update *store.UpdateExperiment) (*store.Experiment, error) {
	if update == nil {
		return nil, fmt.Errorf("update parameter cannot be nil")
	}

	set, args := []string{}, []any{}
	if v := update.Status; v != nil {
		args = append(args, string(*v))
		set = append(set, "status = "+placeholder(len(args)))
	}
	if v := update.StartTs; v != nil {
		args = append(args, unix(*v))
		set = append(set, "start_ts = "+placeholder(len(args)))
	}
	if v := update.EndTs; v != nil {
		args = append(args, unix(*v))
		set = append(set, "end_ts = "+placeholder(len(args)))
	}
	if v := update.WinnerTemplateID; v != nil {
		args = append(args, *v)
		set = append(set, "winner_template_id = "+placeholder(len(args)))
	}
	if v := update.StatusReason; v != nil {
		args = append(args, *v)
		set = append(set, "status_reason = "+placeholder(len(args)))
	}
	if v := update.AnalysisSnapshot; v != nil {
		args = append(args, *v)
		set = append(set, "analysis_snapshot = "+placeholder(len(args)))
	}
	args = append(args, update.UpdatedBy)
	set = append(set, "updated_by = "+placeholder(len(args)))
	args = append(args, unix(update.UpdatedTs))
	set = append(set, "updated_ts = "+placeholder(len(args)))

	args = append(args, update.ID)
	where := []string{"id = " + placeholder(len(args))}
	if len(update.ExpectedStatus) > 0 {
		holders := make([]string, 0, len(update.ExpectedStatus))
		for _, status := range update.ExpectedStatus {
			args = append(args, string(status))
			holders = append(holders, placeholder(len(args)))
		}
		where = append(where, "status IN ("+strings.Join(holders, ", ")+")")
	}
	if update.RequireIdleTemplates {
		args = append(args, string(store.ExperimentRunning), string(store.ExperimentPaused))
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM experiment AS other
			WHERE other.id <> experiment.id
				AND other.status IN (`+placeholder(len(args)-1)+`, `+placeholder(len(args))+`)
				AND (other.control_template_id IN (experiment.control_template_id, experiment.variant_template_id)
					OR other.variant_template_id IN (experiment.control_template_id, experiment.variant_template_id))
		)`)
	}

	stmt := `UPDATE experiment SET ` + strings.Join(set, ", ") + ` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ` + experimentColumns
	experiment, err := scanExperiment(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update experiment: %w", err)
	}
	return experiment, nil
}

func (d *DB) CountExperimentsByStatus(ctx context.Context) ([]*store.ExperimentStatusCount, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM experiment GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count experiments: %w", err)
	}
	defer rows.Close()

	list := []*store.ExperimentStatusCount{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan experiment count: %w", err)
		}
		list = append(list, &store.ExperimentStatusCount{Status: store.ExperimentStatus(status), Count: count})
	}

	return list, rows.Err()
}

func scanExperiment(row scanner) (*store.Experiment, error) {
	var (
		experiment   store.Experiment
		status       string
		startTs      sql.NullInt64
		endTs        sql.NullInt64
		winnerID     sql.NullInt32
		suggestionID sql.NullInt32
		createdTs    int64
		updatedTs    int64
	)
	if err := row.Scan(
		&experiment.ID, &experiment.Name, &experiment.Description,
		&experiment.ControlTemplateID, &experiment.VariantTemplateID, &experiment.TrafficSplit, &status,
		&startTs, &endTs, &winnerID, &experiment.StatusReason, &experiment.AnalysisSnapshot, &suggestionID,
		&experiment.CreatedBy, &experiment.UpdatedBy, &createdTs, &updatedTs,
	); err != nil {
		return nil, err
	}
	experiment.Status = store.ExperimentStatus(status)
	experiment.StartTs = fromNullUnix(startTs)
	experiment.EndTs = fromNullUnix(endTs)
	experiment.WinnerTemplateID = fromNullInt32(winnerID)
	experiment.SuggestionID = fromNullInt32(suggestionID)
	experiment.CreatedTs = fromUnix(createdTs)
	experiment.UpdatedTs = fromUnix(updatedTs)
	return &experiment, nil
}
