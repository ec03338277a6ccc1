package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hrygo/querylab/store"
)

const suggestionColumns = `id, uid, template_id, template_key, category, title, description, proposed_change,
	expected_improvement, confidence, status, reviewed_by, review_notes, reviewed_ts, experiment_id, created_ts`

func (d *DB) CreateSuggestion(ctx context.Context, create *store.Suggestion) (*store.Suggestion, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	stmt := `INSERT INTO improvement_suggestion (uid, template_id, template_key, category, title, description, proposed_change,
			expected_improvement, confidence, status, reviewed_by, review_notes, reviewed_ts, experiment_id, created_ts)
		VALUES (` + placeholders(15) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.TemplateID, create.TemplateKey, create.Category, create.Title, create.Description, create.ProposedChange,
		create.ExpectedImprovement, create.Confidence, string(create.Status), create.ReviewedBy, create.ReviewNotes,
		nullableUnix(create.ReviewedTs), nullableInt32(create.ExperimentID), unix(create.CreatedTs),
	).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create suggestion: %w", err)
	}

	return create, nil
}

func (d *DB) ListSuggestions(ctx context.Context, find *store.FindSuggestion) ([]*store.Suggestion, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, "id = "+placeholder(len(args)))
	}
	if v := find.TemplateID; v != nil {
		args = append(args, *v)
		where = append(where, "template_id = "+placeholder(len(args)))
	}
	if v := find.Status; v != nil {
		args = append(args, string(*v))
		where = append(where, "status = "+placeholder(len(args)))
	}
	if v := find.ExperimentID; v != nil {
		args = append(args, *v)
		where = append(where, "experiment_id = "+placeholder(len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM improvement_suggestion
		WHERE %s
		ORDER BY expected_improvement DESC, id ASC
	`, suggestionColumns, strings.Join(where, " AND "))
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	list := []*store.Suggestion{}
	for rows.Next() {
		suggestion, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		list = append(list, suggestion)
	}

	return list, rows.Err()
}

func (d *DB) UpdateSuggestion(ctx context.Context, update *store.UpdateSuggestion) (*store.Suggestion, error) {
	if update == nil {
		return nil, fmt.Errorf("update parameter cannot be nil")
	}

	set, args := []string{}, []any{}
	if v := update.Status; v != nil {
		args = append(args, string(*v))
		set = append(set, "status = "+placeholder(len(args)))
	}
	if v := update.ReviewedBy; v != nil {
		args = append(args, *v)
		set = append(set, "reviewed_by = "+placeholder(len(args)))
	}
	if v := update.ReviewNotes; v != nil {
		args = append(args, *v)
		set = append(set, "review_notes = "+placeholder(len(args)))
	}
	if v := update.ReviewedTs; v != nil {
		args = append(args, unix(*v))
		set = append(set, "reviewed_ts = "+placeholder(len(args)))
	}
	if v := update.ExperimentID; v != nil {
		args = append(args, *v)
		set = append(set, "experiment_id = "+placeholder(len(args)))
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

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

	stmt := `UPDATE improvement_suggestion SET ` + strings.Join(set, ", ") + ` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ` + suggestionColumns
	suggestion, err := scanSuggestion(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update suggestion: %w", err)
	}
	return suggestion, nil
}

func scanSuggestion(row scanner) (*store.Suggestion, error) {
	var (
		suggestion   store.Suggestion
		status       string
		reviewedTs   sql.NullInt64
		experimentID sql.NullInt32
		createdTs    int64
	)
	if err := row.Scan(
		&suggestion.ID, &suggestion.UID, &suggestion.TemplateID, &suggestion.TemplateKey,
		&suggestion.Category, &suggestion.Title, &suggestion.Description, &suggestion.ProposedChange,
		&suggestion.ExpectedImprovement, &suggestion.Confidence, &status,
		&suggestion.ReviewedBy, &suggestion.ReviewNotes, &reviewedTs, &experimentID, &createdTs,
	); err != nil {
		return nil, err
	}
	suggestion.Status = store.SuggestionStatus(status)
	suggestion.ReviewedTs = fromNullUnix(reviewedTs)
	suggestion.ExperimentID = fromNullInt32(experimentID)
	suggestion.CreatedTs = fromUnix(createdTs)
	return &suggestion, nil
}
