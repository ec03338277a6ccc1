package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/querylab/store"
)

const templateColumns = `t.id, t.template_key, t.content, t.intent_type, t.is_active, t.version, t.created_by, t.created_ts, t.updated_ts,
	COALESCE(p.total_usages, 0), COALESCE(p.success_rate, 0)`

func (d *DB) CreateTemplate(ctx context.Context, create *store.Template) (*store.Template, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO prompt_template (template_key, content, intent_type, is_active, version, created_by, created_ts, updated_ts)
		VALUES (` + placeholders(8) + `)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt,
		create.Key, create.Content, create.IntentType, create.IsActive, create.Version,
		create.CreatedBy, unix(create.CreatedTs), unix(create.UpdatedTs),
	).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	perfStmt := `INSERT INTO template_performance (template_id, template_key, updated_ts) VALUES (` + placeholders(3) + `)`
	if _, err := tx.ExecContext(ctx, perfStmt, create.ID, create.Key, unix(create.CreatedTs)); err != nil {
		return nil, fmt.Errorf("failed to create template performance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit template: %w", err)
	}

	create.UsageCount = 0
	create.SuccessRate = 0
	return create, nil
}

func (d *DB) ListTemplates(ctx context.Context, find *store.FindTemplate) ([]*store.Template, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, "t.id = "+placeholder(len(args)))
	}
	if v := find.Key; v != nil {
		args = append(args, *v)
		where = append(where, "t.template_key = "+placeholder(len(args)))
	}
	if v := find.IntentType; v != nil {
		args = append(args, *v)
		where = append(where, "t.intent_type = "+placeholder(len(args)))
	}
	if v := find.IsActive; v != nil {
		args = append(args, *v)
		where = append(where, "t.is_active = "+placeholder(len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM prompt_template t
		LEFT JOIN template_performance p ON p.template_id = t.id
		WHERE %s
		ORDER BY t.id ASC
	`, templateColumns, strings.Join(where, " AND "))
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	list := []*store.Template{}
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, template)
	}

	return list, rows.Err()
}

func (d *DB) UpdateTemplate(ctx context.Context, update *store.UpdateTemplate) (*store.Template, error) {
	if update == nil {
		return nil, fmt.Errorf("update parameter cannot be nil")
	}

	set, args := []string{}, []any{}
	if v := update.Content; v != nil {
		args = append(args, *v)
		set = append(set, "content = "+placeholder(len(args)))
	}
	if v := update.IsActive; v != nil {
		args = append(args, *v)
		set = append(set, "is_active = "+placeholder(len(args)))
	}
	if v := update.Version; v != nil {
		args = append(args, *v)
		set = append(set, "version = "+placeholder(len(args)))
	}
	args = append(args, unix(update.UpdatedTs))
	set = append(set, "updated_ts = "+placeholder(len(args)))
	args = append(args, update.ID)

	stmt := `UPDATE prompt_template SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	list, err := d.ListTemplates(ctx, &store.FindTemplate{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func scanTemplate(row scanner) (*store.Template, error) {
	var (
		template  store.Template
		createdTs int64
		updatedTs int64
	)
	if err := row.Scan(
		&template.ID, &template.Key, &template.Content, &template.IntentType,
		&template.IsActive, &template.Version, &template.CreatedBy,
		&createdTs, &updatedTs,
		&template.UsageCount, &template.SuccessRate,
	); err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	template.CreatedTs = fromUnix(createdTs)
	template.UpdatedTs = fromUnix(updatedTs)
	return &template, nil
}
