package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/querylab/store"
)

func (d *DB) CreateExperimentAudit(ctx context.Context, create *store.ExperimentAudit) (*store.ExperimentAudit, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	stmt := `INSERT INTO experiment_audit (experiment_id, kind, action, actor, reason, details, created_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.ExperimentID, string(create.Kind), create.Action, create.Actor, create.Reason, create.Details, unix(create.CreatedTs),
	).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create experiment audit: %w", err)
	}

	return create, nil
}

func (d *DB) ListExperimentAudits(ctx context.Context, find *store.FindExperimentAudit) ([]*store.ExperimentAudit, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if v := find.ExperimentID; v != nil {
		args = append(args, *v)
		where = append(where, "experiment_id = "+placeholder(len(args)))
	}
	if v := find.Kind; v != nil {
		args = append(args, string(*v))
		where = append(where, "kind = "+placeholder(len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, experiment_id, kind, action, actor, reason, details, created_ts
		FROM experiment_audit
		WHERE %s
		ORDER BY created_ts ASC, id ASC
	`, strings.Join(where, " AND "))
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiment audits: %w", err)
	}
	defer rows.Close()

	list := []*store.ExperimentAudit{}
	for rows.Next() {
		var (
			audit     store.ExperimentAudit
			kind      string
			createdTs int64
		)
		if err := rows.Scan(
			&audit.ID, &audit.ExperimentID, &kind, &audit.Action, &audit.Actor, &audit.Reason, &audit.Details, &createdTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan experiment audit: %w", err)
		}
		audit.Kind = store.ExperimentAuditKind(kind)
		audit.CreatedTs = fromUnix(createdTs)
		list = append(list, &audit)
	}

	return list, rows.Err()
}
