package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hrygo/querylab/store"
)

const performanceColumns = `p.template_id, p.template_key, p.total_usages, p.successful_usages, p.success_rate,
	p.avg_confidence, p.avg_processing_time_ms, p.avg_user_rating, p.rating_count, p.last_used_ts, p.updated_ts`

// returningPerformanceColumns is performanceColumns without the table alias,
// for RETURNING clauses.
const returningPerformanceColumns = `template_id, template_key, total_usages, successful_usages, success_rate,
	avg_confidence, avg_processing_time_ms, avg_user_rating, rating_count, last_used_ts, updated_ts`

func (d *DB) ListTemplatePerformances(ctx context.Context, find *store.FindTemplatePerformance) ([]*store.TemplatePerformance, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if v := find.TemplateID; v != nil {
		args = append(args, *v)
		where = append(where, "p.template_id = "+placeholder(len(args)))
	}
	if v := find.TemplateKey; v != nil {
		args = append(args, *v)
		where = append(where, "p.template_key = "+placeholder(len(args)))
	}
	if find.OnlyActive {
		where = append(where, "t.is_active = 1")
	}
	if v := find.MinUsages; v != nil {
		args = append(args, *v)
		where = append(where, "p.total_usages >= "+placeholder(len(args)))
	}
	if v := find.MaxSuccessRate; v != nil {
		args = append(args, *v)
		where = append(where, "p.success_rate < "+placeholder(len(args)))
	}

	orderBy := "p.template_id ASC"
	if find.OrderBySuccessRateDesc {
		orderBy = "p.success_rate DESC, p.total_usages DESC, p.template_id ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM template_performance p
		JOIN prompt_template t ON t.id = p.template_id
		WHERE %s
		ORDER BY %s
	`, performanceColumns, strings.Join(where, " AND "), orderBy)
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list template performance: %w", err)
	}
	defer rows.Close()

	list := []*store.TemplatePerformance{}
	for rows.Next() {
		performance, err := scanPerformance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template performance: %w", err)
		}
		list = append(list, performance)
	}

	return list, rows.Err()
}

// IncrementTemplateUsage folds one usage event in a single UPDATE. SQLite
// evaluates every right-hand side against the pre-update row.
func (d *DB) IncrementTemplateUsage(ctx context.Context, inc *store.IncrementTemplateUsage) (*store.TemplatePerformance, error) {
	if inc == nil {
		return nil, fmt.Errorf("increment parameter cannot be nil")
	}

	success := 0
	if inc.Success {
		success = 1
	}

	stmt := `
		UPDATE template_performance SET
			total_usages = total_usages + 1,
			successful_usages = successful_usages + ?,
			success_rate = CAST(successful_usages + ? AS REAL) / (total_usages + 1),
			avg_confidence = (avg_confidence * total_usages + ?) / (total_usages + 1),
			avg_processing_time_ms = (avg_processing_time_ms * total_usages + ?) / (total_usages + 1),
			last_used_ts = ?,
			updated_ts = ?
		WHERE template_key = ?
		RETURNING ` + returningPerformanceColumns

	usedTs := unix(inc.UsedTs)
	performance, err := scanPerformance(d.db.QueryRowContext(ctx, stmt,
		success, success, inc.Confidence, inc.ProcessingTimeMs, usedTs, usedTs, inc.TemplateKey,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to increment template usage: %w", err)
	}
	return performance, nil
}

func (d *DB) UpdateTemplateRating(ctx context.Context, rating *store.UpdateTemplateRating) (*store.TemplatePerformance, error) {
	if rating == nil {
		return nil, fmt.Errorf("rating parameter cannot be nil")
	}

	stmt := `
		UPDATE template_performance SET
			avg_user_rating = (avg_user_rating * rating_count + ?) / (rating_count + 1),
			rating_count = rating_count + 1,
			updated_ts = ?
		WHERE template_key = ?
		RETURNING ` + returningPerformanceColumns

	performance, err := scanPerformance(d.db.QueryRowContext(ctx, stmt, rating.Rating, unix(rating.RatedTs), rating.TemplateKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update template rating: %w", err)
	}
	return performance, nil
}

func scanPerformance(row scanner) (*store.TemplatePerformance, error) {
	var (
		performance store.TemplatePerformance
		lastUsedTs  sql.NullInt64
		updatedTs   int64
	)
	if err := row.Scan(
		&performance.TemplateID, &performance.TemplateKey,
		&performance.TotalUsages, &performance.SuccessfulUsages, &performance.SuccessRate,
		&performance.AvgConfidence, &performance.AvgProcessingTimeMs,
		&performance.AvgUserRating, &performance.RatingCount,
		&lastUsedTs, &updatedTs,
	); err != nil {
		return nil, err
	}
	performance.LastUsedTs = fromNullUnix(lastUsedTs)
	performance.UpdatedTs = fromUnix(updatedTs)
	return &performance, nil
}
