package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// placeholder returns a positional placeholder for PostgreSQL.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n placeholders starting at $1.
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableInt32(v *int32) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromUnix(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

func fromNullUnix(ts sql.NullInt64) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := fromUnix(ts.Int64)
	return &t
}

func fromNullInt32(v sql.NullInt32) *int32 {
	if !v.Valid {
		return nil
	}
	n := v.Int32
	return &n
}
