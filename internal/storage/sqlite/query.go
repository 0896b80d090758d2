package sqlite

import (
	"fmt"
	"reflect"
	"strings"
)

// Query is a small mechanical builder for the repetitive filter
// composition the fetch methods share. It only assembles SQL; scanning
// stays with each entity's fetch.
type Query struct {
	table   string
	columns string
	wheres  []string
	args    []any
	order   string
	limit   int
}

func newQuery(table, columns string) *Query {
	return &Query{table: table, columns: columns}
}

// Where appends a raw condition with its bind arguments.
func (q *Query) Where(cond string, args ...any) *Query {
	q.wheres = append(q.wheres, cond)
	q.args = append(q.args, args...)
	return q
}

// WhereIf appends cond bound to v's element when v is a non-nil pointer,
// and is a no-op otherwise. It keeps optional-filter plumbing mechanical.
func (q *Query) WhereIf(cond string, v any) *Query {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return q
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return q
		}
		return q.Where(cond, rv.Elem().Interface())
	}
	return q.Where(cond, v)
}

// WhereIn appends an IN condition. An empty set matches nothing.
func (q *Query) WhereIn(column string, values []string) *Query {
	if len(values) == 0 {
		return q.Where("1 = 0")
	}
	placeholders := strings.Repeat("?, ", len(values)-1) + "?"
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return q.Where(fmt.Sprintf("%s IN (%s)", column, placeholders), args...)
}

// NotDeleted filters out soft-deleted rows.
func (q *Query) NotDeleted() *Query {
	return q.Where("deleted_at IS NULL")
}

// NotArchived filters out archived rows.
func (q *Query) NotArchived() *Query {
	return q.Where("archived_at IS NULL")
}

// OrderBy sets the ORDER BY expression.
func (q *Query) OrderBy(expr string) *Query {
	q.order = expr
	return q
}

// Limit caps the result set; zero means no limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// SQL renders the SELECT statement and its arguments.
func (q *Query) SQL() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(q.columns)
	b.WriteString(" FROM ")
	b.WriteString(q.table)
	if len(q.wheres) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.wheres, " AND "))
	}
	if q.order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.order)
	}
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	return b.String(), q.args
}
