package postgres

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// createdBetween appends a half-open created_at window plus ordering and
// pagination to query. args must already hold the query's leading params.
func createdBetween(query string, args []any, from, to time.Time, opts domain.ListOpts) (string, []any) {
	n := len(args)
	query += fmt.Sprintf(" AND created_at >= $%d AND created_at < $%d ORDER BY id", n+1, n+2)
	args = append(args, from, to)
	return paginate(query, args, opts)
}

func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
