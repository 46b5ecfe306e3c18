package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// args accumulates positional parameters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func buildWhere(t table, f *backend.Filter, a *args) (string, error) {
	var clauses []string
	for _, p := range f.Predicates() {
		if !t.has(p.Field) {
			return "", common.Invalid("filter", fmt.Sprintf("unknown column %s.%s", t.name, p.Field))
		}
		switch p.Op {
		case "null":
			clauses = append(clauses, p.Field+" IS NULL")
		case "eq":
			clauses = append(clauses, p.Field+" = "+a.add(p.Value))
		case "in":
			if len(p.Values) == 0 {
				clauses = append(clauses, "FALSE")
				continue
			}
			ph := make([]string, len(p.Values))
			for i, v := range p.Values {
				ph[i] = a.add(v)
			}
			clauses = append(clauses, p.Field+" IN ("+strings.Join(ph, ", ")+")")
		case "contains":
			clauses = append(clauses, p.Field+" ILIKE '%' || "+a.add(likeEscaper.Replace(fmt.Sprint(p.Value)))+" || '%'")
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func buildSelect(t table, f *backend.Filter, order backend.Order, limit int) (string, args, error) {
	var a args
	where, err := buildWhere(t, f, &a)
	if err != nil {
		return "", nil, err
	}
	q := "SELECT to_jsonb(t) FROM " + t.name + " t" + where
	if order.Field != "" {
		if !t.has(order.Field) {
			return "", nil, common.Invalid("order", fmt.Sprintf("unknown column %s.%s", t.name, order.Field))
		}
		dir := "ASC"
		if order.Desc {
			dir = "DESC"
		}
		q += " ORDER BY " + order.Field + " " + dir
	}
	if limit > 0 {
		q += " LIMIT " + a.add(limit)
	}
	return q, a, nil
}

// columnsOf returns the known columns present in fields, sorted, and
// rejects unknown ones.
func columnsOf(t table, fields backend.Record) ([]string, error) {
	cols := make([]string, 0, len(fields))
	for k := range fields {
		if !t.has(k) {
			return nil, common.Invalid("fields", fmt.Sprintf("unknown column %s.%s", t.name, k))
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}
