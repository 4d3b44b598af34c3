package store

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/samber/lo"
)

// Values maps column names to the values written by Insert and Update.
type Values map[string]any

// columns returns the column names in a stable order so identical writes
// produce identical statements.
func (v Values) columns() []string {
	cols := lo.Keys(v)
	slices.Sort(cols)
	return cols
}

// Operator is a comparison used in a Condition.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "<>"
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpIn           Operator = "IN"
	OpIsNull       Operator = "IS NULL"
)

// Condition compares one column against a bound value.
type Condition struct {
	Column string
	Op     Operator
	Value  any
}

func Eq(column string, value any) Condition {
	return Condition{Column: column, Op: OpEqual, Value: value}
}

func NotEq(column string, value any) Condition {
	return Condition{Column: column, Op: OpNotEqual, Value: value}
}

func Lt(column string, value any) Condition {
	return Condition{Column: column, Op: OpLess, Value: value}
}

func Le(column string, value any) Condition {
	return Condition{Column: column, Op: OpLessEqual, Value: value}
}

func Gt(column string, value any) Condition {
	return Condition{Column: column, Op: OpGreater, Value: value}
}

func Ge(column string, value any) Condition {
	return Condition{Column: column, Op: OpGreaterEqual, Value: value}
}

func In(column string, values ...any) Condition {
	return Condition{Column: column, Op: OpIn, Value: values}
}

func IsNull(column string) Condition {
	return Condition{Column: column, Op: OpIsNull}
}

// Filter is a conjunction of conditions. Column names are trusted
// identifiers supplied by internal code; values are always bound as
// statement parameters.
type Filter []Condition

// Where builds a Filter from conditions.
func Where(conds ...Condition) Filter {
	return Filter(conds)
}

// And returns a copy of f extended with conds.
func (f Filter) And(conds ...Condition) Filter {
	out := make(Filter, 0, len(f)+len(conds))
	out = append(out, f...)
	return append(out, conds...)
}

// conditioner is satisfied by the select, update and delete builders of
// go-sqlbuilder, all of which embed sqlbuilder.Cond.
type conditioner interface {
	Equal(field string, value interface{}) string
	NotEqual(field string, value interface{}) string
	LessThan(field string, value interface{}) string
	LessEqualThan(field string, value interface{}) string
	GreaterThan(field string, value interface{}) string
	GreaterEqualThan(field string, value interface{}) string
	In(field string, values ...interface{}) string
	IsNull(field string) string
}

func (f Filter) exprs(c conditioner) ([]string, error) {
	out := make([]string, 0, len(f))
	for _, cond := range f {
		switch cond.Op {
		case OpEqual:
			out = append(out, c.Equal(cond.Column, cond.Value))
		case OpNotEqual:
			out = append(out, c.NotEqual(cond.Column, cond.Value))
		case OpLess:
			out = append(out, c.LessThan(cond.Column, cond.Value))
		case OpLessEqual:
			out = append(out, c.LessEqualThan(cond.Column, cond.Value))
		case OpGreater:
			out = append(out, c.GreaterThan(cond.Column, cond.Value))
		case OpGreaterEqual:
			out = append(out, c.GreaterEqualThan(cond.Column, cond.Value))
		case OpIn:
			values, ok := cond.Value.([]any)
			if !ok || len(values) == 0 {
				return nil, fmt.Errorf("IN on %s needs at least one value", cond.Column)
			}
			out = append(out, c.In(cond.Column, values...))
		case OpIsNull:
			out = append(out, c.IsNull(cond.Column))
		default:
			return nil, fmt.Errorf("unknown operator %q on %s", cond.Op, cond.Column)
		}
	}
	return out, nil
}

// Query describes a SELECT. Joins are paired positionally with Tables[1:];
// tables without a join condition are cross joined. Columns, GroupBy and
// OrderBy accept trusted SQL fragments such as "MAX(x) AS y" or "y DESC".
type Query struct {
	Tables  []string
	Columns []string
	Joins   []string
	Where   Filter
	GroupBy []string
	OrderBy []string
	Limit   int
}

// Row is one result row keyed by column name.
type Row map[string]any

// Int64 returns the column as an integer, converting driver representations.
func (r Row) Int64(column string) int64 {
	switch v := r[column].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}

// String returns the column as a string; NULL becomes "".
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the column as a boolean. SQLite stores booleans as integers.
func (r Row) Bool(column string) bool {
	switch v := r[column].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return r.Int64(column) != 0
	}
}

// IsNull reports whether the column is absent or NULL.
func (r Row) IsNull(column string) bool {
	v, ok := r[column]
	return !ok || v == nil
}
