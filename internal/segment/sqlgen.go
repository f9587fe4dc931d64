package segment

import (
	"fmt"
	"strings"
)

// sqlBuilder tracks positional args while walking the tree, mirroring
// how the donor store binds parameters.
type sqlBuilder struct {
	args []any
	argn int
}

func (b *sqlBuilder) nextArg(v any) string {
	b.args = append(b.args, v)
	b.argn++
	return fmt.Sprintf("$%d", b.argn)
}

// SQL translates the compiled filter into a parameterized WHERE
// fragment for the donor store, with placeholders numbered from $1.
// The fragment always excludes soft-deleted donors. Emission cannot
// fail: every rule was validated at compile time, and the emitted
// predicate is semantically identical to Evaluate.
func (f *Filter) SQL() (string, []any) {
	b := &sqlBuilder{}
	frag := b.group(f.root)
	if frag == "" {
		return "active = TRUE", nil
	}
	return "active = TRUE AND (" + frag + ")", b.args
}

func (b *sqlBuilder) group(g *groupNode) string {
	parts := make([]string, 0, len(g.children))
	for _, c := range g.children {
		var sql string
		switch n := c.(type) {
		case *groupNode:
			sql = b.group(n)
			if sql != "" {
				sql = "(" + sql + ")"
			}
		case *ruleNode:
			sql = b.rule(n)
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}

	if len(parts) == 0 {
		if g.not {
			return "FALSE"
		}
		return ""
	}

	joiner := " AND "
	if !g.and {
		joiner = " OR "
	}
	result := strings.Join(parts, joiner)
	if g.not {
		result = "NOT (" + result + ")"
	}
	return result
}

func (b *sqlBuilder) rule(r *ruleNode) string {
	col := r.spec.Column

	switch r.spec.Kind {
	case KindString:
		return b.stringRule(r, col)
	case KindNumber:
		return b.numberRule(r, col)
	case KindDate:
		return b.dateRule(r, col)
	}
	return ""
}

// String columns are coalesced to '' so that NULL and empty behave the
// same way the in-memory evaluator treats a missing attribute.
func (b *sqlBuilder) stringRule(r *ruleNode, col string) string {
	coalesced := fmt.Sprintf("COALESCE(%s, '')", col)

	switch r.op {
	case OpEquals:
		return fmt.Sprintf("%s = %s", coalesced, b.nextArg(r.str))
	case OpNotEquals:
		return fmt.Sprintf("%s != %s", coalesced, b.nextArg(r.str))
	case OpContains:
		if r.str == "" {
			return "FALSE"
		}
		return fmt.Sprintf(`%s ILIKE %s ESCAPE '\'`, coalesced, b.nextArg("%"+escapeLike(r.str)+"%"))
	case OpNotContains:
		if r.str == "" {
			return "TRUE"
		}
		return fmt.Sprintf(`%s NOT ILIKE %s ESCAPE '\'`, coalesced, b.nextArg("%"+escapeLike(r.str)+"%"))
	case OpIn:
		return inList(b, coalesced, r.strs, false)
	case OpNotIn:
		return inList(b, coalesced, r.strs, true)
	case OpIsNull:
		return fmt.Sprintf("(%s IS NULL OR %s = '')", col, col)
	case OpIsNotNull:
		return fmt.Sprintf("(%s IS NOT NULL AND %s != '')", col, col)
	}
	return ""
}

func (b *sqlBuilder) numberRule(r *ruleNode, col string) string {
	switch r.op {
	case OpEquals:
		return fmt.Sprintf("%s = %s", col, b.nextArg(r.num))
	case OpNotEquals:
		return fmt.Sprintf("%s IS NOT NULL AND %s != %s", col, col, b.nextArg(r.num))
	case OpGreaterThan:
		return fmt.Sprintf("%s > %s", col, b.nextArg(r.num))
	case OpLessThan:
		return fmt.Sprintf("%s < %s", col, b.nextArg(r.num))
	case OpGreaterThanOrEqual:
		return fmt.Sprintf("%s >= %s", col, b.nextArg(r.num))
	case OpLessThanOrEqual:
		return fmt.Sprintf("%s <= %s", col, b.nextArg(r.num))
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, b.nextArg(r.numPair[0]), b.nextArg(r.numPair[1]))
	case OpIn:
		return inList(b, col, r.nums, false)
	case OpNotIn:
		// NULL is "not present" on both paths: neither matches not_in.
		return fmt.Sprintf("%s IS NOT NULL AND %s", col, inList(b, col, r.nums, true))
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", col)
	case OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col)
	}
	return ""
}

func (b *sqlBuilder) dateRule(r *ruleNode, col string) string {
	switch r.op {
	case OpEquals:
		return fmt.Sprintf("%s = %s", col, b.nextArg(r.t))
	case OpNotEquals:
		return fmt.Sprintf("%s IS NOT NULL AND %s != %s", col, col, b.nextArg(r.t))
	case OpGreaterThan:
		return fmt.Sprintf("%s > %s", col, b.nextArg(r.t))
	case OpLessThan:
		return fmt.Sprintf("%s < %s", col, b.nextArg(r.t))
	case OpGreaterThanOrEqual:
		return fmt.Sprintf("%s >= %s", col, b.nextArg(r.t))
	case OpLessThanOrEqual:
		return fmt.Sprintf("%s <= %s", col, b.nextArg(r.t))
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, b.nextArg(r.tPair[0]), b.nextArg(r.tPair[1]))
	case OpInLastDays:
		return fmt.Sprintf("%s >= NOW() - INTERVAL '%d days'", col, r.days)
	case OpNotInLastDays:
		return fmt.Sprintf("(%s IS NULL OR %s < NOW() - INTERVAL '%d days')", col, col, r.days)
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", col)
	case OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col)
	}
	return ""
}

// escapeLike neutralizes LIKE metacharacters so the bound pattern
// matches the rule value as a literal substring, exactly as Evaluate
// does. backslash first, it is the escape character itself.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func inList[T any](b *sqlBuilder, col string, values []T, negated bool) string {
	if len(values) == 0 {
		if negated {
			return "TRUE"
		}
		return "FALSE"
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.nextArg(v)
	}
	op := "IN"
	if negated {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", "))
}
