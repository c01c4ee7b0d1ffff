package filter

import (
	"fmt"
	"strings"
)

// MaxConditionsPerGroup is the maximum number of conditions per filter group.
const MaxConditionsPerGroup = 32

// Fields is the read side of a metadata record as seen by the filter.
// A nil *chunk.Metadata satisfies it and reports every field absent.
type Fields interface {
	Tags(key string) ([]string, bool)
	Numeric(key string) (float64, bool)
}

// Expression is a metadata predicate with must/should/must_not semantics.
// The zero value matches everything.
type Expression struct {
	must    []Condition
	should  []Condition
	mustNot []Condition
}

// NewExpression validates and creates an Expression.
func NewExpression(must, should, mustNot []Condition) (Expression, error) {
	for _, g := range []struct {
		name  string
		conds []Condition
	}{{"must", must}, {"should", should}, {"must_not", mustNot}} {
		if len(g.conds) > MaxConditionsPerGroup {
			return Expression{}, fmt.Errorf("too many %s conditions (max %d)", g.name, MaxConditionsPerGroup)
		}
	}
	return Expression{must: must, should: should, mustNot: mustNot}, nil
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// Should returns the should conditions.
func (e Expression) Should() []Condition { return e.should }

// MustNot returns the must-not conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0 && len(e.mustNot) == 0
}

// Keys returns every field name the expression references.
func (e Expression) Keys() []string {
	var keys []string
	for _, g := range [][]Condition{e.must, e.should, e.mustNot} {
		for _, c := range g {
			keys = append(keys, c.key)
		}
	}
	return keys
}

// Matches evaluates the predicate. Every must condition holds, at least one should
// condition holds when any are given, and no must_not condition holds.
// An absent field never satisfies a condition.
func (e Expression) Matches(f Fields) bool {
	for _, c := range e.must {
		if !c.Matches(f) {
			return false
		}
	}
	for _, c := range e.mustNot {
		if c.Matches(f) {
			return false
		}
	}
	if len(e.should) == 0 {
		return true
	}
	for _, c := range e.should {
		if c.Matches(f) {
			return true
		}
	}
	return false
}

// String renders the expression for logs.
func (e Expression) String() string {
	var parts []string
	render := func(prefix string, conds []Condition) {
		for _, c := range conds {
			parts = append(parts, prefix+c.String())
		}
	}
	render("+", e.must)
	render("~", e.should)
	render("-", e.mustNot)
	return strings.Join(parts, " ")
}

// Condition is a single clause: a tag match or a numeric range.
type Condition struct {
	key       string
	match     string
	rangeExpr *Range
}

// NewMatch creates a tag match condition. Matching is case-insensitive and succeeds
// when any value of a multi-valued field equals match.
func NewMatch(key, match string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if match == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: match}, nil
}

// NewRange creates a numeric range condition.
func NewRange(key string, r Range) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, rangeExpr: &r}, nil
}

// ParseMatch parses "key=value" into a match condition.
func ParseMatch(s string) (Condition, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return Condition{}, fmt.Errorf("filter %q: expected key=value", s)
	}
	return NewMatch(strings.TrimSpace(key), strings.TrimSpace(value))
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }

// Range returns the numeric range expression.
func (c Condition) Range() *Range { return c.rangeExpr }

// IsMatch reports whether this is a match condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// IsRange reports whether this is a range condition.
func (c Condition) IsRange() bool { return c.rangeExpr != nil }

// Matches evaluates the condition against one record.
func (c Condition) Matches(f Fields) bool {
	if c.rangeExpr != nil {
		v, ok := f.Numeric(c.key)
		return ok && c.rangeExpr.Contains(v)
	}
	values, ok := f.Tags(c.key)
	if !ok {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), c.match) {
			return true
		}
	}
	return false
}

func (c Condition) String() string {
	if c.rangeExpr != nil {
		return c.key + c.rangeExpr.String()
	}
	return c.key + "=" + c.match
}

// Range is a numeric range with gt/gte/lt/lte boundaries.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeFilter validates and creates a Range.
// At least one boundary required. gt/gte and lt/lte are mutually exclusive.
func NewRangeFilter(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

// Contains reports whether v satisfies every boundary.
func (r Range) Contains(v float64) bool {
	switch {
	case r.gt != nil && v <= *r.gt:
		return false
	case r.gte != nil && v < *r.gte:
		return false
	case r.lt != nil && v >= *r.lt:
		return false
	case r.lte != nil && v > *r.lte:
		return false
	}
	return true
}

func (r Range) String() string {
	var b strings.Builder
	write := func(op string, p *float64) {
		if p != nil {
			fmt.Fprintf(&b, "%s%g", op, *p)
		}
	}
	write(">", r.gt)
	write(">=", r.gte)
	write("<", r.lt)
	write("<=", r.lte)
	return b.String()
}
