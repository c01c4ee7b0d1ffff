package filter

import (
	"strings"
	"testing"
)

func floatPtr(f float64) *float64 { return &f }

// --- Mocks ---

type record struct {
	tags     map[string][]string
	numerics map[string]float64
}

func (r record) Tags(key string) ([]string, bool) {
	v, ok := r.tags[key]
	return v, ok
}

func (r record) Numeric(key string) (float64, bool) {
	v, ok := r.numerics[key]
	return v, ok
}

func mustMatch(t *testing.T, key, value string) Condition {
	t.Helper()
	c, err := NewMatch(key, value)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	return c
}

// --- Range ---

func TestNewRangeFilter_Validation(t *testing.T) {
	tests := []struct {
		name             string
		gt, gte, lt, lte *float64
		wantErr          string
	}{
		{"gt only", floatPtr(1), nil, nil, nil, ""},
		{"gte+lte", nil, floatPtr(0), nil, floatPtr(10), ""},
		{"none", nil, nil, nil, nil, "at least one"},
		{"gt and gte", floatPtr(1), floatPtr(1), nil, nil, "gt and gte"},
		{"lt and lte", nil, nil, floatPtr(1), floatPtr(1), "lt and lte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRangeFilter(tt.gt, tt.gte, tt.lt, tt.lte)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRange_Contains(t *testing.T) {
	r, _ := NewRangeFilter(nil, floatPtr(2018), floatPtr(2022), nil)
	tests := []struct {
		v    float64
		want bool
	}{
		{2017, false}, {2018, true}, {2021, true}, {2022, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.v); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
	if r.String() != ">=2018<2022" {
		t.Errorf("String() = %q", r.String())
	}
}

// --- Condition ---

func TestNewMatch_Validation(t *testing.T) {
	if _, err := NewMatch("", "x"); err == nil || !strings.Contains(err.Error(), "key is required") {
		t.Errorf("empty key: %v", err)
	}
	if _, err := NewMatch("category", ""); err == nil || !strings.Contains(err.Error(), "match value") {
		t.Errorf("empty value: %v", err)
	}
}

func TestParseMatch(t *testing.T) {
	c, err := ParseMatch(" category = Finance ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Key() != "category" || c.Match() != "Finance" || !c.IsMatch() || c.IsRange() {
		t.Errorf("unexpected condition %+v", c)
	}
	if _, err := ParseMatch("category"); err == nil {
		t.Error("expected error without '='")
	}
}

func TestCondition_Matches(t *testing.T) {
	rec := record{
		tags:     map[string][]string{"category": {"Finance"}, "keywords": {"custodial", "funds"}},
		numerics: map[string]float64{"year": 2020},
	}
	r, _ := NewRangeFilter(floatPtr(2019), nil, nil, nil)
	yearRange, _ := NewRange("year", r)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"case-insensitive tag", mustMatch(t, "category", "finance"), true},
		{"multi-valued tag", mustMatch(t, "keywords", "funds"), true},
		{"wrong value", mustMatch(t, "category", "HR"), false},
		{"absent field", mustMatch(t, "topic", "Audit"), false},
		{"range hit", yearRange, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Matches(rec); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

// --- Expression ---

func TestExpression_Matches(t *testing.T) {
	finance := record{tags: map[string][]string{"category": {"Finance"}, "topic": {"Custody"}}}
	hr := record{tags: map[string][]string{"category": {"HR"}}}
	empty := record{}

	isFinance := mustMatch(t, "category", "Finance")
	isHR := mustMatch(t, "category", "HR")
	isCustody := mustMatch(t, "topic", "Custody")

	tests := []struct {
		name                  string
		must, should, mustNot []Condition
		rec                   record
		want                  bool
	}{
		{"empty matches all", nil, nil, nil, empty, true},
		{"must hit", []Condition{isFinance}, nil, nil, finance, true},
		{"must miss", []Condition{isFinance}, nil, nil, hr, false},
		{"must on absent field", []Condition{isFinance}, nil, nil, empty, false},
		{"should any", nil, []Condition{isHR, isCustody}, nil, finance, true},
		{"should none", nil, []Condition{isHR}, nil, finance, false},
		{"must_not excludes", nil, nil, []Condition{isHR}, hr, false},
		{"must_not on absent field passes", nil, nil, []Condition{isHR}, empty, true},
		{"combined", []Condition{isFinance}, []Condition{isCustody}, []Condition{isHR}, finance, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := NewExpression(tt.must, tt.should, tt.mustNot)
			if err != nil {
				t.Fatalf("NewExpression: %v", err)
			}
			if got := expr.Matches(tt.rec); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewExpression_Limits(t *testing.T) {
	conds := make([]Condition, MaxConditionsPerGroup+1)
	for i := range conds {
		conds[i] = Condition{key: "k", match: "v"}
	}
	for _, tc := range []struct {
		name                  string
		must, should, mustNot []Condition
		want                  string
	}{
		{"must", conds, nil, nil, "too many must "},
		{"should", nil, conds, nil, "too many should"},
		{"must_not", nil, nil, conds, "too many must_not"},
	} {
		_, err := NewExpression(tc.must, tc.should, tc.mustNot)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error = %v", tc.name, err)
		}
	}
	if _, err := NewExpression(conds[:MaxConditionsPerGroup], nil, nil); err != nil {
		t.Errorf("exactly max conditions should pass: %v", err)
	}
}

func TestExpression_KeysAndString(t *testing.T) {
	expr, _ := NewExpression(
		[]Condition{mustMatch(t, "category", "Finance")},
		nil,
		[]Condition{mustMatch(t, "topic", "Payroll")},
	)
	keys := expr.Keys()
	if len(keys) != 2 || keys[0] != "category" || keys[1] != "topic" {
		t.Errorf("Keys() = %v", keys)
	}
	if expr.String() != "+category=Finance -topic=Payroll" {
		t.Errorf("String() = %q", expr.String())
	}
	if expr.IsEmpty() {
		t.Error("IsEmpty() = true")
	}
}
