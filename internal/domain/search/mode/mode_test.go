package mode

import "testing"

func TestIsValid(t *testing.T) {
	for _, m := range []Mode{Hybrid, Semantic, Keyword} {
		if !m.IsValid() {
			t.Errorf("%q.IsValid() = false, want true", m)
		}
	}
	for _, m := range []Mode{"", "geo", "vector", "HYBRID"} {
		if m.IsValid() {
			t.Errorf("%q.IsValid() = true, want false", m)
		}
	}
}

func TestIndexSelection(t *testing.T) {
	tests := []struct {
		m                 Mode
		dense, sparseWant bool
	}{
		{Hybrid, true, true},
		{Semantic, true, false},
		{Keyword, false, true},
	}
	for _, tt := range tests {
		if tt.m.UsesDense() != tt.dense || tt.m.UsesSparse() != tt.sparseWant {
			t.Errorf("%s: dense=%v sparse=%v", tt.m, tt.m.UsesDense(), tt.m.UsesSparse())
		}
	}
}
