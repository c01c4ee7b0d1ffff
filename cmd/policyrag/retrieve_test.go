package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/mode"
)

func TestRetrieveFlags_Request(t *testing.T) {
	f := retrieveFlags{mode: "keyword", filters: []string{"category=Finance", "year = 2024"}}
	req, err := f.request("  procurement  ", 7, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Query() != "procurement" || req.TopK() != 7 || req.Mode() != mode.Keyword {
		t.Errorf("request = %q/%d/%s", req.Query(), req.TopK(), req.Mode())
	}
	must := req.Filters().Must()
	if len(must) != 2 || must[1].Key() != "year" || must[1].Match() != "2024" {
		t.Errorf("filters = %s", req.Filters().String())
	}
	if req.Rerank() != nil {
		t.Error("rerank must stay unset when the flag is not given")
	}
}

func TestRetrieveFlags_RequestErrors(t *testing.T) {
	tests := []struct {
		name  string
		flags retrieveFlags
		query string
	}{
		{"bad filter", retrieveFlags{mode: "hybrid", filters: []string{"category"}}, "q"},
		{"bad mode", retrieveFlags{mode: "fuzzy"}, "q"},
		{"blank query", retrieveFlags{mode: "hybrid"}, "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.flags.request(tt.query, 5, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("a\n\n  b\tc", 10); got != "a b c" {
		t.Errorf("snippet = %q", got)
	}
	if got := snippet("ééééé", 3); got != "ééé..." {
		t.Errorf("snippet = %q", got)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/retrieve", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"internal_error"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "policyrag dev") {
		t.Errorf("output = %q", out.String())
	}
}
