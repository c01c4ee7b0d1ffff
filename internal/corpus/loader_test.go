package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "policies", "finance.md"), `Preamble text.

# Custodial Funds
Deposit within five business days.

## Reconciliation
Reconcile monthly.
`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "Plain notes without headings.\r\nSecond line.")
	writeFile(t, filepath.Join(dir, "image.png"), "\x89PNG")
	writeFile(t, filepath.Join(dir, "broken.pdf"), "definitely not a pdf")
	writeFile(t, filepath.Join(dir, "empty.md"), "   \n")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.md"), "# Secret\nhidden")

	docs, err := Load(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d: %+v", len(docs), docs)
	}

	notes := docs[0]
	if notes.Path != "notes.txt" || len(notes.Blocks) != 1 {
		t.Fatalf("notes = %+v", notes)
	}
	if notes.Blocks[0].Text != "Plain notes without headings.\nSecond line." || notes.Blocks[0].Heading != "" {
		t.Errorf("notes block = %+v", notes.Blocks[0])
	}

	fin := docs[1]
	if fin.Path != "policies/finance.md" {
		t.Errorf("path = %q", fin.Path)
	}
	want := []Block{
		{Heading: "", Text: "Preamble text."},
		{Heading: "Custodial Funds", Text: "Deposit within five business days."},
		{Heading: "Reconciliation", Text: "Reconcile monthly."},
	}
	if len(fin.Blocks) != len(want) {
		t.Fatalf("blocks = %+v", fin.Blocks)
	}
	for i := range want {
		if fin.Blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, fin.Blocks[i], want[i])
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("expected error for a missing dir")
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, file, "x")
	if _, err := Load(context.Background(), file, nil); err == nil {
		t.Error("expected error for a file path")
	}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, dir, nil); err == nil {
		t.Error("expected error for a cancelled context")
	}
}

func TestHeadingLine(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"# Title", "Title", true},
		{"  ### Deep heading  ", "Deep heading", true},
		{"#", "", false},
		{"Not # a heading", "", false},
	}
	for _, tt := range tests {
		got, ok := headingLine(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("headingLine(%q) = %q, %v", tt.line, got, ok)
		}
	}
}
