// Package corpus turns a directory of policy documents into build records.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Block is a run of text under one heading on one page. Page is 0 when unknown.
type Block struct {
	Heading string
	Page    int
	Text    string
}

// Document is a parsed source file. Path is relative to the corpus root, uses
// forward slashes and doubles as the source document id.
type Document struct {
	Path   string
	Blocks []Block
}

// Load parses every .txt, .md and .pdf file under dir in lexical path order.
// Files that cannot be parsed are logged and skipped.
func Load(ctx context.Context, dir string, logger *zap.Logger) ([]Document, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus dir %s is not a directory", dir)
	}

	var docs []Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		var blocks []Block
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			raw, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("skipping unreadable document", zap.String("path", path), zap.Error(err))
				return nil
			}
			blocks = parseText(string(raw), 0, "")
		case ".pdf":
			blocks, err = parsePDF(path)
			if err != nil {
				logger.Warn("skipping unparseable pdf", zap.String("path", path), zap.Error(err))
				return nil
			}
		default:
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		if len(blocks) == 0 {
			logger.Debug("document has no text", zap.String("path", rel))
			return nil
		}
		docs = append(docs, Document{Path: filepath.ToSlash(rel), Blocks: blocks})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	return docs, nil
}

// parseText splits text into blocks at markdown-style heading lines. heading is the
// heading in effect before the first line.
func parseText(text string, page int, heading string) []Block {
	var blocks []Block
	var body strings.Builder

	flush := func() {
		if t := strings.TrimSpace(body.String()); t != "" {
			blocks = append(blocks, Block{Heading: heading, Page: page, Text: t})
		}
		body.Reset()
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if h, ok := headingLine(line); ok {
			flush()
			heading = h
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return blocks
}

func headingLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	h := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	return h, h != ""
}

// parsePDF extracts plain text page by page. Headings carry across pages.
// The pdf reader panics on some malformed files; that is reported as an error.
func parsePDF(path string) (blocks []Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocks, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	heading := ""
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pageBlocks := parseText(text, i, heading)
		if n := len(pageBlocks); n > 0 {
			heading = pageBlocks[n-1].Heading
		}
		blocks = append(blocks, pageBlocks...)
	}
	return blocks, nil
}
