package snapshot

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/text"
)

const chunkSchema = `
CREATE TABLE chunks (
	id                 INTEGER PRIMARY KEY,
	source_document_id TEXT    NOT NULL,
	text               TEXT    NOT NULL,
	heading            TEXT    NOT NULL DEFAULT '',
	page               INTEGER NOT NULL DEFAULT 0,
	content_key        TEXT    NOT NULL,
	metadata           TEXT,
	terms              TEXT    NOT NULL,
	embedding          BLOB    NOT NULL
);
CREATE INDEX idx_chunks_source ON chunks(source_document_id);
`

func openChunkDB(path string) (*sql.DB, error) {
	// rollback journal so the file is self-contained once closed
	dsn := "file:" + path + "?_pragma=journal_mode(DELETE)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chunk db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// writeChunkDB creates a fresh SQLite file holding every chunk in store.
func writeChunkDB(ctx context.Context, path string, store *ChunkStore) (err error) {
	db, err := openChunkDB(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close chunk db: %w", cerr)
		}
	}()

	if _, err := db.ExecContext(ctx, chunkSchema); err != nil {
		return fmt.Errorf("migrate chunk db: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, source_document_id, text, heading, page, content_key, metadata, terms, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	var werr error
	store.Each(func(c *chunk.Chunk) bool {
		var meta any
		if m := c.Metadata(); m != nil {
			raw, err := json.Marshal(m)
			if err != nil {
				werr = fmt.Errorf("encode metadata for chunk %d: %w", c.ID(), err)
				return false
			}
			meta = string(raw)
		}
		terms, err := json.Marshal(c.TermVector())
		if err != nil {
			werr = fmt.Errorf("encode terms for chunk %d: %w", c.ID(), err)
			return false
		}
		_, err = stmt.ExecContext(ctx,
			int64(c.ID()), c.SourceDocumentID(), c.Text(), c.Heading(), c.Page(),
			c.ContentKey(), meta, string(terms), encodeVector(c.Embedding()),
		)
		if err != nil {
			werr = fmt.Errorf("insert chunk %d: %w", c.ID(), err)
			return false
		}
		return true
	})
	if werr != nil {
		return werr
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

// readChunkDB loads every chunk into memory and closes the file.
func readChunkDB(ctx context.Context, path string) (*ChunkStore, error) {
	db, err := openChunkDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, source_document_id, text, heading, page,
		content_key, metadata, terms, embedding FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	b := NewStoreBuilder(count)
	for rows.Next() {
		var (
			id                         int64
			source, body, heading, key string
			page                       int
			meta                       sql.NullString
			termsRaw                   string
			embRaw                     []byte
		)
		if err := rows.Scan(&id, &source, &body, &heading, &page, &key, &meta, &termsRaw, &embRaw); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		var m *chunk.Metadata
		if meta.Valid {
			m = &chunk.Metadata{}
			if err := json.Unmarshal([]byte(meta.String), m); err != nil {
				return nil, fmt.Errorf("decode metadata for chunk %d: %w", id, err)
			}
		}
		terms := text.TermVector{}
		if err := json.Unmarshal([]byte(termsRaw), &terms); err != nil {
			return nil, fmt.Errorf("decode terms for chunk %d: %w", id, err)
		}
		emb, err := decodeVector(embRaw)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for chunk %d: %w", id, err)
		}
		c := chunk.Reconstruct(chunk.ID(id), body, source, heading, page, m, emb, terms, key)
		if err := b.Append(c); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return b.Freeze(), nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
