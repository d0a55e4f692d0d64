package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/entity"
)

// Catalog persists processing results as a single atomic unit: primary
// record, page sub-records, tag sub-records, summary sub-record, and both
// search indexes. Any failure rolls back the whole item.
type Catalog struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewCatalog(db *sql.DB, dialect Dialect, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{db: db, dialect: dialect, logger: logger}
}

// HasFingerprint is the deduplication index: a read-only view over persisted
// fingerprints, so it can never drift from the source of truth.
func (c *Catalog) HasFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	q := c.dialect.rebind(`SELECT EXISTS(SELECT 1 FROM documents WHERE fingerprint = ?)`)
	if err := c.db.QueryRowContext(ctx, q, fingerprint).Scan(&exists); err != nil {
		return false, common.NewAppError(common.CodeEnvironment, "fingerprint lookup", err)
	}
	return exists, nil
}

// Save writes the full result or nothing. The caller sees one outcome.
func (c *Catalog) Save(ctx context.Context, result *entity.ProcessingResult) (uuid.UUID, error) {
	id := uuid.New()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		// failing to even start a transaction points at the environment,
		// not at this item's data
		return uuid.Nil, common.NewAppError(common.CodeEnvironment, "begin transaction", err)
	}
	defer tx.Rollback()

	now := utcNow()
	_, err = tx.ExecContext(ctx, c.dialect.rebind(`
INSERT INTO documents (id, locator, fingerprint, format, page_count, size_bytes, discovered_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id.String(), result.Locator, result.Fingerprint, string(result.Format),
		len(result.Pages), result.SizeBytes, result.DiscoveredAt.UTC(), now)
	if err != nil {
		return uuid.Nil, common.NewAppError(common.CodePersistenceFailed, "insert document", err)
	}

	for _, p := range result.Pages {
		_, err = tx.ExecContext(ctx, c.dialect.rebind(`
INSERT INTO pages (document_id, page_index, content, confidence, mode, failed)
VALUES (?, ?, ?, ?, ?, ?)`),
			id.String(), p.Index, p.Text, p.Confidence, p.Mode, p.Failed)
		if err != nil {
			return uuid.Nil, common.NewAppError(common.CodePersistenceFailed,
				fmt.Sprintf("insert page %d", p.Index), err)
		}
		if p.Text != "" {
			if err := c.indexPage(ctx, tx, id, p); err != nil {
				return uuid.Nil, err
			}
		}
	}

	for _, t := range result.Classification.Tags {
		_, err = tx.ExecContext(ctx, c.dialect.rebind(`
INSERT INTO tags (document_id, category, value, confidence)
VALUES (?, ?, ?, ?)`),
			id.String(), string(t.Category), t.Value, t.Confidence)
		if err != nil {
			return uuid.Nil, common.NewAppError(common.CodePersistenceFailed,
				fmt.Sprintf("insert tag %s", t.Category), err)
		}
		if err := c.indexTag(ctx, tx, id, t); err != nil {
			return uuid.Nil, err
		}
	}

	_, err = tx.ExecContext(ctx, c.dialect.rebind(`
INSERT INTO summaries (document_id, content, confidence, model)
VALUES (?, ?, ?, ?)`),
		id.String(), result.Classification.Summary, result.Classification.Confidence, result.Classification.Model)
	if err != nil {
		return uuid.Nil, common.NewAppError(common.CodePersistenceFailed, "insert summary", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, common.NewAppError(common.CodePersistenceFailed, "commit", err)
	}

	c.logger.Info("catalog saved",
		"document_id", id,
		"locator", result.Locator,
		"pages", len(result.Pages),
		"placeholder", result.Placeholder,
	)
	return id, nil
}

func (c *Catalog) indexPage(ctx context.Context, tx *sql.Tx, id uuid.UUID, p entity.PageExtraction) error {
	var q string
	if c.dialect == DialectPostgres {
		q = c.dialect.rebind(`INSERT INTO page_search (document_id, page_index, content) VALUES (?, ?, ?)`)
	} else {
		q = `INSERT INTO page_fts (document_id, page_index, content) VALUES (?, ?, ?)`
	}
	if _, err := tx.ExecContext(ctx, q, id.String(), p.Index, p.Text); err != nil {
		return common.NewAppError(common.CodePersistenceFailed,
			fmt.Sprintf("index page %d", p.Index), err)
	}
	return nil
}

func (c *Catalog) indexTag(ctx context.Context, tx *sql.Tx, id uuid.UUID, t entity.Tag) error {
	var q string
	if c.dialect == DialectPostgres {
		q = c.dialect.rebind(`INSERT INTO tag_search (document_id, value) VALUES (?, ?)`)
	} else {
		q = `INSERT INTO tag_fts (document_id, value) VALUES (?, ?)`
	}
	if _, err := tx.ExecContext(ctx, q, id.String(), t.Value); err != nil {
		return common.NewAppError(common.CodePersistenceFailed,
			fmt.Sprintf("index tag %s", t.Category), err)
	}
	return nil
}

// SearchHit is one full-text match.
type SearchHit struct {
	DocumentID uuid.UUID
	Locator    string
	PageIndex  int // -1 for tag hits
}

// SearchText queries the page-content index.
func (c *Catalog) SearchText(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 50
	}

	var q string
	if c.dialect == DialectPostgres {
		q = c.dialect.rebind(`
SELECT d.id, d.locator, s.page_index
FROM page_search s JOIN documents d ON d.id = s.document_id
WHERE s.tsv @@ plainto_tsquery('simple', ?)
ORDER BY d.completed_at DESC LIMIT ?`)
	} else {
		q = `
SELECT d.id, d.locator, f.page_index
FROM page_fts f JOIN documents d ON d.id = f.document_id
WHERE page_fts MATCH ?
ORDER BY d.completed_at DESC LIMIT ?`
	}
	return c.scanHits(ctx, q, query, limit, true)
}

// SearchTags queries the tag-value index.
func (c *Catalog) SearchTags(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 50
	}

	var q string
	if c.dialect == DialectPostgres {
		q = c.dialect.rebind(`
SELECT DISTINCT d.id, d.locator
FROM tag_search s JOIN documents d ON d.id = s.document_id
WHERE s.tsv @@ plainto_tsquery('simple', ?)
ORDER BY d.locator LIMIT ?`)
	} else {
		q = `
SELECT DISTINCT d.id, d.locator
FROM tag_fts f JOIN documents d ON d.id = f.document_id
WHERE tag_fts MATCH ?
ORDER BY d.locator LIMIT ?`
	}
	return c.scanHits(ctx, q, query, limit, false)
}

func (c *Catalog) scanHits(ctx context.Context, q, query string, limit int, withPage bool) ([]SearchHit, error) {
	rows, err := c.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	out := make([]SearchHit, 0)
	for rows.Next() {
		h := SearchHit{PageIndex: -1}
		var idStr string
		if withPage {
			err = rows.Scan(&idStr, &h.Locator, &h.PageIndex)
		} else {
			err = rows.Scan(&idStr, &h.Locator)
		}
		if err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if h.DocumentID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListDocuments returns persisted documents with their tags and summary,
// newest first.
func (c *Catalog) ListDocuments(ctx context.Context, limit, offset int) ([]entity.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := c.db.QueryContext(ctx, c.dialect.rebind(`
SELECT d.id, d.locator, d.fingerprint, d.format, d.page_count, d.size_bytes,
       d.discovered_at, d.completed_at, COALESCE(s.content, '')
FROM documents d LEFT JOIN summaries s ON s.document_id = d.id
ORDER BY d.completed_at DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]entity.Document, 0)
	for rows.Next() {
		var d entity.Document
		var idStr string
		if err := rows.Scan(&idStr, &d.Locator, &d.Fingerprint, &d.Format, &d.PageCount,
			&d.SizeBytes, &d.DiscoveredAt, &d.CompletedAt, &d.Summary); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if d.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	for i := range docs {
		if docs[i].Tags, err = c.documentTags(ctx, docs[i].ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (c *Catalog) documentTags(ctx context.Context, id uuid.UUID) ([]entity.Tag, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.rebind(`
SELECT category, value, confidence FROM tags WHERE document_id = ? ORDER BY category`), id.String())
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	out := make([]entity.Tag, 0)
	for rows.Next() {
		var t entity.Tag
		if err := rows.Scan(&t.Category, &t.Value, &t.Confidence); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
