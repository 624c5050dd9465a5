package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"insight/api/internal/store"
)

// PgFTS implements keyword note search on PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a paged query over a project's notes. An empty query text lists
// the project newest-first; tag filters require every named tag.
func (p *PgFTS) Search(ctx context.Context, q Query) (store.NotePage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}

	where := []string{"project_id = $1"}
	args := []any{q.ProjectID}
	argN := 2

	text := strings.TrimSpace(q.Text)
	orderBy := "created_at DESC"
	if text != "" {
		where = append(where, fmt.Sprintf("fts @@ plainto_tsquery('english', $%d)", argN))
		orderBy = fmt.Sprintf("ts_rank(fts, plainto_tsquery('english', $%d)) DESC, created_at DESC", argN)
		args = append(args, text)
		argN++
	}
	for _, tag := range q.Tags {
		tagJSON, err := json.Marshal([]string{tag})
		if err != nil {
			return store.NotePage{}, fmt.Errorf("marshal tag filter: %w", err)
		}
		where = append(where, fmt.Sprintf("tags @> $%d::jsonb", argN))
		args = append(args, string(tagJSON))
		argN++
	}

	whereSQL := strings.Join(where, " AND ")

	var total int
	countSQL := "SELECT count(*) FROM notes WHERE " + whereSQL
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return store.NotePage{}, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, project_id, contributor_label, content, tags, source, created_at
		FROM notes
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d
	`, whereSQL, orderBy, store.NotesPerPage, (page-1)*store.NotesPerPage)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return store.NotePage{}, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	notes := make([]store.Note, 0)
	for rows.Next() {
		var n store.Note
		var tagsRaw []byte
		var source string
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.ContributorLabel, &n.Content, &tagsRaw, &source, &n.CreatedAt); err != nil {
			return store.NotePage{}, fmt.Errorf("pgfts scan: %w", err)
		}
		if err := json.Unmarshal(tagsRaw, &n.Tags); err != nil {
			return store.NotePage{}, fmt.Errorf("pgfts unmarshal tags: %w", err)
		}
		n.Source = store.NoteSource(source)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return store.NotePage{}, err
	}

	return store.NotePage{
		Notes:      notes,
		TotalNotes: total,
		TotalPages: (total + store.NotesPerPage - 1) / store.NotesPerPage,
	}, nil
}

// LoadAllRecords returns every note as an index document for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, contributor_label, content, tags, source, created_at
		FROM notes
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()

	records := make([]NoteRecord, 0)
	for rows.Next() {
		var n store.Note
		var tagsRaw []byte
		var source string
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.ContributorLabel, &n.Content, &tagsRaw, &source, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		if err := json.Unmarshal(tagsRaw, &n.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		n.Source = store.NoteSource(source)
		records = append(records, RecordFromNote(n))
	}
	return records, rows.Err()
}
