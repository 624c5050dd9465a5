// Package search finds notes within a project. Meilisearch provides the
// semantic "vector" mode; PostgreSQL full-text search is the "keyword"
// fallback when Meilisearch is unavailable or explicitly requested.
package search

import (
	"time"

	"insight/api/internal/store"
)

// Mode names the engine that served a search.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
)

// Query describes one paged note search.
type Query struct {
	ProjectID string
	Text      string
	Tags      []string
	Page      int
	Mode      Mode // empty means "best available"
}

// NoteRecord is the denormalized note document held in the search index.
type NoteRecord struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	Content          string    `json:"content"`
	ContributorLabel string    `json:"contributorLabel"`
	Tags             []string  `json:"tags"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"createdAt"`
	CreatedAtUnix    int64     `json:"createdAtUnix"`
}

// RecordFromNote converts a stored note into its index document.
func RecordFromNote(note store.Note) NoteRecord {
	return NoteRecord{
		ID:               note.ID,
		ProjectID:        note.ProjectID,
		Content:          note.Content,
		ContributorLabel: note.ContributorLabel,
		Tags:             note.Tags,
		Source:           string(note.Source),
		CreatedAt:        note.CreatedAt,
		CreatedAtUnix:    note.CreatedAt.Unix(),
	}
}

func (r NoteRecord) toNote() store.Note {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return store.Note{
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		Content:          r.Content,
		ContributorLabel: r.ContributorLabel,
		Tags:             tags,
		Source:           store.NoteSource(r.Source),
		CreatedAt:        r.CreatedAt,
	}
}
