package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"insight/api/internal/store"
)

const idxNotes = "insight_notes"

// Meili indexes and searches notes via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the notes index.
// The caller should proceed without it when the instance stays unhealthy.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxNotes,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxNotes, err)
	}

	index := m.client.Index(idxNotes)
	filterable := []interface{}{"projectId", "tags", "contributorLabel", "source"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxNotes, err)
	}
	searchable := []string{"content", "contributorLabel", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxNotes, err)
	}
	sortable := []string{"createdAtUnix"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs for %s: %v", idxNotes, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs a paged note query against the index.
func (m *Meili) Search(q Query) (store.NotePage, error) {
	if !m.healthy.Load() {
		return store.NotePage{}, fmt.Errorf("meilisearch unhealthy")
	}

	page := q.Page
	if page < 1 {
		page = 1
	}

	filters := []string{fmt.Sprintf("projectId = %q", q.ProjectID)}
	for _, tag := range q.Tags {
		filters = append(filters, fmt.Sprintf("tags = %q", tag))
	}

	req := &meili.SearchRequest{
		Limit:  int64(store.NotesPerPage),
		Offset: int64((page - 1) * store.NotesPerPage),
		Filter: filters,
	}
	if q.Text == "" {
		req.Sort = []string{"createdAtUnix:desc"}
	}

	resp, err := m.client.Index(idxNotes).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return store.NotePage{}, fmt.Errorf("meilisearch search: %w", err)
	}

	notes := make([]store.Note, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		record, err := decodeHit(hit)
		if err != nil {
			log.Printf("search: skip malformed hit: %v", err)
			continue
		}
		notes = append(notes, record.toNote())
	}

	total := int(resp.EstimatedTotalHits)
	return store.NotePage{
		Notes:      notes,
		TotalNotes: total,
		TotalPages: (total + store.NotesPerPage - 1) / store.NotesPerPage,
	}, nil
}

func decodeHit(hit meili.Hit) (NoteRecord, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return NoteRecord{}, err
	}
	var record NoteRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return NoteRecord{}, err
	}
	if record.ID == "" {
		return NoteRecord{}, fmt.Errorf("hit missing id")
	}
	if record.CreatedAt.IsZero() && record.CreatedAtUnix != 0 {
		record.CreatedAt = time.Unix(record.CreatedAtUnix, 0).UTC()
	}
	return record, nil
}

// IndexNote adds or updates one note in the index.
func (m *Meili) IndexNote(record NoteRecord) error {
	_, err := m.client.Index(idxNotes).AddDocuments([]NoteRecord{record}, nil)
	return err
}

// IndexNotes bulk-indexes notes.
func (m *Meili) IndexNotes(records []NoteRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNotes).AddDocuments(records, nil)
	return err
}
