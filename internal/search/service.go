package search

import (
	"context"
	"log"

	"insight/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil when not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// DefaultMode reports the mode a fresh selector session should start in.
func (s *Service) DefaultMode() Mode {
	if s.meili != nil && s.meili.Healthy() {
		return ModeVector
	}
	return ModeKeyword
}

// Search serves one paged query and reports which mode actually answered it.
func (s *Service) Search(ctx context.Context, q Query) (store.NotePage, Mode, error) {
	if q.Mode != ModeKeyword && s.meili != nil && s.meili.Healthy() {
		page, err := s.meili.Search(q)
		if err == nil {
			return page, ModeVector, nil
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	page, err := s.pgfts.Search(ctx, q)
	if err != nil {
		return store.NotePage{}, ModeKeyword, err
	}
	return page, ModeKeyword, nil
}

// IndexNote pushes a note to Meilisearch (fire-and-forget).
func (s *Service) IndexNote(note store.Note) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromNote(note)
	go func() {
		if err := s.meili.IndexNote(record); err != nil {
			log.Printf("search: index note %s: %v", record.ID, err)
		}
	}()
}

// ReindexAllFromPG reindexes every note from PostgreSQL into Meilisearch.
// Called during bootstrap so a fresh Meilisearch instance catches up.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexNotes(records); err != nil {
		log.Printf("search: reindex notes: %v", err)
	}
}
