// Package selector holds the per-launch note curation state: a paged,
// filterable search over a project's notes plus the ordered subset the owner
// has picked as input to one generation action. Each generation launch gets a
// fresh session so selections never leak between actions.
package selector

import (
	"time"

	"insight/api/internal/search"
	"insight/api/internal/store"
	"insight/api/internal/tags"
)

// Session is one generation launch's selection state. Candidates caches every
// note seen so far so a selection stays hydrated with full note content even
// after the note falls off the current page.
type Session struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`

	Query      string      `json:"query"`
	Tags       []string    `json:"tags"`
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
	TotalNotes int         `json:"total_notes"`
	Mode       search.Mode `json:"mode"`

	// Revision increments on every filter or page change. A fetched page is
	// applied only if it carries the revision current at apply time, so a
	// slow response can never overwrite newer state.
	Revision int `json:"revision"`

	Candidates map[string]store.Note `json:"candidates"`
	VisibleIDs []string              `json:"visible_ids"`
	Selected   []string              `json:"selected"`
}

// NewSession starts a fresh selection for one generation action.
func NewSession(id, projectID, action string, mode search.Mode) *Session {
	return &Session{
		ID:         id,
		ProjectID:  projectID,
		Action:     action,
		CreatedAt:  time.Now().UTC(),
		Page:       1,
		Mode:       mode,
		Candidates: make(map[string]store.Note),
		VisibleIDs: []string{},
		Selected:   []string{},
	}
}

// NextQuery describes the fetch the session currently needs, tagged with the
// revision the response must present to ApplyPage.
func (s *Session) NextQuery() (search.Query, int) {
	return search.Query{
		ProjectID: s.ProjectID,
		Text:      s.Query,
		Tags:      s.Tags,
		Page:      s.Page,
		Mode:      s.Mode,
	}, s.Revision
}

// SetQuery updates the text filter. Any filter change restarts pagination.
func (s *Session) SetQuery(q string) {
	if s.Query == q {
		return
	}
	s.Query = q
	s.Page = 1
	s.Revision++
}

// SetTags replaces the tag filter. Tags are normalized and deduplicated.
func (s *Session) SetTags(raw []string) {
	s.Tags = tags.Merge(nil, raw)
	s.Page = 1
	s.Revision++
}

// SetMode switches the search engine for subsequent fetches.
func (s *Session) SetMode(mode search.Mode) {
	if mode != search.ModeVector && mode != search.ModeKeyword {
		return
	}
	if s.Mode == mode {
		return
	}
	s.Mode = mode
	s.Page = 1
	s.Revision++
}

// SetPage moves pagination without touching filters.
func (s *Session) SetPage(p int) {
	if p < 1 {
		p = 1
	}
	if s.Page == p {
		return
	}
	s.Page = p
	s.Revision++
}

// ApplyPage installs a fetched page of results. It returns false without
// changing state when revision is stale, meaning the filters or page moved
// while the fetch was in flight. Previously selected notes are never dropped,
// even when they are not on the applied page.
func (s *Session) ApplyPage(revision int, page store.NotePage) bool {
	if revision != s.Revision {
		return false
	}
	s.VisibleIDs = s.VisibleIDs[:0]
	for _, note := range page.Notes {
		s.Candidates[note.ID] = note
		s.VisibleIDs = append(s.VisibleIDs, note.ID)
	}
	s.TotalPages = page.TotalPages
	s.TotalNotes = page.TotalNotes
	if s.TotalPages > 0 && s.Page > s.TotalPages {
		s.Page = s.TotalPages
	}
	return true
}

// Toggle flips a note in or out of the selection. Unknown ids are ignored so
// a selection can never contain a note without cached content.
func (s *Session) Toggle(noteID string) bool {
	if _, ok := s.Candidates[noteID]; !ok {
		return false
	}
	for i, id := range s.Selected {
		if id == noteID {
			s.Selected = append(s.Selected[:i], s.Selected[i+1:]...)
			return true
		}
	}
	s.Selected = append(s.Selected, noteID)
	return true
}

// SelectVisible selects every note on the current page. It deliberately does
// not reach across other pages of the result set.
func (s *Session) SelectVisible() {
	for _, id := range s.VisibleIDs {
		if !s.isSelected(id) {
			s.Selected = append(s.Selected, id)
		}
	}
}

// Clear empties the selection across all pages.
func (s *Session) Clear() {
	s.Selected = s.Selected[:0]
}

func (s *Session) isSelected(noteID string) bool {
	for _, id := range s.Selected {
		if id == noteID {
			return true
		}
	}
	return false
}

// SelectedNotes returns full note objects in selection order.
func (s *Session) SelectedNotes() []store.Note {
	notes := make([]store.Note, 0, len(s.Selected))
	for _, id := range s.Selected {
		if note, ok := s.Candidates[id]; ok {
			notes = append(notes, note)
		}
	}
	return notes
}

// VisibleNotes returns the current page's notes in result order.
func (s *Session) VisibleNotes() []store.Note {
	notes := make([]store.Note, 0, len(s.VisibleIDs))
	for _, id := range s.VisibleIDs {
		if note, ok := s.Candidates[id]; ok {
			notes = append(notes, note)
		}
	}
	return notes
}
