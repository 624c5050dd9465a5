package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"insight/api/internal/archive"
	"insight/api/internal/convert"
	"insight/api/internal/export"
	"insight/api/internal/generate"
	"insight/api/internal/render"
	"insight/api/internal/search"
	"insight/api/internal/selector"
	"insight/api/internal/store"
	"insight/api/internal/util"
)

type sessionStore interface {
	Save(ctx context.Context, session *selector.Session) error
	Get(ctx context.Context, id string) (*selector.Session, error)
	Delete(ctx context.Context, id string) error
}

type archiveStore interface {
	Save(projectID, kind, title, author, content string) (archive.Entry, error)
	History(projectID string, limit int) ([]archive.Entry, error)
	Content(projectID, hash, kind string) (string, error)
}

// Generation sessions — one per launched action, so a previous launch's
// selection can never leak into a new one.

func (s *Service) StartGenerationSession(ctx context.Context, session Session, projectID, action string) (map[string]any, error) {
	switch action {
	case string(generate.KindStory), string(generate.KindStudyGuide), string(generate.KindQuiz):
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown action", nil)
	}
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}

	sel := selector.NewSession(util.NewID("sel"), projectID, action, s.search.DefaultMode())
	if err := s.fetchSessionPage(ctx, sel); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sel); err != nil {
		return nil, err
	}
	return sessionView(sel), nil
}

func (s *Service) GetGenerationSession(ctx context.Context, session Session, sessionID string) (map[string]any, error) {
	sel, err := s.loadOwnedSession(ctx, session, sessionID)
	if err != nil {
		return nil, err
	}
	return sessionView(sel), nil
}

// SessionSearchInput updates the session's filters; nil fields keep their
// current value.
type SessionSearchInput struct {
	Query *string
	Tags  []string
	Page  *int
	Mode  *string
}

func (s *Service) UpdateGenerationSession(ctx context.Context, session Session, sessionID string, input SessionSearchInput) (map[string]any, error) {
	sel, err := s.loadOwnedSession(ctx, session, sessionID)
	if err != nil {
		return nil, err
	}

	if input.Query != nil {
		sel.SetQuery(strings.TrimSpace(*input.Query))
	}
	if input.Tags != nil {
		sel.SetTags(input.Tags)
	}
	if input.Mode != nil {
		sel.SetMode(search.Mode(*input.Mode))
	}
	if input.Page != nil {
		sel.SetPage(*input.Page)
	}

	if err := s.fetchSessionPage(ctx, sel); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sel); err != nil {
		return nil, err
	}
	return sessionView(sel), nil
}

// SessionSelectInput mutates the selection: toggle one note, select the
// visible page, or clear everything.
type SessionSelectInput struct {
	Op     string // toggle, select_page, clear
	NoteID string
}

func (s *Service) SelectInGenerationSession(ctx context.Context, session Session, sessionID string, input SessionSelectInput) (map[string]any, error) {
	sel, err := s.loadOwnedSession(ctx, session, sessionID)
	if err != nil {
		return nil, err
	}

	switch input.Op {
	case "toggle":
		if input.NoteID == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "note_id is required", nil)
		}
		sel.Toggle(input.NoteID)
	case "select_page":
		sel.SelectVisible()
	case "clear":
		sel.Clear()
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown select op", nil)
	}

	if err := s.sessions.Save(ctx, sel); err != nil {
		return nil, err
	}
	return sessionView(sel), nil
}

func (s *Service) fetchSessionPage(ctx context.Context, sel *selector.Session) error {
	query, revision := sel.NextQuery()
	page, mode, err := s.search.Search(ctx, query)
	if err != nil {
		return err
	}
	sel.Mode = mode
	sel.ApplyPage(revision, page)
	return nil
}

func (s *Service) loadOwnedSession(ctx context.Context, session Session, sessionID string) (*selector.Session, error) {
	sel, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, selector.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Generation session not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedProject(ctx, session, sel.ProjectID); err != nil {
		return nil, err
	}
	return sel, nil
}

func sessionView(sel *selector.Session) map[string]any {
	visible := make([]map[string]any, 0, len(sel.VisibleIDs))
	for _, n := range sel.VisibleNotes() {
		visible = append(visible, noteJSON(n))
	}
	selected := sel.Selected
	if selected == nil {
		selected = []string{}
	}
	return map[string]any{
		"session": map[string]any{
			"id":             sel.ID,
			"project_id":     sel.ProjectID,
			"action":         sel.Action,
			"query":          sel.Query,
			"tags":           sel.Tags,
			"page":           sel.Page,
			"total_pages":    sel.TotalPages,
			"total_notes":    sel.TotalNotes,
			"search_mode":    string(sel.Mode),
			"notes":          visible,
			"selected":       selected,
			"selected_count": len(selected),
		},
	}
}

// Generation actions

// resolveNotes picks the input set for one action: explicit id+content pairs
// from the request, or the saved session's selection.
func (s *Service) resolveNotes(ctx context.Context, session Session, sessionID string, explicit []generate.NoteInput) ([]generate.NoteInput, error) {
	if sessionID != "" {
		sel, err := s.loadOwnedSession(ctx, session, sessionID)
		if err != nil {
			return nil, err
		}
		selected := sel.SelectedNotes()
		notes := make([]generate.NoteInput, 0, len(selected))
		for _, n := range selected {
			notes = append(notes, generate.NoteInput{ID: n.ID, Content: n.Content})
		}
		return notes, nil
	}
	notes := make([]generate.NoteInput, 0, len(explicit))
	for _, n := range explicit {
		if strings.TrimSpace(n.Content) == "" {
			continue
		}
		notes = append(notes, n)
	}
	return notes, nil
}

type StoryInput struct {
	ProjectID   string
	ProjectName string
	Tone        string
	Notes       []generate.NoteInput
	SessionID   string
}

func (s *Service) GenerateStory(ctx context.Context, session Session, input StoryInput) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}
	notes, err := s.resolveNotes(ctx, session, input.SessionID, input.Notes)
	if err != nil {
		return nil, err
	}

	strategy := generate.StoryStrategy{ProjectName: projectName(project, input.ProjectName), Tone: input.Tone}
	req, err := strategy.BuildRequest(notes)
	if errors.Is(err, generate.ErrNoNotes) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no notes selected", nil)
	}
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if !s.aiEnabled() {
		return nil, aiDisabled()
	}

	raw, err := s.ai.Complete(ctx, "generate-story", req.System, req.User)
	if err != nil {
		return nil, generationFailed(err)
	}
	artifact, err := strategy.ParseResponse(raw)
	if err != nil {
		return nil, generationFailed(err)
	}

	payload := map[string]any{
		"story":      artifact.Story,
		"story_html": render.Prose(artifact.Story),
	}
	if entry, err := s.archive.Save(project.ID, string(generate.KindStory), project.Name, session.UserName, artifact.Story); err == nil {
		payload["archive_hash"] = entry.Hash
	} else {
		log.Printf("archive story for %s: %v", project.ID, err)
	}
	return payload, nil
}

type StudyGuideInput struct {
	ProjectID   string
	ProjectName string
	Notes       []generate.NoteInput
	SessionID   string
}

func (s *Service) GenerateStudyGuide(ctx context.Context, session Session, input StudyGuideInput) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}
	notes, err := s.resolveNotes(ctx, session, input.SessionID, input.Notes)
	if err != nil {
		return nil, err
	}

	strategy := generate.StudyGuideStrategy{ProjectName: projectName(project, input.ProjectName)}
	req, err := strategy.BuildRequest(notes)
	if errors.Is(err, generate.ErrNoNotes) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no notes selected", nil)
	}
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if !s.aiEnabled() {
		return nil, aiDisabled()
	}

	raw, err := s.ai.Complete(ctx, "generate-study-guide", req.System, req.User)
	if err != nil {
		return nil, generationFailed(err)
	}
	artifact, err := strategy.ParseResponse(raw)
	if err != nil {
		return nil, generationFailed(err)
	}

	payload := map[string]any{
		"study_guide":      artifact.StudyGuide,
		"study_guide_html": render.Markdown(artifact.StudyGuide),
	}
	if entry, err := s.archive.Save(project.ID, string(generate.KindStudyGuide), project.Name, session.UserName, artifact.StudyGuide); err == nil {
		payload["archive_hash"] = entry.Hash
	} else {
		log.Printf("archive study guide for %s: %v", project.ID, err)
	}
	return payload, nil
}

type QuizInput struct {
	ProjectID       string
	Title           string
	NumQuestions    int
	QuestionType    string
	Difficulty      string
	KnowledgeSource string
	Notes           []generate.NoteInput
	SessionID       string
	RequestID       string
}

func (s *Service) GenerateQuiz(ctx context.Context, session Session, input QuizInput) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}
	notes, err := s.resolveNotes(ctx, session, input.SessionID, input.Notes)
	if err != nil {
		return nil, err
	}

	strategy := generate.QuizStrategy{
		Title:           input.Title,
		NumQuestions:    input.NumQuestions,
		QuestionType:    input.QuestionType,
		Difficulty:      input.Difficulty,
		KnowledgeSource: input.KnowledgeSource,
	}
	req, err := strategy.BuildRequest(notes)
	if errors.Is(err, generate.ErrNoNotes) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no notes selected", nil)
	}
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if !s.aiEnabled() {
		return nil, aiDisabled()
	}

	// Client retries after a timeout must not double-create quizzes. A
	// request id claims the work; a repeat returns the quiz the first
	// attempt created.
	idemKey := ""
	if input.RequestID != "" {
		idemKey = "quiz:" + session.UserID + ":" + input.RequestID
		started, existingID, err := s.idem.Begin(ctx, idemKey)
		if err != nil {
			return nil, err
		}
		if !started {
			if existingID == "" {
				return nil, domainError(http.StatusConflict, "GENERATION_IN_PROGRESS", "This quiz is still being generated", nil)
			}
			return s.quizByID(ctx, project.ID, existingID)
		}
	}

	raw, err := s.ai.CompleteJSON(ctx, "generate-quiz", req.System, req.User)
	if err != nil {
		s.abortIdem(ctx, idemKey)
		return nil, generationFailed(err)
	}
	artifact, err := strategy.ParseResponse(raw)
	if err != nil {
		s.abortIdem(ctx, idemKey)
		var insufficient *generate.InsufficientNotesError
		if errors.As(err, &insufficient) {
			return nil, domainError(http.StatusUnprocessableEntity, "INSUFFICIENT_NOTES",
				"The selected notes do not support the requested quiz", map[string]any{"reason": insufficient.Reason})
		}
		return nil, generationFailed(err)
	}

	quiz := store.Quiz{
		ID:              util.NewID("quiz"),
		ProjectID:       project.ID,
		Title:           artifact.Quiz.Title,
		QuestionType:    input.QuestionType,
		Difficulty:      input.Difficulty,
		KnowledgeSource: input.KnowledgeSource,
		ShareToken:      util.NewToken(),
		CreatedAt:       time.Now().UTC(),
	}
	for i, q := range artifact.Quiz.Questions {
		quiz.Questions = append(quiz.Questions, store.QuizQuestion{
			ID:      util.NewID("qq"),
			QuizID:  quiz.ID,
			Ordinal: i + 1,
			Prompt:  q.Question,
			Choices: q.Options,
			Answer:  q.CorrectAnswer,
		})
	}
	if err := s.store.InsertQuiz(ctx, quiz); err != nil {
		s.abortIdem(ctx, idemKey)
		return nil, err
	}
	if idemKey != "" {
		if err := s.idem.Complete(ctx, idemKey, quiz.ID); err != nil {
			log.Printf("record idempotency for quiz %s: %v", quiz.ID, err)
		}
	}

	return map[string]any{
		"status":    "success",
		"quiz":      quizJSON(quiz),
		"share_url": s.cfg.BaseURL + "/quiz/" + quiz.ShareToken,
	}, nil
}

func (s *Service) abortIdem(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idem.Abort(ctx, key); err != nil {
		log.Printf("release idempotency claim %s: %v", key, err)
	}
}

func (s *Service) quizByID(ctx context.Context, projectID, quizID string) (map[string]any, error) {
	quizzes, err := s.store.ListQuizzes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, quiz := range quizzes {
		if quiz.ID == quizID {
			return map[string]any{
				"status":    "success",
				"quiz":      quizJSON(quiz),
				"share_url": s.cfg.BaseURL + "/quiz/" + quiz.ShareToken,
			}, nil
		}
	}
	return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Quiz not found", nil)
}

func (s *Service) ListProjectQuizzes(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	quizzes, err := s.store.ListQuizzes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(quizzes))
	for _, quiz := range quizzes {
		items = append(items, quizJSON(quiz))
	}
	return map[string]any{"quizzes": items}, nil
}

// QuizByShareToken serves the public quiz page.
func (s *Service) QuizByShareToken(ctx context.Context, shareToken string) (map[string]any, error) {
	quiz, err := s.store.GetQuizByShareToken(ctx, shareToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Quiz not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"quiz": quizJSON(quiz)}, nil
}

// GenerateTopicNotes drafts research notes about a topic and saves them to
// the project.
func (s *Service) GenerateTopicNotes(ctx context.Context, session Session, projectID, topic string) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	req, err := generate.BuildTopicNotesRequest(project.Name, topic, 5)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if !s.aiEnabled() {
		return nil, aiDisabled()
	}

	raw, err := s.ai.CompleteJSON(ctx, "generate-notes", req.System, req.User)
	if err != nil {
		return nil, generationFailed(err)
	}
	drafts, err := generate.ParseTopicNotes(raw)
	if err != nil {
		return nil, generationFailed(err)
	}

	saved := make([]map[string]any, 0, len(drafts))
	for _, draft := range drafts {
		note := store.Note{
			ID:               util.NewID("note"),
			ProjectID:        project.ID,
			ContributorLabel: "AI Research",
			Content:          draft,
			Tags:             []string{},
			Source:           store.SourceGenerated,
			CreatedAt:        time.Now().UTC(),
		}
		if err := s.store.InsertNote(ctx, note); err != nil {
			return nil, err
		}
		s.search.IndexNote(note)
		saved = append(saved, noteJSON(note))
	}
	return map[string]any{"notes": saved}, nil
}

// Voice and document capture

func (s *Service) TranscribeAudio(ctx context.Context, session Session, filename string, audio io.Reader) (map[string]any, error) {
	if !s.aiEnabled() {
		return nil, aiDisabled()
	}
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "audio file is empty", nil)
	}

	if s.uploads != nil {
		key := "audio/" + session.UserID + "/" + util.NewID("rec") + path.Ext(filename)
		if _, err := s.uploads.Put(ctx, key, "application/octet-stream", bytes.NewReader(data), int64(len(data))); err != nil {
			log.Printf("store audio upload: %v", err)
		}
	}

	text, err := s.ai.Transcribe(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return nil, generationFailed(err)
	}
	return map[string]any{"text": text}, nil
}

func (s *Service) ConvertDocument(ctx context.Context, session Session, filename string, file io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is empty", nil)
	}

	if s.uploads != nil {
		key := "documents/" + session.UserID + "/" + util.NewID("doc") + path.Ext(filename)
		if _, err := s.uploads.Put(ctx, key, "application/octet-stream", bytes.NewReader(data), int64(len(data))); err != nil {
			log.Printf("store document upload: %v", err)
		}
	}

	text, err := s.convert.ToText(ctx, filename, bytes.NewReader(data))
	switch {
	case errors.Is(err, convert.ErrNotConfigured):
		return nil, domainError(http.StatusServiceUnavailable, "CONVERSION_UNAVAILABLE", "Document conversion is not configured", nil)
	case errors.Is(err, convert.ErrUnsupportedFile):
		return nil, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE", "This file type cannot be converted", nil)
	case err != nil:
		return nil, domainError(http.StatusBadGateway, "CONVERSION_FAILED", "Document conversion failed", nil)
	}
	return map[string]any{"text": text}, nil
}

// Artifact history and export

func (s *Service) ArtifactHistory(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	entries, err := s.archive.History(projectID, 50)
	if err != nil {
		return nil, err
	}
	return map[string]any{"artifacts": entries}, nil
}

func (s *Service) ArtifactContent(ctx context.Context, session Session, projectID, hash, kind string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	content, err := s.archive.Content(projectID, hash, kind)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Artifact not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"kind":    kind,
		"content": content,
		"html":    artifactHTML(kind, content),
	}, nil
}

type ExportInput struct {
	ProjectID string
	Kind      string
	Title     string
	Content   string
	Format    string
}

func (s *Service) ExportArtifact(ctx context.Context, session Session, input ExportInput) (*export.Result, error) {
	project, err := s.ownedProject(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	format := export.Format(input.Format)
	if format == "" {
		format = export.FormatPDF
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = project.Name
	}

	result, err := export.Export(export.Request{
		Kind:        input.Kind,
		Title:       title,
		ProjectName: project.Name,
		Author:      session.UserName,
		ContentHTML: artifactHTML(input.Kind, input.Content),
		CreatedAt:   time.Now(),
		Format:      format,
	})
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func artifactHTML(kind, content string) string {
	if kind == string(generate.KindStudyGuide) {
		return render.Markdown(content)
	}
	return render.Prose(content)
}

func quizJSON(quiz store.Quiz) map[string]any {
	questions := make([]map[string]any, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		choices := q.Choices
		if choices == nil {
			choices = []string{}
		}
		questions = append(questions, map[string]any{
			"question":       q.Prompt,
			"options":        choices,
			"correct_answer": q.Answer,
		})
	}
	return map[string]any{
		"id":               quiz.ID,
		"project_id":       quiz.ProjectID,
		"title":            quiz.Title,
		"question_type":    quiz.QuestionType,
		"difficulty":       quiz.Difficulty,
		"knowledge_source": quiz.KnowledgeSource,
		"share_token":      quiz.ShareToken,
		"created_at":       quiz.CreatedAt,
		"questions":        questions,
	}
}

func projectName(project store.Project, override string) string {
	if name := strings.TrimSpace(override); name != "" {
		return name
	}
	return project.Name
}

func aiDisabled() error {
	return domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI features are not configured", nil)
}
