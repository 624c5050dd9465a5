package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"insight/api/internal/archive"
	"insight/api/internal/config"
	"insight/api/internal/generate"
	"insight/api/internal/search"
	"insight/api/internal/selector"
	"insight/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	getProjectFn        func(context.Context, string) (store.Project, error)
	insertNoteFn        func(context.Context, store.Note) error
	getInviteTokenFn    func(context.Context, string) (store.InviteToken, error)
	getSharedTokenFn    func(context.Context, string) (store.SharedToken, error)
	sampleTaggedNotesFn func(context.Context, string, int) ([]store.Note, error)
	insertQuizFn        func(context.Context, store.Quiz) error
	listQuizzesFn       func(context.Context, string) ([]store.Quiz, error)
	getNotesByIDsFn     func(context.Context, string, []string) ([]store.Note, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Avery"}, nil
}
func (f *fakeStore) InsertProject(context.Context, store.Project) error { return nil }
func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{ID: projectID, OwnerID: "user-1", Name: "Family History", Goal: "Collect memories"}, nil
}
func (f *fakeStore) ListProjectsByOwner(context.Context, string) ([]store.Project, error) {
	return nil, nil
}
func (f *fakeStore) InsertNote(ctx context.Context, note store.Note) error {
	if f.insertNoteFn != nil {
		return f.insertNoteFn(ctx, note)
	}
	return nil
}
func (f *fakeStore) GetNotesByIDs(ctx context.Context, projectID string, noteIDs []string) ([]store.Note, error) {
	if f.getNotesByIDsFn != nil {
		return f.getNotesByIDsFn(ctx, projectID, noteIDs)
	}
	return nil, nil
}
func (f *fakeStore) ListNotes(context.Context, string, int, string) (store.NotePage, error) {
	return store.NotePage{}, nil
}
func (f *fakeStore) ListTags(context.Context, string) ([]string, error)         { return nil, nil }
func (f *fakeStore) ListContributors(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeStore) SampleTaggedNotes(ctx context.Context, projectID string, limit int) ([]store.Note, error) {
	if f.sampleTaggedNotesFn != nil {
		return f.sampleTaggedNotesFn(ctx, projectID, limit)
	}
	return nil, nil
}
func (f *fakeStore) InsertInviteToken(context.Context, store.InviteToken) error { return nil }
func (f *fakeStore) GetInviteToken(ctx context.Context, token string) (store.InviteToken, error) {
	if f.getInviteTokenFn != nil {
		return f.getInviteTokenFn(ctx, token)
	}
	return store.InviteToken{}, sql.ErrNoRows
}
func (f *fakeStore) InsertSharedToken(context.Context, store.SharedToken) error { return nil }
func (f *fakeStore) GetSharedToken(ctx context.Context, token string) (store.SharedToken, error) {
	if f.getSharedTokenFn != nil {
		return f.getSharedTokenFn(ctx, token)
	}
	return store.SharedToken{}, sql.ErrNoRows
}
func (f *fakeStore) InsertQuiz(ctx context.Context, quiz store.Quiz) error {
	if f.insertQuizFn != nil {
		return f.insertQuizFn(ctx, quiz)
	}
	return nil
}
func (f *fakeStore) ListQuizzes(ctx context.Context, projectID string) ([]store.Quiz, error) {
	if f.listQuizzesFn != nil {
		return f.listQuizzesFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) GetQuizByShareToken(context.Context, string) (store.Quiz, error) {
	return store.Quiz{}, sql.ErrNoRows
}

type fakeSearch struct {
	searchFn func(context.Context, search.Query) (store.NotePage, search.Mode, error)
	indexed  []store.Note
}

func (f *fakeSearch) DefaultMode() search.Mode { return search.ModeKeyword }
func (f *fakeSearch) Search(ctx context.Context, q search.Query) (store.NotePage, search.Mode, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return store.NotePage{}, search.ModeKeyword, nil
}
func (f *fakeSearch) IndexNote(note store.Note) { f.indexed = append(f.indexed, note) }

type fakeAI struct {
	completeFn     func(ctx context.Context, op, system, user string) (string, error)
	completeJSONFn func(ctx context.Context, op, system, user string) (string, error)
	transcribeFn   func(ctx context.Context, filename string, audio io.Reader) (string, error)
}

func (f *fakeAI) Complete(ctx context.Context, op, system, user string) (string, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, op, system, user)
	}
	return "", errors.New("unexpected Complete call")
}
func (f *fakeAI) CompleteJSON(ctx context.Context, op, system, user string) (string, error) {
	if f.completeJSONFn != nil {
		return f.completeJSONFn(ctx, op, system, user)
	}
	return "", errors.New("unexpected CompleteJSON call")
}
func (f *fakeAI) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if f.transcribeFn != nil {
		return f.transcribeFn(ctx, filename, audio)
	}
	return "", errors.New("unexpected Transcribe call")
}

type fakeRefresh struct {
	sessions map[string]string
}

func newFakeRefresh() *fakeRefresh { return &fakeRefresh{sessions: make(map[string]string)} }

func (f *fakeRefresh) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.sessions[tokenHash] = userID
	return nil
}
func (f *fakeRefresh) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID, DisplayName: "Avery"}, nil
}
func (f *fakeRefresh) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

type fakeArchive struct {
	saveFn    func(projectID, kind, title, author, content string) (archive.Entry, error)
	historyFn func(projectID string, limit int) ([]archive.Entry, error)
	contentFn func(projectID, hash, kind string) (string, error)
}

func (f *fakeArchive) Save(projectID, kind, title, author, content string) (archive.Entry, error) {
	if f.saveFn != nil {
		return f.saveFn(projectID, kind, title, author, content)
	}
	return archive.Entry{Hash: "abc1234", Kind: kind, Title: title, Author: author, CreatedAt: time.Now()}, nil
}
func (f *fakeArchive) History(projectID string, limit int) ([]archive.Entry, error) {
	if f.historyFn != nil {
		return f.historyFn(projectID, limit)
	}
	return nil, nil
}
func (f *fakeArchive) Content(projectID, hash, kind string) (string, error) {
	if f.contentFn != nil {
		return f.contentFn(projectID, hash, kind)
	}
	return "", archive.ErrNotFound
}

func newTestService(fs *fakeStore, fsr *fakeSearch, ai *fakeAI) *Service {
	svc := &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  24 * time.Hour,
			BaseURL:     "http://localhost:8686",
		},
		store:    fs,
		refresh:  newFakeRefresh(),
		search:   fsr,
		sessions: selector.NewMemoryStore(),
		archive:  &fakeArchive{},
		idem:     newMemoryIdempotency(),
	}
	if ai != nil {
		svc.ai = ai
	}
	return svc
}

func ownerSession() Session {
	return Session{UserID: "user-1", UserName: "Avery"}
}

func noteInputsForTest(id, content string) []generate.NoteInput {
	return []generate.NoteInput{{ID: id, Content: content}}
}

func TestSubmitNoteInviteTokenLabelWins(t *testing.T) {
	var inserted store.Note
	fs := &fakeStore{
		getInviteTokenFn: func(_ context.Context, token string) (store.InviteToken, error) {
			if token != "tok-uncle-bob" {
				t.Fatalf("unexpected token lookup %q", token)
			}
			return store.InviteToken{Token: token, ProjectID: "proj-1", ContributorLabel: "Uncle Bob"}, nil
		},
		insertNoteFn: func(_ context.Context, note store.Note) error {
			inserted = note
			return nil
		},
	}
	ai := &fakeAI{
		completeJSONFn: func(_ context.Context, op, _, _ string) (string, error) {
			if op != "follow-ups" {
				t.Fatalf("unexpected AI op %q", op)
			}
			return `{"questions": ["What year was that?", "Who else was there?", "How did it feel?"]}`, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{}, ai)

	payload, err := svc.SubmitNote(context.Background(), SubmitNoteInput{
		Content:          "We drove to the lake every summer.",
		InviteToken:      "tok-uncle-bob",
		ContributorLabel: "Someone Else Entirely",
	})
	if err != nil {
		t.Fatalf("SubmitNote() error = %v", err)
	}
	if inserted.ContributorLabel != "Uncle Bob" {
		t.Fatalf("expected invite label to win, got %q", inserted.ContributorLabel)
	}
	if inserted.ProjectID != "proj-1" {
		t.Fatalf("expected project from token, got %q", inserted.ProjectID)
	}
	if inserted.Source != store.SourceInvite {
		t.Fatalf("expected invite source, got %q", inserted.Source)
	}
	questions, ok := payload["new_follow_ups"].([]string)
	if !ok {
		t.Fatalf("expected follow-up questions in payload, got %T", payload["new_follow_ups"])
	}
	if len(questions) != 3 {
		t.Fatalf("expected exactly 3 follow-up questions, got %d", len(questions))
	}
}

func TestSubmitNoteSharedTokenRequiresLabel(t *testing.T) {
	fs := &fakeStore{
		getSharedTokenFn: func(_ context.Context, token string) (store.SharedToken, error) {
			return store.SharedToken{Token: token, ProjectID: "proj-1"}, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{}, nil)

	_, err := svc.SubmitNote(context.Background(), SubmitNoteInput{
		Content:     "A memory",
		SharedToken: "shared-1",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for missing contributor label, got %v", err)
	}

	var inserted store.Note
	fs.insertNoteFn = func(_ context.Context, note store.Note) error {
		inserted = note
		return nil
	}
	ai := &fakeAI{
		completeJSONFn: func(context.Context, string, string, string) (string, error) {
			return `{"questions": ["One?", "Two?", "Three?"]}`, nil
		},
	}
	svc = newTestService(fs, &fakeSearch{}, ai)
	if _, err := svc.SubmitNote(context.Background(), SubmitNoteInput{
		Content:          "A memory",
		SharedToken:      "shared-1",
		ContributorLabel: "Cousin Jo",
	}); err != nil {
		t.Fatalf("SubmitNote() with label error = %v", err)
	}
	if inserted.ContributorLabel != "Cousin Jo" {
		t.Fatalf("expected self-reported label, got %q", inserted.ContributorLabel)
	}
	if inserted.Source != store.SourceShared {
		t.Fatalf("expected shared source, got %q", inserted.Source)
	}
}

func TestSubmitNoteRevokedInviteTokenIsNotFound(t *testing.T) {
	revoked := time.Now().Add(-time.Hour)
	fs := &fakeStore{
		getInviteTokenFn: func(_ context.Context, token string) (store.InviteToken, error) {
			return store.InviteToken{Token: token, ProjectID: "proj-1", ContributorLabel: "Uncle Bob", RevokedAt: &revoked}, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{}, nil)

	_, err := svc.SubmitNote(context.Background(), SubmitNoteInput{
		Content:     "A memory",
		InviteToken: "tok-1",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for revoked token, got %v", err)
	}
}

func TestSubmitNoteEmptyContentRejected(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{}, nil)
	_, err := svc.SubmitNote(context.Background(), SubmitNoteInput{
		Content:     "   ",
		InviteToken: "tok-1",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for empty content, got %v", err)
	}
}

func TestSubmitNoteFollowUpFailureDoesNotFailSubmission(t *testing.T) {
	fs := &fakeStore{
		getInviteTokenFn: func(_ context.Context, token string) (store.InviteToken, error) {
			return store.InviteToken{Token: token, ProjectID: "proj-1", ContributorLabel: "Uncle Bob"}, nil
		},
	}
	ai := &fakeAI{
		completeJSONFn: func(context.Context, string, string, string) (string, error) {
			return "", errors.New("provider down")
		},
	}
	svc := newTestService(fs, &fakeSearch{}, ai)

	payload, err := svc.SubmitNote(context.Background(), SubmitNoteInput{
		Content:     "A memory",
		InviteToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("SubmitNote() error = %v", err)
	}
	if _, present := payload["new_follow_ups"]; present {
		t.Fatal("expected no follow-ups when the provider fails")
	}
}

func TestSubmitNoteOwnerGetsNoFollowUps(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{}, &fakeAI{
		completeJSONFn: func(context.Context, string, string, string) (string, error) {
			t.Fatal("owner submissions must not request follow-ups")
			return "", nil
		},
	})
	session := ownerSession()

	payload, err := svc.SubmitNote(context.Background(), SubmitNoteInput{
		ProjectID: "proj-1",
		Content:   "Owner note",
		Session:   &session,
	})
	if err != nil {
		t.Fatalf("SubmitNote() error = %v", err)
	}
	if _, present := payload["new_follow_ups"]; present {
		t.Fatal("expected no follow-ups for owner submissions")
	}
}

func TestSuggestTagsRejectsEmptyContentBeforeProviderCall(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{}, &fakeAI{
		completeJSONFn: func(context.Context, string, string, string) (string, error) {
			t.Fatal("provider must not be called for empty content")
			return "", nil
		},
	})

	_, err := svc.SuggestTags(context.Background(), ownerSession(), "proj-1", "  ")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for empty content, got %v", err)
	}
}

func TestSuggestTagsUsesProjectExamples(t *testing.T) {
	fs := &fakeStore{
		sampleTaggedNotesFn: func(_ context.Context, projectID string, limit int) ([]store.Note, error) {
			if projectID != "proj-1" {
				t.Fatalf("unexpected project %q", projectID)
			}
			return []store.Note{{Content: "Grandma's pie recipe", Tags: []string{"recipes", "grandma"}}}, nil
		},
	}
	ai := &fakeAI{
		completeJSONFn: func(_ context.Context, _, _, user string) (string, error) {
			if !strings.Contains(user, "Grandma's pie recipe") {
				t.Fatal("expected prompt to carry existing tagged examples")
			}
			return `{"tags": ["Recipes", "recipes", "holidays"]}`, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{}, ai)

	payload, err := svc.SuggestTags(context.Background(), ownerSession(), "proj-1", "Pecan pie at Thanksgiving")
	if err != nil {
		t.Fatalf("SuggestTags() error = %v", err)
	}
	suggested, ok := payload["tags"].([]string)
	if !ok || len(suggested) != 2 {
		t.Fatalf("expected 2 deduplicated tags, got %v", payload["tags"])
	}
}

func TestGenerateStoryRejectsEmptySelection(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{}, &fakeAI{
		completeFn: func(context.Context, string, string, string) (string, error) {
			t.Fatal("provider must not be called with no notes")
			return "", nil
		},
	})

	_, err := svc.GenerateStory(context.Background(), ownerSession(), StoryInput{ProjectID: "proj-1"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for empty selection, got %v", err)
	}
}

func TestGenerateStoryRendersProse(t *testing.T) {
	ai := &fakeAI{
		completeFn: func(_ context.Context, op, _, user string) (string, error) {
			if op != "generate-story" {
				t.Fatalf("unexpected op %q", op)
			}
			if !strings.Contains(user, "Tone: Formal & Academic") {
				t.Fatal("expected requested tone in prompt")
			}
			if !strings.Contains(user, "summer at the lake") || !strings.Contains(user, "the old rowboat") {
				t.Fatal("expected both notes in prompt")
			}
			return "The summers began at the lake.\nThe rowboat carried three generations.", nil
		},
	}
	svc := newTestService(&fakeStore{}, &fakeSearch{}, ai)

	payload, err := svc.GenerateStory(context.Background(), ownerSession(), StoryInput{
		ProjectID: "proj-1",
		Tone:      "Formal & Academic",
		Notes: []generate.NoteInput{
			{ID: "note-1", Content: "summer at the lake"},
			{ID: "note-2", Content: "the old rowboat"},
		},
	})
	if err != nil {
		t.Fatalf("GenerateStory() error = %v", err)
	}
	html, _ := payload["story_html"].(string)
	if !strings.Contains(html, "<br>") {
		t.Fatalf("expected line breaks in rendered story, got %q", html)
	}
	if payload["archive_hash"] != "abc1234" {
		t.Fatalf("expected archive hash in payload, got %v", payload["archive_hash"])
	}
}

func TestGenerateQuizDuplicateRequestReturnsExistingQuiz(t *testing.T) {
	insertCalls := 0
	var saved store.Quiz
	fs := &fakeStore{
		insertQuizFn: func(_ context.Context, quiz store.Quiz) error {
			insertCalls++
			saved = quiz
			return nil
		},
		listQuizzesFn: func(context.Context, string) ([]store.Quiz, error) {
			return []store.Quiz{saved}, nil
		},
	}
	aiCalls := 0
	ai := &fakeAI{
		completeJSONFn: func(context.Context, string, string, string) (string, error) {
			aiCalls++
			return `{"title": "Lake Quiz", "questions": [{"question": "Where did the summers happen?", "options": ["The lake", "The city", "The coast", "The mountains"], "correct_answer": "The lake"}]}`, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{}, ai)

	first, err := svc.GenerateQuiz(context.Background(), ownerSession(), QuizInput{
		ProjectID:       "proj-1",
		Title:           "Lake Quiz",
		NumQuestions:    1,
		QuestionType:    "multiple_choice",
		Difficulty:      "easy",
		KnowledgeSource: "notes_and_ai",
		Notes:           noteInputsForTest("note-1", "summer at the lake"),
		RequestID:       "req-1",
	})
	if err != nil {
		t.Fatalf("first GenerateQuiz() error = %v", err)
	}

	second, err := svc.GenerateQuiz(context.Background(), ownerSession(), QuizInput{
		ProjectID:       "proj-1",
		Title:           "Lake Quiz",
		NumQuestions:    1,
		QuestionType:    "multiple_choice",
		Difficulty:      "easy",
		KnowledgeSource: "notes_and_ai",
		Notes:           noteInputsForTest("note-1", "summer at the lake"),
		RequestID:       "req-1",
	})
	if err != nil {
		t.Fatalf("duplicate GenerateQuiz() error = %v", err)
	}

	if insertCalls != 1 {
		t.Fatalf("expected exactly one quiz insert, got %d", insertCalls)
	}
	if aiCalls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", aiCalls)
	}
	firstQuiz := first["quiz"].(map[string]any)
	secondQuiz := second["quiz"].(map[string]any)
	if firstQuiz["id"] != secondQuiz["id"] {
		t.Fatalf("expected duplicate to return the same quiz, got %v and %v", firstQuiz["id"], secondQuiz["id"])
	}
}

func TestGenerateQuizInFlightRequestConflicts(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{}, &fakeAI{})
	started, _, err := svc.idem.Begin(context.Background(), "quiz:user-1:req-9")
	if err != nil || !started {
		t.Fatalf("failed to seed pending claim: started=%v err=%v", started, err)
	}

	_, err = svc.GenerateQuiz(context.Background(), ownerSession(), QuizInput{
		ProjectID:       "proj-1",
		Title:           "Lake Quiz",
		NumQuestions:    1,
		QuestionType:    "true_false",
		Difficulty:      "easy",
		KnowledgeSource: "notes_and_ai",
		Notes:           noteInputsForTest("note-1", "summer at the lake"),
		RequestID:       "req-9",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 409 || domainErr.Code != "GENERATION_IN_PROGRESS" {
		t.Fatalf("expected 409 GENERATION_IN_PROGRESS, got %v", err)
	}
}

func TestGenerateQuizInsufficientNotes(t *testing.T) {
	insertCalls := 0
	fs := &fakeStore{
		insertQuizFn: func(context.Context, store.Quiz) error {
			insertCalls++
			return nil
		},
	}
	ai := &fakeAI{
		completeJSONFn: func(_ context.Context, _, _, user string) (string, error) {
			if !strings.Contains(user, "STRICT SOURCE CONSTRAINT") {
				t.Fatal("notes_only quiz prompt must carry the strict source constraint")
			}
			return `{"insufficient_notes": true, "reason": "Only one fact is present in the notes."}`, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{}, ai)

	_, err := svc.GenerateQuiz(context.Background(), ownerSession(), QuizInput{
		ProjectID:       "proj-1",
		Title:           "Lake Quiz",
		NumQuestions:    10,
		QuestionType:    "multiple_choice",
		Difficulty:      "hard",
		KnowledgeSource: "notes_only",
		Notes:           noteInputsForTest("note-1", "summer at the lake"),
		RequestID:       "req-2",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 || domainErr.Code != "INSUFFICIENT_NOTES" {
		t.Fatalf("expected 422 INSUFFICIENT_NOTES, got %v", err)
	}
	details, _ := domainErr.Details.(map[string]any)
	if details["reason"] != "Only one fact is present in the notes." {
		t.Fatalf("expected refusal reason in details, got %v", domainErr.Details)
	}
	if insertCalls != 0 {
		t.Fatal("no quiz must persist when the notes are insufficient")
	}

	// the claim is released, so the same request id can retry
	started, _, err := svc.idem.Begin(context.Background(), "quiz:user-1:req-2")
	if err != nil || !started {
		t.Fatalf("expected released claim after insufficiency, started=%v err=%v", started, err)
	}
}

func TestOwnedProjectChecks(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			if projectID == "missing" {
				return store.Project{}, sql.ErrNoRows
			}
			return store.Project{ID: projectID, OwnerID: "someone-else"}, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{}, nil)

	_, err := svc.GetProject(context.Background(), ownerSession(), "missing")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for missing project, got %v", err)
	}

	_, err = svc.GetProject(context.Background(), ownerSession(), "proj-2")
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for another owner's project, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{}, nil)
	issued, err := svc.IssueSession(context.Background(), store.User{ID: "user-1", DisplayName: "Avery"})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), issued.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken == issued.RefreshToken {
		t.Fatal("expected refresh token rotation")
	}

	if _, err := svc.Refresh(context.Background(), issued.RefreshToken); err == nil {
		t.Fatal("expected the old refresh token to be revoked")
	}
}
