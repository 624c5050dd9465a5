package generate

import (
	"errors"
	"strings"
	"testing"
)

func sampleNotes() []NoteInput {
	return []NoteInput{
		{ID: "note_1", Content: "We danced all night"},
		{ID: "note_2", Content: "The cake had three tiers"},
	}
}

func TestStoryBuildRequestRefusesEmptySelection(t *testing.T) {
	s := StoryStrategy{ProjectName: "Anniversary", Tone: "Formal & Academic"}
	_, err := s.BuildRequest(nil)
	if !errors.Is(err, ErrNoNotes) {
		t.Fatalf("expected ErrNoNotes, got %v", err)
	}
}

func TestStoryBuildRequestIncludesNotesAndTone(t *testing.T) {
	s := StoryStrategy{ProjectName: "Anniversary", Tone: "Formal & Academic"}
	req, err := s.BuildRequest(sampleNotes())
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for _, want := range []string{"Formal & Academic", "We danced all night", "The cake had three tiers", "Anniversary"} {
		if !strings.Contains(req.User, want) {
			t.Errorf("request missing %q", want)
		}
	}
	if req.WantJSON {
		t.Error("story request should not force JSON output")
	}
}

func TestStoryParseResponseRejectsEmpty(t *testing.T) {
	s := StoryStrategy{}
	if _, err := s.ParseResponse("   \n"); err == nil {
		t.Fatal("expected error for empty response")
	}
	artifact, err := s.ParseResponse("Once upon a time.\n\nThe end.")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if artifact.Kind != KindStory || artifact.Story == "" {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
}

func TestStudyGuideParseStripsFences(t *testing.T) {
	s := StudyGuideStrategy{ProjectName: "Biology"}
	artifact, err := s.ParseResponse("```markdown\n# Cells\n- mitochondria\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if artifact.StudyGuide != "# Cells\n- mitochondria" {
		t.Fatalf("got %q", artifact.StudyGuide)
	}
}

func TestQuizValidateRejectsBadOptions(t *testing.T) {
	cases := []QuizStrategy{
		{Title: "", NumQuestions: 5, QuestionType: QuestionTrueFalse, Difficulty: DifficultyEasy, KnowledgeSource: SourceNotesOnly},
		{Title: "Q", NumQuestions: 0, QuestionType: QuestionTrueFalse, Difficulty: DifficultyEasy, KnowledgeSource: SourceNotesOnly},
		{Title: "Q", NumQuestions: 5, QuestionType: "essay", Difficulty: DifficultyEasy, KnowledgeSource: SourceNotesOnly},
		{Title: "Q", NumQuestions: 5, QuestionType: QuestionTrueFalse, Difficulty: "extreme", KnowledgeSource: SourceNotesOnly},
		{Title: "Q", NumQuestions: 5, QuestionType: QuestionTrueFalse, Difficulty: DifficultyEasy, KnowledgeSource: "wikipedia"},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestQuizNotesOnlyIncludesStrictInstruction(t *testing.T) {
	s := QuizStrategy{
		Title:           "History Check",
		NumQuestions:    10,
		QuestionType:    QuestionMultipleChoice,
		Difficulty:      DifficultyMedium,
		KnowledgeSource: SourceNotesOnly,
	}
	req, err := s.BuildRequest(sampleNotes())
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if !strings.Contains(req.User, "STRICT SOURCE CONSTRAINT") {
		t.Error("notes_only request missing strict source instruction")
	}
	if !strings.Contains(req.User, "insufficient_notes") {
		t.Error("notes_only request missing refusal shape")
	}
	if !req.WantJSON {
		t.Error("quiz request should force JSON output")
	}

	s.KnowledgeSource = SourceNotesAndAI
	req, err = s.BuildRequest(sampleNotes())
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if strings.Contains(req.User, "STRICT SOURCE CONSTRAINT") {
		t.Error("notes_and_ai request should not carry the strict instruction")
	}
}

func TestQuizParseResponseRefusal(t *testing.T) {
	s := QuizStrategy{Title: "T", QuestionType: QuestionTrueFalse, Difficulty: DifficultyEasy}
	_, err := s.ParseResponse(`{"insufficient_notes": true, "reason": "only two notes"}`)
	var insufficient *InsufficientNotesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientNotesError, got %v", err)
	}
	if insufficient.Reason != "only two notes" {
		t.Fatalf("got reason %q", insufficient.Reason)
	}
}

func TestQuizParseResponseFillsDefaults(t *testing.T) {
	s := QuizStrategy{Title: "Fallback Title", QuestionType: QuestionTrueFalse, Difficulty: DifficultyHard}
	raw := `{"questions": [{"question": "The cake had three tiers?", "options": ["True", "False"], "correct_answer": "True"}]}`
	artifact, err := s.ParseResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	quiz := artifact.Quiz
	if quiz.Title != "Fallback Title" {
		t.Errorf("title = %q", quiz.Title)
	}
	q := quiz.Questions[0]
	if q.QuestionType != QuestionTrueFalse || q.Difficulty != DifficultyHard {
		t.Errorf("defaults not applied: %+v", q)
	}
}

func TestQuizParseResponseRejectsMalformed(t *testing.T) {
	s := QuizStrategy{}
	for _, raw := range []string{
		"not json",
		`{"questions": []}`,
		`{"questions": [{"question": "", "correct_answer": "True"}]}`,
	} {
		if _, err := s.ParseResponse(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
