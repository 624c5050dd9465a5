// Package generate turns a curated note selection into a derivative artifact
// by building one request per action kind, calling the AI provider, and
// parsing the single response. There is no multi-turn conversation and no
// streaming; each action is one request and one parsed reply.
package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind names one generation action.
type Kind string

const (
	KindStory      Kind = "story"
	KindStudyGuide Kind = "study_guide"
	KindQuiz       Kind = "quiz"
)

const (
	QuestionMultipleChoice = "multiple_choice"
	QuestionTrueFalse      = "true_false"

	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"

	SourceNotesOnly  = "notes_only"
	SourceNotesAndAI = "notes_and_ai"
)

// ErrNoNotes rejects a generation launched with an empty selection. Callers
// must check before any provider call is made.
var ErrNoNotes = errors.New("no notes selected")

// InsufficientNotesError reports that the provider, under the notes_only
// constraint, declined to fabricate questions beyond what the notes support.
type InsufficientNotesError struct {
	Reason string
}

func (e *InsufficientNotesError) Error() string {
	if e.Reason == "" {
		return "notes are insufficient for the requested quiz"
	}
	return "insufficient notes: " + e.Reason
}

// NoteInput is the id+content pair every action sends to the provider.
type NoteInput struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Request is one outbound provider call. WantJSON forces JSON-object output.
type Request struct {
	System   string
	User     string
	WantJSON bool
}

// Artifact is the tagged result of one action. Exactly one payload field is
// populated, matching Kind.
type Artifact struct {
	Kind       Kind
	Story      string
	StudyGuide string
	Quiz       *QuizArtifact
}

// QuizArtifact is the parsed quiz payload before persistence.
type QuizArtifact struct {
	Title     string         `json:"title"`
	Questions []QuizQuestion `json:"questions"`
}

type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	QuestionType  string   `json:"question_type"`
	Difficulty    string   `json:"difficulty"`
}

// Strategy is one action's request builder and response parser. The three
// strategies share the selection flow and diverge only here.
type Strategy interface {
	Kind() Kind
	BuildRequest(notes []NoteInput) (Request, error)
	ParseResponse(raw string) (Artifact, error)
}

// StoryStrategy synthesizes selected notes into a narrative in a given tone.
type StoryStrategy struct {
	ProjectName string
	Tone        string
}

func (s StoryStrategy) Kind() Kind { return KindStory }

func (s StoryStrategy) BuildRequest(notes []NoteInput) (Request, error) {
	if len(notes) == 0 {
		return Request{}, ErrNoNotes
	}
	tone := strings.TrimSpace(s.Tone)
	if tone == "" {
		tone = "Warm & Heartfelt"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\nTone: %s\n\n", s.ProjectName, tone)
	b.WriteString("Notes:\n")
	writeNotes(&b, notes)
	b.WriteString("\nWeave these notes into a single fluid narrative. Connect the ideas, infer the themes that link them, and give the piece a clear arc from opening to close. Write in the requested tone. Return only the narrative prose, with paragraphs separated by blank lines. Do not include a title, headings, or commentary about the notes themselves.")
	return Request{
		System: "You are a skilled writer who turns collections of raw notes into polished narratives.",
		User:   b.String(),
	}, nil
}

func (s StoryStrategy) ParseResponse(raw string) (Artifact, error) {
	story := strings.TrimSpace(raw)
	if story == "" {
		return Artifact{}, errors.New("empty story response")
	}
	return Artifact{Kind: KindStory, Story: story}, nil
}

// StudyGuideStrategy structures selected notes into a markdown study guide.
type StudyGuideStrategy struct {
	ProjectName string
}

func (s StudyGuideStrategy) Kind() Kind { return KindStudyGuide }

func (s StudyGuideStrategy) BuildRequest(notes []NoteInput) (Request, error) {
	if len(notes) == 0 {
		return Request{}, ErrNoNotes
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\nNotes:\n", s.ProjectName)
	writeNotes(&b, notes)
	b.WriteString("\nOrganize these notes into a study guide. Group related notes under topic headings, summarize the key points of each topic, and list the important facts as bullet points. Use simple markdown only: # and ## headings, - bullet lists, **bold** for key terms. Return only the study guide.")
	return Request{
		System: "You are a tutor who organizes raw notes into clear, well-structured study guides.",
		User:   b.String(),
	}, nil
}

func (s StudyGuideStrategy) ParseResponse(raw string) (Artifact, error) {
	guide := strings.TrimSpace(stripFences(raw))
	if guide == "" {
		return Artifact{}, errors.New("empty study guide response")
	}
	return Artifact{Kind: KindStudyGuide, StudyGuide: guide}, nil
}

// QuizStrategy produces a persisted-shape quiz from the selected notes.
type QuizStrategy struct {
	Title           string
	NumQuestions    int
	QuestionType    string
	Difficulty      string
	KnowledgeSource string
}

func (s QuizStrategy) Kind() Kind { return KindQuiz }

// Validate checks the option enums before any provider call.
func (s QuizStrategy) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("title is required")
	}
	if s.NumQuestions < 1 || s.NumQuestions > 50 {
		return errors.New("num_questions must be between 1 and 50")
	}
	switch s.QuestionType {
	case QuestionMultipleChoice, QuestionTrueFalse:
	default:
		return fmt.Errorf("unknown question_type %q", s.QuestionType)
	}
	switch s.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("unknown difficulty %q", s.Difficulty)
	}
	switch s.KnowledgeSource {
	case SourceNotesOnly, SourceNotesAndAI:
	default:
		return fmt.Errorf("unknown knowledge_source %q", s.KnowledgeSource)
	}
	return nil
}

func (s QuizStrategy) BuildRequest(notes []NoteInput) (Request, error) {
	if len(notes) == 0 {
		return Request{}, ErrNoNotes
	}
	if err := s.Validate(); err != nil {
		return Request{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Quiz title: %s\nQuestions: %d\nQuestion type: %s\nDifficulty: %s\n\nNotes:\n",
		s.Title, s.NumQuestions, s.QuestionType, s.Difficulty)
	writeNotes(&b, notes)

	b.WriteString("\nGenerate the quiz as a JSON object with this exact shape:\n")
	b.WriteString(`{"title": string, "questions": [{"question": string, "options": [string], "correct_answer": string, "question_type": string, "difficulty": string}]}`)
	b.WriteString("\nFor true_false questions, options must be exactly [\"True\", \"False\"]. For multiple_choice, provide 4 options. correct_answer must match one option verbatim.\n")

	if s.KnowledgeSource == SourceNotesOnly {
		b.WriteString("\nSTRICT SOURCE CONSTRAINT: every question and every correct answer must be derived strictly from the notes above. Do not use outside knowledge, do not invent facts, and do not pad with questions the notes cannot support. If the notes do not contain enough material for ")
		fmt.Fprintf(&b, "%d distinct questions, do not fabricate: instead return exactly ", s.NumQuestions)
		b.WriteString(`{"insufficient_notes": true, "reason": string}` + " and nothing else.")
	} else {
		b.WriteString("\nUse the notes as the primary source and supplement with your general knowledge of the topics they cover where it improves the questions.")
	}

	return Request{
		System:   "You are a quiz author. You respond only with valid JSON.",
		User:     b.String(),
		WantJSON: true,
	}, nil
}

func (s QuizStrategy) ParseResponse(raw string) (Artifact, error) {
	cleaned := strings.TrimSpace(stripFences(raw))

	var refusal struct {
		InsufficientNotes bool   `json:"insufficient_notes"`
		Reason            string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleaned), &refusal); err == nil && refusal.InsufficientNotes {
		return Artifact{}, &InsufficientNotesError{Reason: refusal.Reason}
	}

	var quiz QuizArtifact
	if err := json.Unmarshal([]byte(cleaned), &quiz); err != nil {
		return Artifact{}, fmt.Errorf("malformed quiz response: %w", err)
	}
	if len(quiz.Questions) == 0 {
		return Artifact{}, errors.New("quiz response contains no questions")
	}
	if quiz.Title == "" {
		quiz.Title = s.Title
	}
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		if q.QuestionType == "" {
			q.QuestionType = s.QuestionType
		}
		if q.Difficulty == "" {
			q.Difficulty = s.Difficulty
		}
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.CorrectAnswer) == "" {
			return Artifact{}, fmt.Errorf("quiz question %d is incomplete", i+1)
		}
	}
	return Artifact{Kind: KindQuiz, Quiz: &quiz}, nil
}

func writeNotes(b *strings.Builder, notes []NoteInput) {
	for i, n := range notes {
		fmt.Fprintf(b, "%d. [%s] %s\n", i+1, n.ID, n.Content)
	}
}

// stripFences removes a markdown code fence wrapping, which some models add
// around JSON or markdown payloads despite instructions.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
