package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

type Project struct {
	ID          string
	OwnerID     string
	Name        string
	Goal        string
	ProjectType string
	CreatedAt   time.Time
}

// NoteSource records how a note entered the project.
type NoteSource string

const (
	SourceOwner     NoteSource = "owner"
	SourceInvite    NoteSource = "invite"
	SourceShared    NoteSource = "shared"
	SourceGenerated NoteSource = "generated"
	SourceImport    NoteSource = "import"
)

type Note struct {
	ID               string
	ProjectID        string
	ContributorLabel string
	Content          string
	Tags             []string
	Source           NoteSource
	CreatedAt        time.Time
}

// FormattedTimestamp is the display form the clients render verbatim.
func (n Note) FormattedTimestamp() string {
	return n.CreatedAt.Format("January 2, 2006, 3:04 PM")
}

type InviteToken struct {
	Token            string
	ProjectID        string
	ContributorLabel string
	Prompt           string
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

type SharedToken struct {
	Token     string
	ProjectID string
	Prompt    string
	RevokedAt *time.Time
	CreatedAt time.Time
}

type Quiz struct {
	ID              string
	ProjectID       string
	Title           string
	QuestionType    string
	Difficulty      string
	KnowledgeSource string
	ShareToken      string
	Questions       []QuizQuestion
	CreatedAt       time.Time
}

type QuizQuestion struct {
	ID       string
	QuizID   string
	Ordinal  int
	Prompt   string
	Choices  []string
	Answer   string
}

// NotePage is one page of a note listing or search.
type NotePage struct {
	Notes      []Note
	TotalPages int
	TotalNotes int
}
