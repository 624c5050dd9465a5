package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"insight/api/internal/auth"
	"insight/api/internal/authpw"
	"insight/api/internal/config"
	"insight/api/internal/convert"
	"insight/api/internal/genai"
	"insight/api/internal/generate"
	"insight/api/internal/objstore"
	"insight/api/internal/search"
	"insight/api/internal/store"
	"insight/api/internal/tags"
	"insight/api/internal/util"
)

// Session is an authenticated owner request context.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	InsertProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]store.Project, error)

	InsertNote(ctx context.Context, note store.Note) error
	GetNotesByIDs(ctx context.Context, projectID string, noteIDs []string) ([]store.Note, error)
	ListNotes(ctx context.Context, projectID string, page int, contributorFilter string) (store.NotePage, error)
	ListTags(ctx context.Context, projectID string) ([]string, error)
	ListContributors(ctx context.Context, projectID string) ([]string, error)
	SampleTaggedNotes(ctx context.Context, projectID string, limit int) ([]store.Note, error)

	InsertInviteToken(ctx context.Context, token store.InviteToken) error
	GetInviteToken(ctx context.Context, token string) (store.InviteToken, error)
	InsertSharedToken(ctx context.Context, token store.SharedToken) error
	GetSharedToken(ctx context.Context, token string) (store.SharedToken, error)

	InsertQuiz(ctx context.Context, quiz store.Quiz) error
	ListQuizzes(ctx context.Context, projectID string) ([]store.Quiz, error)
	GetQuizByShareToken(ctx context.Context, shareToken string) (store.Quiz, error)
}

// refreshStore persists refresh tokens; Redis in production, Postgres as the
// fallback when Redis is not configured.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type aiClient interface {
	Complete(ctx context.Context, op, system, user string) (string, error)
	CompleteJSON(ctx context.Context, op, system, user string) (string, error)
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

type searchEngine interface {
	DefaultMode() search.Mode
	Search(ctx context.Context, q search.Query) (store.NotePage, search.Mode, error)
	IndexNote(note store.Note)
}

type emailSender interface {
	IsConfigured() bool
	SendInviteEmail(to, projectName, prompt, inviteURL string) error
	SendVerificationEmail(to, userName, verificationURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	refresh  refreshStore
	search   searchEngine
	sessions sessionStore
	archive  archiveStore
	ai       aiClient
	authpw   *authpw.Service
	email    emailSender
	uploads  *objstore.Store
	convert  *convert.Client
	idem     idempotencyStore
}

type Options struct {
	Config   config.Config
	Store    dataStore
	Refresh  refreshStore
	Search   searchEngine
	Sessions sessionStore
	Archive  archiveStore
	AI       aiClient
	AuthPW   *authpw.Service
	Email    emailSender
	Uploads  *objstore.Store
	Convert  *convert.Client
	// Redis holds the shared connection; nil falls back to in-memory
	// idempotency tracking.
	Redis *redis.Client
}

func New(opts Options) *Service {
	svc := &Service{
		cfg:      opts.Config,
		store:    opts.Store,
		refresh:  opts.Refresh,
		search:   opts.Search,
		sessions: opts.Sessions,
		archive:  opts.Archive,
		ai:       opts.AI,
		authpw:   opts.AuthPW,
		email:    opts.Email,
		uploads:  opts.Uploads,
		convert:  opts.Convert,
	}
	if opts.Redis != nil {
		svc.idem = newRedisIdempotency(opts.Redis)
	} else {
		svc.idem = newMemoryIdempotency()
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) aiEnabled() bool {
	return s.ai != nil
}

// SendVerificationEmail is best effort; signup succeeds either way.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	verifyURL := s.cfg.BaseURL + "/verify-email?token=" + token
	if err := s.email.SendVerificationEmail(to, userName, verifyURL); err != nil {
		log.Printf("verification email to %s failed: %v", to, err)
	}
}

// Sessions

func (s *Service) IssueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Projects

func (s *Service) CreateProject(ctx context.Context, session Session, name, goal, projectType string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if projectType == "" {
		projectType = "general"
	}
	project := store.Project{
		ID:          util.NewID("proj"),
		OwnerID:     session.UserID,
		Name:        name,
		Goal:        strings.TrimSpace(goal),
		ProjectType: projectType,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	return map[string]any{
		"status":  "success",
		"project": projectJSON(project),
	}, nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) (map[string]any, error) {
	projects, err := s.store.ListProjectsByOwner(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectJSON(p))
	}
	return map[string]any{"projects": items}, nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"project": projectJSON(project)}, nil
}

// ownedProject loads a project and checks the caller owns it.
func (s *Service) ownedProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
	}
	if err != nil {
		return store.Project{}, err
	}
	if project.OwnerID != session.UserID {
		return store.Project{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return project, nil
}

// Notes

// SubmitNoteInput carries one note submission from any entry path. Exactly
// one identity source applies: invite token, shared token, or owner session.
type SubmitNoteInput struct {
	ProjectID        string
	Content          string
	Tags             []string
	InviteToken      string
	SharedToken      string
	ContributorLabel string
	ActivePrompt     string
	Session          *Session
}

func (s *Service) SubmitNote(ctx context.Context, input SubmitNoteInput) (map[string]any, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	var (
		projectID string
		label     string
		source    store.NoteSource
		goal      string
	)

	switch {
	case input.InviteToken != "":
		invite, err := s.store.GetInviteToken(ctx, input.InviteToken)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && invite.RevokedAt != nil) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Invite not found", nil)
		}
		if err != nil {
			return nil, err
		}
		// the token's label always wins over anything the payload claims
		projectID = invite.ProjectID
		label = invite.ContributorLabel
		source = store.SourceInvite

	case input.SharedToken != "":
		shared, err := s.store.GetSharedToken(ctx, input.SharedToken)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && shared.RevokedAt != nil) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Shared link not found", nil)
		}
		if err != nil {
			return nil, err
		}
		label = strings.TrimSpace(input.ContributorLabel)
		if label == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "contributor_label is required for shared links", nil)
		}
		projectID = shared.ProjectID
		source = store.SourceShared

	case input.Session != nil:
		project, err := s.ownedProject(ctx, *input.Session, input.ProjectID)
		if err != nil {
			return nil, err
		}
		projectID = project.ID
		goal = project.Goal
		label = strings.TrimSpace(input.ContributorLabel)
		if label == "" {
			label = input.Session.UserName
		}
		source = store.SourceOwner

	default:
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}

	note := store.Note{
		ID:               util.NewID("note"),
		ProjectID:        projectID,
		ContributorLabel: label,
		Content:          content,
		Tags:             tags.Merge(nil, input.Tags),
		Source:           source,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	s.search.IndexNote(note)

	payload := map[string]any{"note": noteJSON(note)}

	// Contributors get follow-up questions to keep the conversation going.
	// A follow-up failure never fails the submission.
	if source == store.SourceInvite || source == store.SourceShared {
		if goal == "" {
			if project, err := s.store.GetProject(ctx, projectID); err == nil {
				goal = project.Goal
			}
		}
		if questions, err := s.followUps(ctx, goal, content); err == nil {
			payload["new_follow_ups"] = questions
		} else {
			log.Printf("follow-ups unavailable for note %s: %v", note.ID, err)
		}
	}

	return payload, nil
}

func (s *Service) followUps(ctx context.Context, goal, content string) ([]string, error) {
	if !s.aiEnabled() {
		return nil, errors.New("ai disabled")
	}
	req := generate.BuildFollowUpRequest(goal, content)
	raw, err := s.ai.CompleteJSON(ctx, "follow-ups", req.System, req.User)
	if err != nil {
		return nil, err
	}
	return generate.ParseFollowUps(raw)
}

func (s *Service) ListNotes(ctx context.Context, session Session, projectID string, page int, contributorFilter string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	result, err := s.store.ListNotes(ctx, projectID, page, contributorFilter)
	if err != nil {
		return nil, err
	}
	return notePageJSON(result), nil
}

func (s *Service) SearchNotes(ctx context.Context, session Session, q search.Query) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, q.ProjectID); err != nil {
		return nil, err
	}
	page, mode, err := s.search.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	payload := notePageJSON(page)
	payload["search_mode"] = string(mode)
	return payload, nil
}

func (s *Service) ProjectTags(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	values, err := s.store.ListTags(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tags": values}, nil
}

func (s *Service) ProjectContributors(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	labels, err := s.store.ListContributors(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contributors": labels}, nil
}

// SuggestTags proposes tags for unsaved content, anchored on the project's
// existing tagging style. Empty content is rejected before any provider call.
func (s *Service) SuggestTags(ctx context.Context, session Session, projectID, content string) (map[string]any, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if _, err := s.ownedProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	if !s.aiEnabled() {
		return map[string]any{"tags": []string{}}, nil
	}

	sampled, err := s.store.SampleTaggedNotes(ctx, projectID, 12)
	if err != nil {
		return nil, err
	}
	examples := make([]generate.TaggedExample, 0, len(sampled))
	for _, n := range sampled {
		examples = append(examples, generate.TaggedExample{Content: n.Content, Tags: n.Tags})
	}

	req, err := generate.BuildTagSuggestionRequest(content, examples)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	raw, err := s.ai.CompleteJSON(ctx, "suggest-tags", req.System, req.User)
	if err != nil {
		return nil, generationFailed(err)
	}
	suggested, err := generate.ParseTagSuggestions(raw)
	if err != nil {
		return nil, generationFailed(err)
	}
	return map[string]any{"tags": suggested}, nil
}

// Invite and shared tokens

func (s *Service) GenerateInviteToken(ctx context.Context, session Session, projectID, label, prompt, sendTo string) (map[string]any, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "label is required", nil)
	}
	project, err := s.ownedProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}

	invite := store.InviteToken{
		Token:            util.NewToken(),
		ProjectID:        project.ID,
		ContributorLabel: label,
		Prompt:           strings.TrimSpace(prompt),
	}
	if err := s.store.InsertInviteToken(ctx, invite); err != nil {
		return nil, err
	}

	inviteURL := s.cfg.BaseURL + "/invite/" + invite.Token
	if sendTo != "" && s.SMTPConfigured() {
		if err := s.email.SendInviteEmail(sendTo, project.Name, invite.Prompt, inviteURL); err != nil {
			log.Printf("invite email to %s failed: %v", sendTo, err)
		}
	}

	return map[string]any{
		"status":     "success",
		"label":      invite.ContributorLabel,
		"invite_url": inviteURL,
	}, nil
}

func (s *Service) GenerateSharedToken(ctx context.Context, session Session, projectID, prompt string) (map[string]any, error) {
	project, err := s.ownedProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	shared := store.SharedToken{
		Token:     util.NewToken(),
		ProjectID: project.ID,
		Prompt:    strings.TrimSpace(prompt),
	}
	if err := s.store.InsertSharedToken(ctx, shared); err != nil {
		return nil, err
	}
	return map[string]any{
		"status":     "success",
		"shared_url": s.cfg.BaseURL + "/share/" + shared.Token,
	}, nil
}

// InviteView is the public contributor-facing page payload.
func (s *Service) InviteView(ctx context.Context, token string) (map[string]any, error) {
	invite, err := s.store.GetInviteToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && invite.RevokedAt != nil) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Invite not found", nil)
	}
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, invite.ProjectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project_name":      project.Name,
		"contributor_label": invite.ContributorLabel,
		"prompt":            invite.Prompt,
	}, nil
}

// SharedView is the public shared-link page payload; the submitter supplies
// their own label at submission time.
func (s *Service) SharedView(ctx context.Context, token string) (map[string]any, error) {
	shared, err := s.store.GetSharedToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && shared.RevokedAt != nil) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Shared link not found", nil)
	}
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, shared.ProjectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project_name": project.Name,
		"prompt":       shared.Prompt,
	}, nil
}

// Payload helpers

func projectJSON(p store.Project) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"name":         p.Name,
		"project_goal": p.Goal,
		"project_type": p.ProjectType,
		"created_at":   p.CreatedAt,
	}
}

func noteJSON(n store.Note) map[string]any {
	noteTags := n.Tags
	if noteTags == nil {
		noteTags = []string{}
	}
	return map[string]any{
		"id":                  n.ID,
		"project_id":          n.ProjectID,
		"contributor_label":   n.ContributorLabel,
		"content":             n.Content,
		"tags":                noteTags,
		"source":              string(n.Source),
		"created_at":          n.CreatedAt,
		"formatted_timestamp": n.FormattedTimestamp(),
	}
}

func notePageJSON(page store.NotePage) map[string]any {
	notes := make([]map[string]any, 0, len(page.Notes))
	for _, n := range page.Notes {
		notes = append(notes, noteJSON(n))
	}
	return map[string]any{
		"notes":       notes,
		"total_pages": page.TotalPages,
		"total_notes": page.TotalNotes,
	}
}

func generationFailed(err error) error {
	if genai.IsGenerationError(err) {
		return domainError(http.StatusBadGateway, "GENERATION_FAILED", "The AI service could not complete the request", nil)
	}
	return domainError(http.StatusBadGateway, "GENERATION_FAILED", err.Error(), nil)
}
