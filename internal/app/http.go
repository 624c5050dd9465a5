package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"insight/api/internal/auth"
	"insight/api/internal/authpw"
	"insight/api/internal/generate"
	"insight/api/internal/search"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"userName":     session.UserName,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	// Public contributor and share views
	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" {
		switch parts[1] {
		case "invite":
			s.respond(w, r)(s.service.InviteView(r.Context(), parts[2]))
			return
		case "shared":
			s.respond(w, r)(s.service.SharedView(r.Context(), parts[2]))
			return
		case "quiz":
			s.respond(w, r)(s.service.QuizByShareToken(r.Context(), parts[2]))
			return
		}
	}

	// Note submission is public when it carries a contribution token;
	// owner submissions authenticate with the bearer token.
	if r.Method == http.MethodPost && r.URL.Path == "/api/notes" {
		s.handleSubmitNote(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/projects":
		var body struct {
			Name        string `json:"name"`
			ProjectGoal string `json:"project_goal"`
			ProjectType string `json:"project_type"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.CreateProject(r.Context(), session, body.Name, body.ProjectGoal, body.ProjectType))

	case r.Method == http.MethodGet && r.URL.Path == "/api/projects":
		s.respond(w, r)(s.service.ListProjects(r.Context(), session))

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "projects":
		s.respond(w, r)(s.service.GetProject(r.Context(), session, parts[2]))

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "notes":
		page := queryInt(r, "page", 1)
		s.respond(w, r)(s.service.ListNotes(r.Context(), session, parts[2], page, strings.TrimSpace(r.URL.Query().Get("contributor_filter"))))

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "search-notes":
		q := search.Query{
			ProjectID: parts[2],
			Text:      strings.TrimSpace(r.URL.Query().Get("q")),
			Tags:      splitTags(r.URL.Query().Get("tags")),
			Page:      queryInt(r, "page", 1),
			Mode:      search.Mode(strings.TrimSpace(r.URL.Query().Get("search_type"))),
		}
		s.respond(w, r)(s.service.SearchNotes(r.Context(), session, q))

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "get-tags":
		s.respond(w, r)(s.service.ProjectTags(r.Context(), session, parts[2]))

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "contributors":
		s.respond(w, r)(s.service.ProjectContributors(r.Context(), session, parts[2]))

	case r.Method == http.MethodPost && r.URL.Path == "/api/suggest-tags":
		var body struct {
			Content   string `json:"content"`
			ProjectID string `json:"project_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.SuggestTags(r.Context(), session, body.ProjectID, body.Content))

	case r.Method == http.MethodPost && r.URL.Path == "/api/generate-token":
		var body struct {
			Label     string `json:"label"`
			Prompt    string `json:"prompt"`
			ProjectID string `json:"project_id"`
			Email     string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.GenerateInviteToken(r.Context(), session, body.ProjectID, body.Label, body.Prompt, body.Email))

	case r.Method == http.MethodPost && r.URL.Path == "/api/generate-shared-token":
		var body struct {
			Prompt    string `json:"prompt"`
			ProjectID string `json:"project_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.GenerateSharedToken(r.Context(), session, body.ProjectID, body.Prompt))

	case r.Method == http.MethodPost && r.URL.Path == "/api/generate-notes":
		var body struct {
			ProjectID string `json:"project_id"`
			Topic     string `json:"topic"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.GenerateTopicNotes(r.Context(), session, body.ProjectID, body.Topic))

	case r.Method == http.MethodPost && r.URL.Path == "/api/generate-story":
		var body struct {
			ProjectID   string    `json:"project_id"`
			ProjectName string    `json:"project_name"`
			Tone        string    `json:"tone"`
			Notes       []noteRef `json:"notes"`
			SessionID   string    `json:"session_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.GenerateStory(r.Context(), session, StoryInput{
			ProjectID:   body.ProjectID,
			ProjectName: body.ProjectName,
			Tone:        body.Tone,
			Notes:       noteInputs(body.Notes),
			SessionID:   body.SessionID,
		}))

	case r.Method == http.MethodPost && r.URL.Path == "/api/generate-study-guide":
		var body struct {
			ProjectID   string    `json:"project_id"`
			ProjectName string    `json:"project_name"`
			Notes       []noteRef `json:"notes"`
			SessionID   string    `json:"session_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.GenerateStudyGuide(r.Context(), session, StudyGuideInput{
			ProjectID:   body.ProjectID,
			ProjectName: body.ProjectName,
			Notes:       noteInputs(body.Notes),
			SessionID:   body.SessionID,
		}))

	case r.Method == http.MethodPost && r.URL.Path == "/api/generate-quiz":
		var body struct {
			ProjectID       string    `json:"project_id"`
			Title           string    `json:"title"`
			NumQuestions    int       `json:"num_questions"`
			QuestionType    string    `json:"question_type"`
			Difficulty      string    `json:"difficulty"`
			KnowledgeSource string    `json:"knowledge_source"`
			Notes           []noteRef `json:"notes"`
			SessionID       string    `json:"session_id"`
			RequestID       string    `json:"request_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.GenerateQuiz(r.Context(), session, QuizInput{
			ProjectID:       body.ProjectID,
			Title:           body.Title,
			NumQuestions:    body.NumQuestions,
			QuestionType:    body.QuestionType,
			Difficulty:      body.Difficulty,
			KnowledgeSource: body.KnowledgeSource,
			Notes:           noteInputs(body.Notes),
			SessionID:       body.SessionID,
			RequestID:       body.RequestID,
		}))

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "quizzes":
		s.respond(w, r)(s.service.ListProjectQuizzes(r.Context(), session, parts[2]))

	case r.Method == http.MethodPost && r.URL.Path == "/api/generation-sessions":
		var body struct {
			ProjectID string `json:"project_id"`
			Action    string `json:"action"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.StartGenerationSession(r.Context(), session, body.ProjectID, body.Action))

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "generation-sessions":
		s.respond(w, r)(s.service.GetGenerationSession(r.Context(), session, parts[2]))

	case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "generation-sessions" && parts[3] == "search":
		var body struct {
			Query *string  `json:"q"`
			Tags  []string `json:"tags"`
			Page  *int     `json:"page"`
			Mode  *string  `json:"search_type"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.UpdateGenerationSession(r.Context(), session, parts[2], SessionSearchInput{
			Query: body.Query,
			Tags:  body.Tags,
			Page:  body.Page,
			Mode:  body.Mode,
		}))

	case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "generation-sessions" && parts[3] == "select":
		var body struct {
			Op     string `json:"op"`
			NoteID string `json:"note_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r)(s.service.SelectInGenerationSession(r.Context(), session, parts[2], SessionSelectInput{
			Op:     body.Op,
			NoteID: body.NoteID,
		}))

	case r.Method == http.MethodPost && r.URL.Path == "/api/transcribe":
		s.handleTranscribe(w, r, session)

	case r.Method == http.MethodPost && r.URL.Path == "/api/convert-document":
		s.handleConvertDocument(w, r, session)

	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "artifacts":
		s.respond(w, r)(s.service.ArtifactHistory(r.Context(), session, parts[2]))

	case r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "artifacts":
		kind := strings.TrimSpace(r.URL.Query().Get("kind"))
		if kind == "" {
			kind = string(generate.KindStory)
		}
		s.respond(w, r)(s.service.ArtifactContent(r.Context(), session, parts[2], parts[3], kind))

	case r.Method == http.MethodPost && r.URL.Path == "/api/export-artifact":
		s.handleExportArtifact(w, r, session)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

type noteRef struct {
	ID       string `json:"id"`
	LegacyID string `json:"_id"`
	Content  string `json:"content"`
}

func noteInputs(refs []noteRef) []generate.NoteInput {
	notes := make([]generate.NoteInput, 0, len(refs))
	for _, ref := range refs {
		id := ref.ID
		if id == "" {
			id = ref.LegacyID
		}
		notes = append(notes, generate.NoteInput{ID: id, Content: ref.Content})
	}
	return notes
}

func (s *HTTPServer) handleSubmitNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content          string   `json:"content"`
		ProjectID        string   `json:"project_id"`
		Tags             []string `json:"tags"`
		InviteToken      string   `json:"invite_token"`
		SharedToken      string   `json:"shared_token"`
		ContributorLabel string   `json:"contributor_label"`
		ActivePrompt     string   `json:"active_prompt"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	input := SubmitNoteInput{
		ProjectID:        body.ProjectID,
		Content:          body.Content,
		Tags:             body.Tags,
		InviteToken:      strings.TrimSpace(body.InviteToken),
		SharedToken:      strings.TrimSpace(body.SharedToken),
		ContributorLabel: body.ContributorLabel,
		ActivePrompt:     body.ActivePrompt,
	}

	if input.InviteToken == "" && input.SharedToken == "" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		input.Session = &session
	}

	s.respond(w, r)(s.service.SubmitNote(r.Context(), input))
}

func (s *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request, session Session) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "audio file is required", nil)
		return
	}
	defer file.Close()
	s.respond(w, r)(s.service.TranscribeAudio(r.Context(), session, header.Filename, file))
}

func (s *HTTPServer) handleConvertDocument(w http.ResponseWriter, r *http.Request, session Session) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()
	s.respond(w, r)(s.service.ConvertDocument(r.Context(), session, header.Filename, file))
}

func (s *HTTPServer) handleExportArtifact(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		ProjectID string `json:"project_id"`
		Kind      string `json:"kind"`
		Title     string `json:"title"`
		Content   string `json:"content"`
		Format    string `json:"format"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.ExportArtifact(r.Context(), session, ExportInput{
		ProjectID: body.ProjectID,
		Kind:      body.Kind,
		Title:     body.Title,
		Content:   body.Content,
		Format:    body.Format,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// respond adapts the (payload, error) service convention to one JSON reply.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request) func(payload map[string]any, err error) {
	return func(payload map[string]any, err error) {
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	pieces := strings.Split(raw, ",")
	values := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if trimmed := strings.TrimSpace(piece); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	emailConfigured := s.service.SMTPConfigured()
	if emailConfigured {
		s.service.SendVerificationEmail(body.Email, body.DisplayName, resp.VerificationToken)
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: include verification token in response when email not configured
	if !emailConfigured {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.IssueSession(r.Context(), resp.User)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	emailConfigured := s.service.SMTPConfigured()
	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if !emailConfigured && token != "" {
		response["devResetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}
