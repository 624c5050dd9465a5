package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotesPerPage is the fixed page size for note listings and searches.
const NotesPerPage = 10

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, COALESCE(verification_token, ''), created_at
		FROM users WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.VerificationToken, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, COALESCE(verification_token, ''), created_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.VerificationToken, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	return err
}

// ── Refresh sessions (Postgres fallback when Redis is absent) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	if err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ── Projects ──

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, goal, project_type)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.OwnerID, project.Name, project.Goal, project.ProjectType)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, goal, project_type, created_at
		FROM projects WHERE id=$1
	`, projectID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Goal, &p.ProjectType, &p.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListProjectsByOwner(ctx context.Context, ownerID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, goal, project_type, created_at
		FROM projects WHERE owner_id=$1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Goal, &p.ProjectType, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ── Notes ──

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) error {
	tags, err := json.Marshal(nonNilStrings(note.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, project_id, contributor_label, content, tags, source)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, note.ID, note.ProjectID, note.ContributorLabel, note.Content, tags, string(note.Source))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, projectID, noteID string) (Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, contributor_label, content, tags, source, created_at
		FROM notes WHERE project_id=$1 AND id=$2
	`, projectID, noteID)
	return scanNote(row)
}

func (s *PostgresStore) GetNotesByIDs(ctx context.Context, projectID string, noteIDs []string) ([]Note, error) {
	if len(noteIDs) == 0 {
		return []Note{}, nil
	}
	ids, err := json.Marshal(noteIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal note ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, contributor_label, content, tags, source, created_at
		FROM notes
		WHERE project_id=$1 AND id IN (SELECT jsonb_array_elements_text($2::jsonb))
		ORDER BY created_at DESC
	`, projectID, ids)
	if err != nil {
		return nil, fmt.Errorf("load notes by id: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// ListNotes returns one page of a project's notes, newest first, optionally
// restricted to a single contributor label.
func (s *PostgresStore) ListNotes(ctx context.Context, projectID string, page int, contributorFilter string) (NotePage, error) {
	if page < 1 {
		page = 1
	}
	where := "project_id=$1"
	args := []any{projectID}
	if strings.TrimSpace(contributorFilter) != "" {
		where += " AND contributor_label=$2"
		args = append(args, contributorFilter)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM notes WHERE `+where, args...).Scan(&total); err != nil {
		return NotePage{}, fmt.Errorf("count notes: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, project_id, contributor_label, content, tags, source, created_at
		FROM notes WHERE %s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d
	`, where, NotesPerPage, (page-1)*NotesPerPage)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return NotePage{}, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes, err := collectNotes(rows)
	if err != nil {
		return NotePage{}, err
	}
	return NotePage{Notes: notes, TotalPages: pageCount(total), TotalNotes: total}, nil
}

// ListTags returns the distinct lowercased tags used across a project.
func (s *PostgresStore) ListTags(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tag
		FROM notes, jsonb_array_elements_text(tags) AS tag
		WHERE project_id=$1
		ORDER BY tag
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *PostgresStore) ListContributors(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT contributor_label FROM notes WHERE project_id=$1 ORDER BY contributor_label
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	defer rows.Close()

	labels := make([]string, 0)
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// SampleTaggedNotes returns recent notes that carry at least one tag, used to
// teach the tag suggester the project's established vocabulary.
func (s *PostgresStore) SampleTaggedNotes(ctx context.Context, projectID string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, contributor_label, content, tags, source, created_at
		FROM notes
		WHERE project_id=$1 AND jsonb_array_length(tags) > 0
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("sample tagged notes: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// ── Invite tokens ──

func (s *PostgresStore) InsertInviteToken(ctx context.Context, token InviteToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invite_tokens (token, project_id, contributor_label, prompt)
		VALUES ($1, $2, $3, $4)
	`, token.Token, token.ProjectID, token.ContributorLabel, token.Prompt)
	if err != nil {
		return fmt.Errorf("insert invite token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInviteToken(ctx context.Context, token string) (InviteToken, error) {
	var t InviteToken
	err := s.db.QueryRowContext(ctx, `
		SELECT token, project_id, contributor_label, prompt, revoked_at, created_at
		FROM invite_tokens WHERE token=$1
	`, token).Scan(&t.Token, &t.ProjectID, &t.ContributorLabel, &t.Prompt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return InviteToken{}, err
	}
	return t, nil
}

func (s *PostgresStore) InsertSharedToken(ctx context.Context, token SharedToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_tokens (token, project_id, prompt)
		VALUES ($1, $2, $3)
	`, token.Token, token.ProjectID, token.Prompt)
	if err != nil {
		return fmt.Errorf("insert shared token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSharedToken(ctx context.Context, token string) (SharedToken, error) {
	var t SharedToken
	err := s.db.QueryRowContext(ctx, `
		SELECT token, project_id, prompt, revoked_at, created_at
		FROM shared_tokens WHERE token=$1
	`, token).Scan(&t.Token, &t.ProjectID, &t.Prompt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return SharedToken{}, err
	}
	return t, nil
}

// ── Quizzes ──

// InsertQuiz persists a quiz and its questions in one transaction. A failed
// generation therefore never leaves a partial quiz behind.
func (s *PostgresStore) InsertQuiz(ctx context.Context, quiz Quiz) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quiz tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quizzes (id, project_id, title, question_type, difficulty, knowledge_source, share_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, quiz.ID, quiz.ProjectID, quiz.Title, quiz.QuestionType, quiz.Difficulty, quiz.KnowledgeSource, quiz.ShareToken); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert quiz: %w", err)
	}

	for _, q := range quiz.Questions {
		choices, err := json.Marshal(nonNilStrings(q.Choices))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal choices: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quiz_questions (id, quiz_id, ordinal, prompt, choices, answer)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, q.ID, quiz.ID, q.Ordinal, q.Prompt, choices, q.Answer); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert quiz question: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quiz tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListQuizzes(ctx context.Context, projectID string) ([]Quiz, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, question_type, difficulty, knowledge_source, share_token, created_at
		FROM quizzes WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	quizzes := make([]Quiz, 0)
	for rows.Next() {
		var q Quiz
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Title, &q.QuestionType, &q.Difficulty, &q.KnowledgeSource, &q.ShareToken, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

func (s *PostgresStore) GetQuizByShareToken(ctx context.Context, shareToken string) (Quiz, error) {
	var quiz Quiz
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, question_type, difficulty, knowledge_source, share_token, created_at
		FROM quizzes WHERE share_token=$1
	`, shareToken).Scan(&quiz.ID, &quiz.ProjectID, &quiz.Title, &quiz.QuestionType, &quiz.Difficulty, &quiz.KnowledgeSource, &quiz.ShareToken, &quiz.CreatedAt)
	if err != nil {
		return Quiz{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quiz_id, ordinal, prompt, choices, answer
		FROM quiz_questions WHERE quiz_id=$1
		ORDER BY ordinal
	`, quiz.ID)
	if err != nil {
		return Quiz{}, fmt.Errorf("load quiz questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q QuizQuestion
		var choices []byte
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Ordinal, &q.Prompt, &choices, &q.Answer); err != nil {
			return Quiz{}, fmt.Errorf("scan quiz question: %w", err)
		}
		if err := json.Unmarshal(choices, &q.Choices); err != nil {
			return Quiz{}, fmt.Errorf("unmarshal choices: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return Quiz{}, err
	}
	return quiz, nil
}

// ── helpers ──

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var n Note
	var tags []byte
	var source string
	if err := row.Scan(&n.ID, &n.ProjectID, &n.ContributorLabel, &n.Content, &tags, &source, &n.CreatedAt); err != nil {
		return Note{}, err
	}
	if err := json.Unmarshal(tags, &n.Tags); err != nil {
		return Note{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	n.Source = NoteSource(source)
	return n, nil
}

func collectNotes(rows *sql.Rows) ([]Note, error) {
	notes := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func pageCount(total int) int {
	if total == 0 {
		return 0
	}
	return (total + NotesPerPage - 1) / NotesPerPage
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
