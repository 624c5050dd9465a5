// Package archive keeps a versioned history of each project's generated
// artifacts in a per-project git repository. Every accepted story or study
// guide becomes one commit, so owners can list and recover earlier versions.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotFound reports a missing archive, commit, or artifact file.
var ErrNotFound = errors.New("archived artifact not found")

// Entry is one archived artifact version.
type Entry struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Save commits one artifact version to the project's archive, creating the
// repository on first use.
func (s *Service) Save(projectID, kind, title, author, content string) (Entry, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(projectID)
	if err != nil {
		return Entry{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}

	filename := artifactFile(kind)
	path := filepath.Join(worktree.Filesystem.Root(), filename)
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write artifact: %w", err)
	}
	if _, err := worktree.Add(filename); err != nil {
		return Entry{}, fmt.Errorf("stage artifact: %w", err)
	}

	hash, err := worktree.Commit(commitMessage(kind, title), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit artifact: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit: %w", err)
	}
	return toEntry(commitObj), nil
}

// History lists archived versions, newest first. A missing repository means
// nothing has been archived yet, which is an empty history, not an error.
func (s *Service) History(projectID string, limit int) ([]Entry, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Entry{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		entries = append(entries, toEntry(commitObj))
		if limit > 0 && len(entries) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return entries, nil
}

// Content returns the artifact text stored at one archived version.
func (s *Service) Content(projectID, hash, kind string) (string, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", ErrNotFound
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return "", ErrNotFound
	}

	file, err := commitObj.File(artifactFile(kind))
	if err != nil {
		return "", ErrNotFound
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return strings.TrimRight(content, "\n"), nil
}

func (s *Service) ensureRepo(projectID string) (*git.Repository, error) {
	path := s.repoPath(projectID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}

func artifactFile(kind string) string {
	switch kind {
	case "study_guide":
		return "study_guide.md"
	default:
		return "story.txt"
	}
}

func commitMessage(kind, title string) string {
	if title == "" {
		return kind
	}
	return kind + ": " + title
}

// toEntry splits the "kind: title" commit message back into its parts.
func toEntry(commitObj *object.Commit) Entry {
	message := strings.TrimSpace(commitObj.Message)
	kind := message
	title := ""
	if idx := strings.Index(message, ": "); idx >= 0 {
		kind = message[:idx]
		title = message[idx+2:]
	}
	return Entry{
		Hash:      commitObj.Hash.String()[:7],
		Kind:      kind,
		Title:     title,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	if author == "" {
		author = "Insight"
	}
	return &object.Signature{
		Name:  author,
		Email: sanitizeEmail(author) + "@local.insight.dev",
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return strings.ToLower(string(out))
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
