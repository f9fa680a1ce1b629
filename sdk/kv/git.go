package kv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	gitconfig "github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	log "github.com/sirupsen/logrus"
)

// GitConfig captures configuration for the git-backed store.
type GitConfig struct {
	// Dir is the local working tree.
	Dir string
	// RemoteURL is optional; without it commits stay local.
	RemoteURL string
	Username  string
	Password  string
}

// GitStore keeps one file per key in a git working tree and commits every mutation.
// When a remote is configured, each commit is pushed.
type GitStore struct {
	mu   sync.Mutex
	cfg  GitConfig
	repo *git.Repository
}

// NewGitStore opens, clones or initializes the repository at cfg.Dir.
func NewGitStore(cfg GitConfig) (*GitStore, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("git store: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("git store: resolve directory: %w", err)
	}
	cfg.Dir = abs
	cfg.RemoteURL = strings.TrimSpace(cfg.RemoteURL)
	s := &GitStore{cfg: cfg}
	if s.repo, err = s.ensureRepository(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GitStore) ensureRepository() (*git.Repository, error) {
	gitDir := filepath.Join(s.cfg.Dir, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("git store: stat repo: %w", err)
		}
		if errMk := os.MkdirAll(s.cfg.Dir, 0o700); errMk != nil {
			return nil, fmt.Errorf("git store: create repo dir: %w", errMk)
		}
		if s.cfg.RemoteURL == "" {
			repo, errInit := git.PlainInit(s.cfg.Dir, false)
			if errInit != nil {
				return nil, fmt.Errorf("git store: init repo: %w", errInit)
			}
			return repo, nil
		}
		repo, errClone := git.PlainClone(s.cfg.Dir, &git.CloneOptions{Auth: s.gitAuth(), URL: s.cfg.RemoteURL})
		if errClone == nil {
			return repo, nil
		}
		if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
			return nil, fmt.Errorf("git store: clone remote: %w", errClone)
		}
		_ = os.RemoveAll(gitDir)
		repo, errInit := git.PlainInit(s.cfg.Dir, false)
		if errInit != nil {
			return nil, fmt.Errorf("git store: init empty repo: %w", errInit)
		}
		if _, errCreate := repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: "origin",
			URLs: []string{s.cfg.RemoteURL},
		}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
			return nil, fmt.Errorf("git store: configure remote: %w", errCreate)
		}
		return repo, nil
	}

	repo, err := git.PlainOpen(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("git store: open repo: %w", err)
	}
	if s.cfg.RemoteURL == "" {
		return repo, nil
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("git store: worktree: %w", err)
	}
	if errPull := worktree.Pull(&git.PullOptions{Auth: s.gitAuth(), RemoteName: "origin"}); errPull != nil {
		switch {
		case errors.Is(errPull, git.NoErrAlreadyUpToDate),
			errors.Is(errPull, git.ErrUnstagedChanges),
			errors.Is(errPull, git.ErrNonFastForwardUpdate):
			// local changes win
		case errors.Is(errPull, transport.ErrAuthenticationRequired),
			errors.Is(errPull, plumbing.ErrReferenceNotFound),
			errors.Is(errPull, transport.ErrEmptyRemoteRepository):
		default:
			return nil, fmt.Errorf("git store: pull: %w", errPull)
		}
	}
	return repo, nil
}

// Dir returns the working tree directory.
func (s *GitStore) Dir() string { return s.cfg.Dir }

// Get implements Store.
func (s *GitStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.cfg.Dir, fileNameFor(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("git store: read %s: %w", key, err)
	}
	return data, true, nil
}

// Set implements Store.
func (s *GitStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fileNameFor(key)
	path := filepath.Join(s.cfg.Dir, name)
	if existing, err := os.ReadFile(path); err == nil && sameContent(existing, value) {
		return nil
	}
	if err := os.WriteFile(path, value, 0o600); err != nil {
		return wrapWriteError("git store: write "+key, err)
	}
	return s.commitAndPushLocked("Update "+key, name)
}

// Delete implements Store.
func (s *GitStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fileNameFor(key)
	if err := os.Remove(filepath.Join(s.cfg.Dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("git store: delete %s: %w", key, err)
	}
	return s.commitAndPushLocked("Delete "+key, name)
}

// Clear implements Store.
func (s *GitStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("git store: list directory: %w", err)
	}
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := keyForFileName(entry.Name()); !ok {
			continue
		}
		if errRemove := os.Remove(filepath.Join(s.cfg.Dir, entry.Name())); errRemove != nil && !errors.Is(errRemove, fs.ErrNotExist) {
			return fmt.Errorf("git store: clear %s: %w", entry.Name(), errRemove)
		}
		removed = append(removed, entry.Name())
	}
	return s.commitAndPushLocked("Clear store", removed...)
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return nil
	}
	user := s.cfg.Username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.cfg.Password}
}

func (s *GitStore) commitAndPushLocked(message string, relPaths ...string) error {
	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	added := false
	for _, rel := range relPaths {
		if _, err = worktree.Add(rel); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("git store: add %s: %w", rel, err)
			}
			if _, errRemove := worktree.Remove(rel); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return fmt.Errorf("git store: remove %s: %w", rel, errRemove)
			}
		}
		added = true
	}
	if !added {
		return nil
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "AuthBridge",
		Email: "authbridge@local",
		When:  time.Now(),
	}
	if _, err = worktree.Commit(message, &git.CommitOptions{Author: signature}); err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	if s.cfg.RemoteURL == "" {
		return nil
	}
	if err = s.repo.Push(&git.PushOptions{Auth: s.gitAuth()}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		log.WithError(err).Warn("git store: push failed, commit kept locally")
	}
	return nil
}
