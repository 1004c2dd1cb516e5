package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sokdak/sokdak/common"
	"github.com/sokdak/sokdak/common/atomicfile"
)

// Storage persists the session and the pending PKCE verifier.
type Storage interface {
	// LoadSession returns the stored session, or nil if there is none.
	LoadSession() (*Session, error)
	SaveSession(*Session) error
	DeleteSession() error
	// LoadVerifier returns the stored code verifier, or "" if there is none.
	LoadVerifier() (string, error)
	SaveVerifier(string) error
	DeleteVerifier() error
}

// FileStorage keeps the session and verifier as JSON files in a directory.
type FileStorage struct {
	dir string
}

func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

func (fs *FileStorage) SessionPath() string {
	return filepath.Join(fs.dir, common.SessionFileName)
}

func (fs *FileStorage) verifierPath() string {
	return filepath.Join(fs.dir, common.VerifierFileName)
}

func (fs *FileStorage) LoadSession() (*Session, error) {
	var s Session
	err := atomicfile.ReadJSON(fs.SessionPath(), &s)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (fs *FileStorage) SaveSession(s *Session) error {
	if err := atomicfile.WriteJSON(fs.SessionPath(), s, 0o600); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (fs *FileStorage) DeleteSession() error {
	return removeIfExists(fs.SessionPath())
}

type verifierFile struct {
	CodeVerifier string `json:"code_verifier"`
}

func (fs *FileStorage) LoadVerifier() (string, error) {
	var v verifierFile
	err := atomicfile.ReadJSON(fs.verifierPath(), &v)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading code verifier: %w", err)
	}
	return v.CodeVerifier, nil
}

func (fs *FileStorage) SaveVerifier(verifier string) error {
	if err := atomicfile.WriteJSON(fs.verifierPath(), verifierFile{CodeVerifier: verifier}, 0o600); err != nil {
		return fmt.Errorf("saving code verifier: %w", err)
	}
	return nil
}

func (fs *FileStorage) DeleteVerifier() error {
	return removeIfExists(fs.verifierPath())
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
