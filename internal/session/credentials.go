package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Credentials are the identity a profile signs in with.
type Credentials struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// SaveCredentials writes creds to path with owner-only permissions.
func SaveCredentials(path string, creds Credentials) error {
	if strings.TrimSpace(creds.UserID) == "" {
		return errors.New("credentials: user id is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadCredentials reads the credentials file at path.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	data, err := os.ReadFile(path)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("parse %s: %w", path, err)
	}
	return creds, nil
}

// FileTokenSource serves the bearer token from a credentials file. The file
// is re-read on every call so a token rotated on disk takes effect without a
// daemon restart.
type FileTokenSource struct {
	path string

	mu   sync.Mutex
	last string
}

func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// Token returns the current token and whether one is available.
func (s *FileTokenSource) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := LoadCredentials(s.path)
	if err != nil {
		// Serve the last good token while the file is being rewritten.
		return s.last, s.last != ""
	}
	s.last = creds.Token
	return creds.Token, creds.Token != ""
}
