package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"whisperflow/internal/logging"
)

// EnvToken overrides the stored token when set.
const EnvToken = "HF_TOKEN"

// Source reports where the active token came from.
type Source string

const (
	SourceNone Source = "none"
	SourceEnv  Source = "env"
	SourceFile Source = "file"
)

type secretsFile struct {
	HFToken string `toml:"hf_token"`
}

// Store reads and writes the secrets file. The file is cached after the first
// read; Reload refreshes the cache.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	token  string
	loaded bool
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logging.NewComponentLogger(logger, "credentials")}
}

func (s *Store) Path() string { return s.path }

// Token returns the active token and its source. A missing secrets file is
// not an error.
func (s *Store) Token() (string, Source, error) {
	if value := strings.TrimSpace(os.Getenv(EnvToken)); value != "" {
		return value, SourceEnv, nil
	}
	s.mu.RLock()
	loaded, token := s.loaded, s.token
	s.mu.RUnlock()
	if !loaded {
		if err := s.Reload(); err != nil {
			return "", SourceNone, err
		}
		s.mu.RLock()
		token = s.token
		s.mu.RUnlock()
	}
	if token == "" {
		return "", SourceNone, nil
	}
	return token, SourceFile, nil
}

// Reload re-reads the secrets file into the cache.
func (s *Store) Reload() error {
	token, err := readToken(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	changed := s.loaded && s.token != token
	s.token = token
	s.loaded = true
	s.mu.Unlock()
	if changed {
		s.logger.Info("hugging face token reloaded", logging.Bool("token_present", token != ""))
	}
	return nil
}

// Save writes token to the secrets file, creating it if needed.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credentials: token is empty")
	}
	if err := writeToken(s.path, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.loaded = true
	s.mu.Unlock()
	s.logger.Info("hugging face token saved", logging.String("path", s.path))
	return nil
}

// Clear removes the secrets file.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credentials: remove secrets file: %w", err)
	}
	s.mu.Lock()
	s.token = ""
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Mask renders a token for display, keeping only the last four characters.
func Mask(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: read secrets file: %w", err)
	}
	var secrets secretsFile
	if err := toml.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("credentials: parse secrets file: %w", err)
	}
	return strings.TrimSpace(secrets.HFToken), nil
}

func writeToken(path string, token string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credentials: create secrets dir: %w", err)
	}
	data, err := toml.Marshal(secretsFile{HFToken: token})
	if err != nil {
		return fmt.Errorf("credentials: encode secrets: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".secrets-*.toml")
	if err != nil {
		return fmt.Errorf("credentials: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credentials: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("credentials: replace secrets file: %w", err)
	}
	return nil
}
