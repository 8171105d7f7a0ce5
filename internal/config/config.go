package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DirEnv overrides the per-user configuration directory.
	DirEnv = "CODERUSH_CONFIG_DIR"
	// ModeEnv and OrgEnv override the file values.
	ModeEnv = "CODERUSH_GITHUB_MODE"
	OrgEnv  = "CODERUSH_GITHUB_ORG"

	configFile = "config.yaml"
)

// Mode selects how GitHub access is authorized
type Mode string

const (
	ModePersonal     Mode = "personal"
	ModeOrganization Mode = "organization"
)

// ErrInvalidMode is returned for a github_mode that is neither personal nor organization
var ErrInvalidMode = errors.New("invalid github mode")

// ValidateMode checks if the given string is a valid Mode. An empty string
// selects personal mode.
func ValidateMode(mode string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(mode))) {
	case "", ModePersonal:
		return ModePersonal, nil
	case ModeOrganization:
		return ModeOrganization, nil
	default:
		return "", fmt.Errorf("%w %q: must be 'personal' or 'organization'", ErrInvalidMode, mode)
	}
}

// Configuration holds the GitHub settings read by the client registry.
type Configuration struct {
	Mode         Mode   `yaml:"github_mode"`
	Organization string `yaml:"github_org,omitempty"`
}

// Source provides the current configuration. Implementations are read on
// demand and must not cache values indefinitely.
type Source interface {
	Load() (Configuration, error)
}

// Static is a fixed configuration, mostly useful in tests.
type Static Configuration

func (s Static) Load() (Configuration, error) {
	return Configuration(s), nil
}

// FileSource reads config.yaml from a directory and applies environment
// overrides. A .env file in the working directory is loaded into the
// environment on first use.
type FileSource struct {
	Dir string
}

var dotenvOnce sync.Once

// NewFileSource returns a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Path returns the location of the configuration file
func (s *FileSource) Path() string {
	return filepath.Join(s.Dir, configFile)
}

// Load reads the file, if any, then applies CODERUSH_GITHUB_MODE and
// CODERUSH_GITHUB_ORG. A missing file yields personal mode.
func (s *FileSource) Load() (Configuration, error) {
	dotenvOnce.Do(func() {
		// Missing .env is the common case
		_ = godotenv.Load()
	})

	var raw struct {
		Mode         string `yaml:"github_mode"`
		Organization string `yaml:"github_org"`
	}

	data, err := os.ReadFile(s.Path())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Configuration{}, fmt.Errorf("failed to parse %s: %w", s.Path(), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Configuration{}, fmt.Errorf("failed to read %s: %w", s.Path(), err)
	}

	if v := os.Getenv(ModeEnv); v != "" {
		raw.Mode = v
	}
	if v := os.Getenv(OrgEnv); v != "" {
		raw.Organization = v
	}

	mode, err := ValidateMode(raw.Mode)
	if err != nil {
		return Configuration{}, err
	}

	return Configuration{
		Mode:         mode,
		Organization: strings.TrimSpace(raw.Organization),
	}, nil
}

// DefaultDir returns CODERUSH_CONFIG_DIR, or ~/.coderush.
func DefaultDir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".coderush"), nil
}
