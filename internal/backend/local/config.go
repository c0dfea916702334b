package local

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

// Config configures the filesystem backend.
type Config struct {
	// ContextDir holds <id>.ctx content files and <id>.json summaries.
	ContextDir       string        `json:"context_dir" koanf:"context_dir"`
	MaxContexts      int           `json:"max_contexts" koanf:"max_contexts"`
	MaxAge           time.Duration `json:"max_age" koanf:"max_age"`
	CleanupInterval  time.Duration `json:"cleanup_interval" koanf:"cleanup_interval"`
	MaxFileSizeBytes int64         `json:"max_file_size_bytes" koanf:"max_file_size_bytes"`
}

// DefaultConfig stores contexts under the user cache directory.
func DefaultConfig() Config {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return Config{
		ContextDir:       filepath.Join(base, "ctxpack", "contexts"),
		MaxContexts:      10,
		MaxAge:           24 * time.Hour,
		CleanupInterval:  10 * time.Minute,
		MaxFileSizeBytes: backend.OversizedFileBytes,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ContextDir == "" {
		return fmt.Errorf("context_dir is required")
	}
	if c.MaxContexts <= 0 {
		return fmt.Errorf("max_contexts must be positive")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max_age must be positive")
	}
	if c.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("max_file_size_bytes must be positive")
	}
	return nil
}
