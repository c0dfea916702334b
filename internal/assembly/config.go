package assembly

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

// Config holds the pipeline limits.
type Config struct {
	MaxFiles         int     `json:"max_files" koanf:"max_files"`
	MaxFileSizeBytes int64   `json:"max_file_size_bytes" koanf:"max_file_size_bytes"`
	MaxMemoryBytes   int64   `json:"max_memory_bytes" koanf:"max_memory_bytes"`
	MemorySafeRatio  float64 `json:"memory_safe_ratio" koanf:"memory_safe_ratio"`

	TokenLimit     int     `json:"token_limit" koanf:"token_limit"`
	TokenWarnRatio float64 `json:"token_warn_ratio" koanf:"token_warn_ratio"`

	BuildTimeout     time.Duration `json:"build_timeout" koanf:"build_timeout"`
	DefaultPageLines int           `json:"default_page_lines" koanf:"default_page_lines"`
	MaxPageLines     int           `json:"max_page_lines" koanf:"max_page_lines"`
	ChunkCacheSize   int           `json:"chunk_cache_size" koanf:"chunk_cache_size"`

	// CostPerMillionTokens prices Metrics.EstimatedCost.
	CostPerMillionTokens float64 `json:"cost_per_million_tokens" koanf:"cost_per_million_tokens"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxFiles:             500,
		MaxFileSizeBytes:     backend.OversizedFileBytes,
		MaxMemoryBytes:       backend.MaxMemoryMB << 20,
		MemorySafeRatio:      0.8,
		TokenLimit:           900_000,
		TokenWarnRatio:       0.8,
		BuildTimeout:         2 * time.Minute,
		DefaultPageLines:     backend.DefaultPageLines,
		MaxPageLines:         backend.MaxPageLines,
		ChunkCacheSize:       3,
		CostPerMillionTokens: 3.0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxFiles <= 0:
		return fmt.Errorf("max_files must be positive")
	case c.MaxFileSizeBytes <= 0:
		return fmt.Errorf("max_file_size_bytes must be positive")
	case c.MaxMemoryBytes <= 0:
		return fmt.Errorf("max_memory_bytes must be positive")
	case c.MemorySafeRatio <= 0 || c.MemorySafeRatio > 1:
		return fmt.Errorf("memory_safe_ratio must be in (0, 1], got %v", c.MemorySafeRatio)
	case c.TokenLimit <= 0:
		return fmt.Errorf("token_limit must be positive")
	case c.TokenWarnRatio <= 0 || c.TokenWarnRatio > 1:
		return fmt.Errorf("token_warn_ratio must be in (0, 1], got %v", c.TokenWarnRatio)
	case c.BuildTimeout <= 0:
		return fmt.Errorf("build_timeout must be positive")
	case c.DefaultPageLines <= 0 || c.MaxPageLines <= 0:
		return fmt.Errorf("page sizes must be positive")
	case c.DefaultPageLines > c.MaxPageLines:
		return fmt.Errorf("default_page_lines (%d) exceeds max_page_lines (%d)", c.DefaultPageLines, c.MaxPageLines)
	case c.MaxPageLines > backend.MaxPageLines:
		return fmt.Errorf("max_page_lines cannot exceed %d", backend.MaxPageLines)
	case c.ChunkCacheSize <= 0:
		return fmt.Errorf("chunk_cache_size must be positive")
	case c.CostPerMillionTokens < 0:
		return fmt.Errorf("cost_per_million_tokens cannot be negative")
	}
	return nil
}
