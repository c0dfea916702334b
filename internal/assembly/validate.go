package assembly

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxListedProblems caps per-file messages in a ValidationResult.
const maxListedProblems = 10

// ValidationResult is the outcome of Validate. A build proceeds when
// IsValid is true, even with warnings.
type ValidationResult struct {
	IsValid         bool     `json:"isValid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	TotalSize       int64    `json:"totalSize"`
	EstimatedTokens int      `json:"estimatedTokens"`
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a selection against the configured limits without
// touching the backend.
func (p *Pipeline) Validate(ctx context.Context, paths []string) ValidationResult {
	_, span := tracer().Start(ctx, "assembly.validate",
		trace.WithAttributes(attribute.Int("assembly.files", len(paths))))
	defer span.End()

	res := p.validate(paths)
	span.SetAttributes(
		attribute.Bool("assembly.valid", res.IsValid),
		attribute.Int("assembly.errors", len(res.Errors)),
		attribute.Int("assembly.warnings", len(res.Warnings)),
	)
	return res
}

func (p *Pipeline) validate(paths []string) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if len(paths) == 0 {
		res.fail("No files selected")
		return res
	}
	cfg := p.cfg
	if len(paths) > cfg.MaxFiles {
		res.fail("Too many files selected: %d (max %d)", len(paths), cfg.MaxFiles)
	}

	sizes := p.sizeLookup()
	missing, oversized := 0, 0
	for _, path := range paths {
		size, ok := sizes.Size(path)
		if !ok {
			missing++
			if missing <= maxListedProblems {
				res.fail("File not found: %s", path)
			}
			continue
		}
		if size > cfg.MaxFileSizeBytes {
			oversized++
			if oversized <= maxListedProblems {
				res.fail("File too large: %s (%s, max %s)", path, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(cfg.MaxFileSizeBytes)))
			}
		}
		res.TotalSize += size
	}
	if extra := missing - maxListedProblems; extra > 0 {
		res.fail("%d more files not found", extra)
	}
	if extra := oversized - maxListedProblems; extra > 0 {
		res.fail("%d more files too large", extra)
	}

	safe := int64(cfg.MemorySafeRatio * float64(cfg.MaxMemoryBytes))
	if res.TotalSize > safe {
		res.fail("Selection too large: %s exceeds the safe limit of %s", humanize.IBytes(uint64(res.TotalSize)), humanize.IBytes(uint64(safe)))
	}

	res.EstimatedTokens = p.tokens.Estimate(res.TotalSize)
	warnAt := int(cfg.TokenWarnRatio * float64(cfg.TokenLimit))
	switch {
	case res.EstimatedTokens > cfg.TokenLimit:
		res.fail("Estimated %s tokens exceeds the limit of %s", humanize.Comma(int64(res.EstimatedTokens)), humanize.Comma(int64(cfg.TokenLimit)))
	case res.EstimatedTokens >= warnAt:
		res.warn("Estimated %s tokens is close to the limit of %s", humanize.Comma(int64(res.EstimatedTokens)), humanize.Comma(int64(cfg.TokenLimit)))
	}

	if p.sampler != nil {
		p.checkHeadroom(&res)
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// checkHeadroom compares live heap plus the selection size with the memory
// ceiling. Sampling failures are ignored.
func (p *Pipeline) checkHeadroom(res *ValidationResult) {
	heap, err := p.sampler.HeapBytes()
	if err != nil {
		p.logger.Debug("heap sample unavailable", zap.Error(err))
		return
	}
	limit := uint64(p.cfg.MaxMemoryBytes)
	need := heap + uint64(res.TotalSize)
	switch {
	case need > limit:
		res.fail("Insufficient memory: %s in use, %s needed, limit %s",
			humanize.IBytes(heap), humanize.IBytes(uint64(res.TotalSize)), humanize.IBytes(limit))
	case float64(need) > p.cfg.MemorySafeRatio*float64(limit):
		res.warn("Low memory headroom: %s of %s would be in use", humanize.IBytes(need), humanize.IBytes(limit))
	}
}
