package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	projectCtxKey struct{}
	contextIDKey  struct{}
	requestCtxKey struct{}
	loggerCtxKey  struct{}
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if p := ProjectFromContext(ctx); p != "" {
		fields = append(fields, zap.String("project.path", p))
	}
	if id := ContextIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("context.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

func validateID(id, name string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s cannot be empty", name)
	case !utf8.ValidString(id):
		return fmt.Errorf("%s contains invalid UTF-8", name)
	case len(id) > maxIDLen:
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	case !idPattern.MatchString(id):
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// WithProject records the project path in ctx.
func WithProject(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, projectCtxKey{}, path)
}

// ProjectFromContext returns the project path recorded in ctx.
func ProjectFromContext(ctx context.Context) string {
	p, _ := ctx.Value(projectCtxKey{}).(string)
	return p
}

// WithContextID records a built context id in ctx. Invalid ids are ignored.
func WithContextID(ctx context.Context, id string) context.Context {
	if validateID(id, "context id") != nil {
		return ctx
	}
	return context.WithValue(ctx, contextIDKey{}, id)
}

// ContextIDFromContext returns the context id recorded in ctx.
func ContextIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextIDKey{}).(string)
	return id
}

// WithRequestID records a request id in ctx. It returns an error when the
// id is empty, too long or contains characters outside [a-zA-Z0-9_.:-].
func WithRequestID(ctx context.Context, id string) (context.Context, error) {
	if err := validateID(id, "request id"); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, requestCtxKey{}, id), nil
}

// RequestIDFromContext returns the request id recorded in ctx.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
