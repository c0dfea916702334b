package local

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

// formatter renders the sections of a context document.
type formatter interface {
	header(project string, files int) string
	manifest(tree string) string
	fileStart(rel string, index int) string
	body(content string) string
	fileEnd() string
	footer() string
}

func newFormatter(f backend.OutputFormat) formatter {
	switch f {
	case backend.FormatMarkdown:
		return markdownFormatter{}
	case backend.FormatPlain:
		return plainFormatter{}
	case backend.FormatJSON:
		return jsonFormatter{}
	default:
		return xmlFormatter{}
	}
}

type xmlFormatter struct{}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func (xmlFormatter) header(project string, files int) string {
	return fmt.Sprintf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<context project=\"%s\" files=\"%d\">\n",
		escapeAttr(project), files)
}

func (xmlFormatter) manifest(tree string) string {
	return "<manifest>\n" + xmlEscaper.Replace(strings.TrimRight(tree, "\n")) + "\n</manifest>\n"
}

func (xmlFormatter) fileStart(rel string, _ int) string {
	return fmt.Sprintf("<file path=\"%s\">\n<content>\n", escapeAttr(rel))
}

func (xmlFormatter) body(content string) string { return xmlEscaper.Replace(content) }
func (xmlFormatter) fileEnd() string            { return "\n</content>\n</file>\n\n" }
func (xmlFormatter) footer() string             { return "</context>\n" }

func escapeAttr(s string) string {
	return strings.ReplaceAll(xmlEscaper.Replace(s), `"`, "&quot;")
}

type markdownFormatter struct{}

func (markdownFormatter) header(project string, files int) string {
	return fmt.Sprintf("# Context: %s\n\nFiles: %d\n\n---\n\n", project, files)
}

func (markdownFormatter) manifest(tree string) string {
	return "## Manifest\n\n```\n" + strings.TrimRight(tree, "\n") + "\n```\n\n"
}

func (markdownFormatter) fileStart(rel string, _ int) string {
	lang := strings.TrimPrefix(path.Ext(rel), ".")
	return fmt.Sprintf("## File: %s\n\n```%s\n", rel, lang)
}

func (markdownFormatter) body(content string) string { return content }
func (markdownFormatter) fileEnd() string            { return "\n```\n\n" }
func (markdownFormatter) footer() string             { return "---\n\n*End of context*\n" }

type plainFormatter struct{}

func (plainFormatter) header(project string, files int) string {
	return fmt.Sprintf("=== Context: %s (%d files) ===\n\n", project, files)
}

func (plainFormatter) manifest(tree string) string {
	return "--- Manifest ---\n" + strings.TrimRight(tree, "\n") + "\n\n"
}

func (plainFormatter) fileStart(rel string, _ int) string {
	return fmt.Sprintf("--- File: %s ---\n", rel)
}

func (plainFormatter) body(content string) string { return content }
func (plainFormatter) fileEnd() string            { return "\n\n" }
func (plainFormatter) footer() string             { return "=== End of Context ===\n" }

// jsonFormatter writes one JSON document. Each file is a single line in the
// files array so that pages stay meaningful.
type jsonFormatter struct{}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (jsonFormatter) header(project string, files int) string {
	return fmt.Sprintf("{\n  \"project\": %s,\n  \"fileCount\": %d,\n", quote(project), files)
}

func (jsonFormatter) manifest(tree string) string {
	return fmt.Sprintf("  \"manifest\": %s,\n", quote(tree))
}

func (jsonFormatter) fileStart(rel string, index int) string {
	prefix := "  \"files\": [\n"
	if index > 0 {
		prefix = ",\n"
	}
	return prefix + fmt.Sprintf("    {\"path\": %s, \"content\": ", quote(rel))
}

func (jsonFormatter) body(content string) string { return quote(content) }
func (jsonFormatter) fileEnd() string            { return "}" }
func (jsonFormatter) footer() string             { return "\n  ]\n}\n" }
