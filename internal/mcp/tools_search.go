package mcp

import (
	"context"
	"fmt"
	"strings"
)

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Search text or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Only search one category: tree, selection, assembly, contexts or search"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default 5)"`
}

type toolMatch struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	Score       int          `json:"score,omitempty"`
	MatchReason string       `json:"match_reason,omitempty"`
}

type toolSearchOutput struct {
	Query      string      `json:"query" jsonschema:"Query used"`
	Results    []toolMatch `json:"results" jsonschema:"Matching tools, best first"`
	Count      int         `json:"count" jsonschema:"Number of tools returned"`
	TotalTools int         `json:"total_tools" jsonschema:"Number of registered tools"`
}

type toolListInput struct {
	Category string `json:"category,omitempty" jsonschema:"Only list one category"`
}

type toolListOutput struct {
	Tools []toolMatch `json:"tools" jsonschema:"Registered tools sorted by name"`
	Count int         `json:"count" jsonschema:"Number of tools returned"`
}

func (s *Server) registerSearchTools() error {
	err := addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword.",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "find", "help"},
	}, func(ctx context.Context, in toolSearchInput) (string, toolSearchOutput, error) {
		if strings.TrimSpace(in.Query) == "" {
			return "", toolSearchOutput{}, fmt.Errorf("%w: query is required", errInvalidArgument)
		}
		limit := in.Limit
		if limit <= 0 {
			limit = 5
		}

		out := toolSearchOutput{Query: in.Query, Results: []toolMatch{}, TotalTools: s.registry.Count()}
		for _, r := range s.registry.Search(in.Query) {
			if in.Category != "" && r.Tool.Category != ToolCategory(in.Category) {
				continue
			}
			out.Results = append(out.Results, toolMatch{
				Name:        r.Tool.Name,
				Description: r.Tool.Description,
				Category:    r.Tool.Category,
				Score:       r.Score,
				MatchReason: r.MatchReason,
			})
			if len(out.Results) == limit {
				break
			}
		}
		out.Count = len(out.Results)

		if out.Count == 0 {
			return fmt.Sprintf("No tools found matching: %s", in.Query), out, nil
		}
		names := make([]string, 0, out.Count)
		for _, r := range out.Results {
			names = append(names, r.Name)
		}
		return fmt.Sprintf("Found %d tool(s) for %q: %s", out.Count, in.Query, strings.Join(names, ", ")), out, nil
	})
	if err != nil {
		return err
	}

	return addTool(s, &ToolMetadata{
		Name:        "tool_list",
		Description: "List every available tool with its category.",
		Category:    CategorySearch,
	}, func(ctx context.Context, in toolListInput) (string, toolListOutput, error) {
		tools := s.registry.List()
		if in.Category != "" {
			tools = s.registry.ListByCategory(ToolCategory(in.Category))
		}
		out := toolListOutput{Tools: make([]toolMatch, 0, len(tools)), Count: len(tools)}
		lines := make([]string, 0, len(tools))
		for _, t := range tools {
			out.Tools = append(out.Tools, toolMatch{Name: t.Name, Description: t.Description, Category: t.Category})
			lines = append(lines, fmt.Sprintf("%s (%s): %s", t.Name, t.Category, t.Description))
		}
		return strings.Join(lines, "\n"), out, nil
	})
}
