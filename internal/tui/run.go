package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

// Run shows the picker on the terminal until the user quits or ctx is done.
func Run(ctx context.Context, ws *workspace.Workspace, opts ...Option) error {
	opts = append([]Option{WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewModel(ws, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
