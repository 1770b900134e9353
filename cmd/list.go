package cmd

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"stardock/internal/manager"
	"stardock/pkg/logging"
)

// newListCmd creates the command that prints every component found in the
// component directory with its version, kind, and dependencies.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List components found in the component directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd)
		},
	}
}

func runList(cmd *cobra.Command) error {
	dir := resolveComponentsDir()
	if dir == "" {
		return fmt.Errorf("no components directory configured; pass --components-dir or set STARDOCK_COMPONENTS_DIR")
	}

	m := manager.New(manager.WithComponentsDir(dir))
	if err := m.Initialize(); err != nil {
		return err
	}
	defer m.Destroy()

	if err := registerAll(m, dir); err != nil {
		return err
	}

	names, err := m.ScanComponents(context.Background(), dir)
	if err != nil {
		return err
	}
	changed := make(map[string]bool, len(names))
	for _, name := range names {
		changed[name] = true
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Name", "Version", "Enabled", "Group", "Dependencies", "Changed"})

	for _, name := range m.GetComponentList() {
		info, err := m.GetComponentInfo(name)
		if err != nil {
			logging.Warn("CLI", "cannot read component %s: %v", name, err)
			continue
		}
		deps := ""
		for i, d := range info.Dependencies {
			if i > 0 {
				deps += ", "
			}
			deps += d.Name
			if d.Constraint != "" {
				deps += " " + d.Constraint
			}
		}
		t.AppendRow(table.Row{info.Name, info.Version, info.Enabled, info.Group, deps, changed[name]})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}
