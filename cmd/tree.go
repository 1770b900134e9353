package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"stardock/internal/manager"
)

// newTreeCmd creates the command that renders a component's dependency tree.
func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <component>",
		Short: "Render the dependency tree of a component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(cmd, args[0])
		},
	}
}

func runTree(cmd *cobra.Command, name string) error {
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

	rendered, err := m.PrintDependencyTree(name)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return nil
}
