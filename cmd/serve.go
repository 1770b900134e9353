package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"stardock/internal/manager"
	"stardock/pkg/logging"
)

// serveParallel switches the initial bring-up to level-parallel loading.
var serveParallel bool

// serveWorkers bounds concurrent artifact loads during bring-up.
var serveWorkers int

// newServeCmd creates the command that brings the component platform up:
// it scans the component directory, registers every descriptor, loads the
// enabled components in dependency order, and then watches the directory for
// changes until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load all components and keep them under management",
		Long: `Scans the component directory, registers every component descriptor found,
loads enabled components in dependency order, and then keeps watching the
directory: rewritten artifacts are reloaded, new component directories are
registered, and removed artifacts are unloaded. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("parallel") {
				serveParallel = fileCfg.Parallel
			}
			if !cmd.Flags().Changed("workers") && fileCfg.Workers > 0 {
				serveWorkers = fileCfg.Workers
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&serveParallel, "parallel", false, "load independent components concurrently")
	cmd.Flags().IntVar(&serveWorkers, "workers", 4, "maximum concurrent artifact loads")
	return cmd
}

func runServe(ctx context.Context) error {
	m := manager.New(
		manager.WithComponentsDir(componentsDir),
		manager.WithWorkers(serveWorkers),
	)
	if err := m.Initialize(); err != nil {
		return err
	}
	defer m.Destroy()

	dir := resolveComponentsDir()
	if dir == "" {
		return fmt.Errorf("no components directory configured; pass --components-dir or set STARDOCK_COMPONENTS_DIR")
	}

	if err := registerAll(m, dir); err != nil {
		return err
	}

	for _, name := range m.GetComponentList() {
		if !m.Loader().IsModuleEnabled(name) {
			logging.Info("CLI", "skipping disabled component %s", name)
			continue
		}
		var err error
		if serveParallel {
			err = m.LoadComponentParallel(ctx, name, nil)
		} else {
			err = m.LoadComponent(ctx, name, nil)
		}
		if err != nil {
			logging.Error("CLI", err, "failed to load component %s", name)
		}
	}

	if err := m.WatchComponents(ctx); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	logging.Info("CLI", "shutting down")
	return nil
}

// registerAll loads every descriptor under dir and registers the components
// in an order that satisfies their declared dependencies.
func registerAll(m *manager.Manager, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	pending := make(map[string]*manager.Descriptor)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		desc, err := manager.LoadDescriptor(filepath.Join(dir, entry.Name()))
		if err != nil {
			logging.Debug("CLI", "skipping %s: %v", entry.Name(), err)
			continue
		}
		pending[desc.Name] = desc
	}

	// Register components whose dependencies are already in; repeat until
	// the pending set stops shrinking, then report what is left.
	for len(pending) > 0 {
		progressed := false
		for name, desc := range pending {
			if !dependenciesKnown(m, pending, desc) {
				continue
			}
			if err := m.RegisterComponent(desc); err != nil {
				return err
			}
			delete(pending, name)
			progressed = true
		}
		if !progressed {
			var stuck []string
			for name := range pending {
				stuck = append(stuck, name)
			}
			return fmt.Errorf("components with unresolvable dependencies: %v", stuck)
		}
	}
	return nil
}

func dependenciesKnown(m *manager.Manager, pending map[string]*manager.Descriptor, desc *manager.Descriptor) bool {
	for _, dep := range desc.Dependencies {
		if _, waiting := pending[dep.Name]; waiting {
			return false
		}
		if !m.HasComponent(dep.Name) {
			return false
		}
	}
	return true
}

func resolveComponentsDir() string {
	if env := os.Getenv("STARDOCK_COMPONENTS_DIR"); env != "" {
		return env
	}
	return componentsDir
}
