package manager

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"stardock/internal/dependency"
	"stardock/internal/loader"
	"stardock/pkg/logging"
)

// WatchComponents watches the component directory and reacts to artifact
// changes while the platform runs: a rewritten artifact triggers a module
// reload, a new component directory with a descriptor is registered, and a
// removed artifact unloads its module. Call StopWatching or Destroy to stop.
func (m *Manager) WatchComponents(ctx context.Context) error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watchStop != nil {
		return nil
	}

	dir := m.componentsDir
	if dir == "" {
		return os.ErrNotExist
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	// Watch existing component directories too; fsnotify is not recursive.
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := w.Add(filepath.Join(dir, entry.Name())); err != nil {
					logging.Warn("Manager", "cannot watch %s: %v", entry.Name(), err)
				}
			}
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.watchStop = stop
	m.watchDone = done

	go m.watchLoop(ctx, w, stop, done)
	logging.Info("Manager", "watching %s for component changes", dir)
	return nil
}

// StopWatching stops the component watcher, if running.
func (m *Manager) StopWatching() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watchStop == nil {
		return
	}
	close(m.watchStop)
	<-m.watchDone
	m.watchStop = nil
	m.watchDone = nil
}

func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer w.Close()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			m.handleFSEvent(ctx, w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logging.Warn("Manager", "component watcher error: %v", err)
		}
	}
}

func (m *Manager) handleFSEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			if err := w.Add(ev.Name); err != nil {
				logging.Warn("Manager", "cannot watch new directory %s: %v", ev.Name, err)
			}
			m.registerFromDir(ev.Name)
		}
	case ev.Op.Has(fsnotify.Write):
		m.reloadIfChanged(ctx, ev.Name)
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		m.unloadRemoved(ev.Name)
	}
}

// registerFromDir registers a newly appeared component directory once it
// carries a valid descriptor. Directories without one are ignored; the
// descriptor may simply not have been written yet.
func (m *Manager) registerFromDir(dir string) {
	desc, err := LoadDescriptor(dir)
	if err != nil {
		logging.Debug("Manager", "new directory %s has no usable descriptor: %v", dir, err)
		return
	}
	if m.isRegistered(desc.Name) {
		return
	}
	if err := m.RegisterComponent(desc); err != nil {
		logging.Warn("Manager", "failed to register discovered component %s: %v", desc.Name, err)
		return
	}
	logging.Info("Manager", "discovered component %s in %s", desc.Name, dir)
}

// reloadIfChanged reloads the module whose artifact was rewritten, but only
// when it was loaded and the content hash actually changed.
func (m *Manager) reloadIfChanged(ctx context.Context, path string) {
	name, ok := m.componentForArtifact(path)
	if !ok {
		return
	}

	mod, err := m.ldr.GetModule(name)
	if err != nil || mod.Status != dependency.StatusLoaded {
		return
	}
	hash, err := hashChanged(path, mod.Hash)
	if err != nil || !hash {
		return
	}

	logging.Info("Manager", "artifact for %s changed on disk, reloading", name)
	if err := m.ldr.ReloadModule(ctx, name); err != nil {
		m.failLoad(name, err)
		return
	}
	m.emit(name, EventLoaded, map[string]interface{}{"reloaded": true})
}

// unloadRemoved unloads the module whose artifact disappeared.
func (m *Manager) unloadRemoved(path string) {
	name, ok := m.componentForArtifact(path)
	if !ok {
		return
	}
	status, err := m.ldr.GetModuleStatus(name)
	if err != nil || status != dependency.StatusLoaded {
		return
	}

	logging.Warn("Manager", "artifact for %s removed from disk, unloading", name)
	if err := m.ldr.UnloadModule(name); err != nil {
		logging.Error("Manager", err, "failed to unload %s after artifact removal", name)
		return
	}
	m.setState(name, StateUnloaded)
	m.emit(name, EventUnloaded, map[string]interface{}{"removed": true})
}

func (m *Manager) componentForArtifact(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, desc := range m.descriptors {
		if desc.ArtifactPath() == path {
			return name, true
		}
	}
	return "", false
}

func hashChanged(path, known string) (bool, error) {
	if known == "" {
		return true, nil
	}
	hash, err := loader.HashArtifact(path)
	if err != nil {
		return false, err
	}
	return hash != known, nil
}
