package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"stardock/internal/api"
	"stardock/internal/dependency"
	"stardock/pkg/logging"
)

const defaultWorkers = 4

// Loader binds graph nodes to loadable artifacts on disk and tracks their
// load status, enablement, and export tables. All methods are safe for
// concurrent use. The loader mirrors each module's status onto the graph
// node of the same name when one exists, so resolution callers see a
// consistent picture without asking two registries.
type Loader struct {
	mu      sync.RWMutex
	modules map[string]*moduleRecord
	graph   *dependency.Graph
	workers int64
}

// Option configures a Loader.
type Option func(*Loader)

// WithWorkers bounds the number of concurrent loads in LoadModulesParallel.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = int64(n)
		}
	}
}

// New returns a loader backed by the given dependency graph.
func New(graph *dependency.Graph, opts ...Option) *Loader {
	l := &Loader{
		modules: make(map[string]*moduleRecord),
		graph:   graph,
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register creates an Unloaded record for a module without loading it, so
// ordered loads can find the artifact path of every node up front. The kind
// is inferred from the path. Re-registering an unloaded module updates its
// path; a loaded module cannot be re-pointed.
func (l *Loader) Register(name, path string) error {
	kind, err := KindForPath(path)
	if err != nil {
		return api.NewLoadFailureError(name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.modules[name]; ok {
		if rec.status == dependency.StatusLoaded {
			return api.NewAlreadyLoadedError(name)
		}
		rec.path = path
		rec.kind = kind
		return nil
	}

	l.modules[name] = &moduleRecord{
		name:    name,
		path:    path,
		kind:    kind,
		status:  dependency.StatusUnloaded,
		enabled: true,
	}
	return nil
}

// LoadModule loads the artifact at path under the given module name. On
// success the record holds the artifact's content hash and export table and
// its status is Loaded. A failed load leaves the record in Error with the
// cause preserved; reload is the only way out of Error.
func (l *Loader) LoadModule(ctx context.Context, path, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	rec, ok := l.modules[name]
	if ok && rec.status == dependency.StatusLoaded {
		l.mu.Unlock()
		return api.NewAlreadyLoadedError(name)
	}
	if !ok {
		rec = &moduleRecord{name: name, enabled: true}
		l.modules[name] = rec
	}
	rec.path = path
	rec.status = dependency.StatusLoading
	rec.lastError = ""
	l.mu.Unlock()
	l.mirrorStatus(name, dependency.StatusLoading)

	start := time.Now()
	hash, kind, exports, err := l.bind(path, name)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		rec.status = dependency.StatusError
		rec.lastError = err.Error()
		rec.recordFailure()
		l.mirrorStatus(name, dependency.StatusError)
		logging.Error("Loader", err, "failed to load module %s from %s", name, path)
		return err
	}

	rec.hash = hash
	rec.kind = kind
	rec.exports = exports
	rec.status = dependency.StatusLoaded
	rec.loadedAt = time.Now()
	rec.recordSuccess(time.Since(start))
	l.mirrorStatus(name, dependency.StatusLoaded)

	logging.Info("Loader", "loaded module %s (%s, %d exports) in %s", name, kind, len(exports), time.Since(start).Round(time.Millisecond))
	return nil
}

// bind verifies the artifact and extracts its hash and export table. It runs
// without the loader lock held; file IO dominates.
func (l *Loader) bind(path, name string) (string, ArtifactKind, map[string]struct{}, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", "", nil, api.NewArtifactNotFoundError(name, path)
	}

	kind, err := KindForPath(path)
	if err != nil {
		return "", "", nil, api.NewLoadFailureError(name, err)
	}

	b, ok := binders[kind]
	if !ok {
		return "", "", nil, api.NewLoadFailureError(name, fmt.Errorf("no binder for artifact kind %s", kind))
	}

	if err := b.Verify(path); err != nil {
		return "", "", nil, api.NewLoadFailureError(name, err)
	}

	hash, err := hashFile(path)
	if err != nil {
		return "", "", nil, api.NewLoadFailureError(name, err)
	}

	names, err := b.Exports(path)
	if err != nil {
		return "", "", nil, api.NewLoadFailureError(name, err)
	}
	exports := make(map[string]struct{}, len(names))
	for _, n := range names {
		exports[n] = struct{}{}
	}
	return hash, kind, exports, nil
}

// UnloadModule releases a loaded module. The record survives as Unloaded so
// its path, enablement, and statistics carry over to a later reload. The
// loader does not consult the dependency graph here; dependent safety is the
// caller's responsibility.
func (l *Loader) UnloadModule(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.modules[name]
	if !ok {
		return api.NewUnknownModuleError(name)
	}
	if rec.status != dependency.StatusLoaded {
		return api.NewNotLoadedError(name)
	}

	rec.status = dependency.StatusUnloaded
	rec.exports = nil
	rec.loadedAt = time.Time{}
	l.mirrorStatus(name, dependency.StatusUnloaded)

	logging.Info("Loader", "unloaded module %s", name)
	return nil
}

// ReloadModule unloads and re-loads a module from its recorded path. When
// the unload leg fails the module keeps its prior state and the error is
// returned as-is. A module in Error skips the unload leg and goes straight
// back through Loading.
func (l *Loader) ReloadModule(ctx context.Context, name string) error {
	l.mu.RLock()
	rec, ok := l.modules[name]
	if !ok {
		l.mu.RUnlock()
		return api.NewUnknownModuleError(name)
	}
	path := rec.path
	status := rec.status
	l.mu.RUnlock()

	if status == dependency.StatusLoaded {
		if err := l.UnloadModule(name); err != nil {
			return err
		}
	}
	return l.LoadModule(ctx, path, name)
}

// EnableModule marks a module as routable. Idempotent.
func (l *Loader) EnableModule(name string) error {
	return l.setEnabled(name, true)
}

// DisableModule marks a module as not routable without unloading it.
func (l *Loader) DisableModule(name string) error {
	return l.setEnabled(name, false)
}

func (l *Loader) setEnabled(name string, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.modules[name]
	if !ok {
		return api.NewUnknownModuleError(name)
	}
	rec.enabled = enabled
	return nil
}

// IsModuleEnabled reports the enablement flag. Unknown modules are disabled.
func (l *Loader) IsModuleEnabled(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.modules[name]
	return ok && rec.enabled
}

// GetModuleStatus returns the record's load status.
func (l *Loader) GetModuleStatus(name string) (dependency.Status, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.modules[name]
	if !ok {
		return "", api.NewUnknownModuleError(name)
	}
	return rec.status, nil
}

// HasModule reports whether a record exists for name, loaded or not.
func (l *Loader) HasModule(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.modules[name]
	return ok
}

// GetModule returns an immutable snapshot of the record.
func (l *Loader) GetModule(name string) (Module, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.modules[name]
	if !ok {
		return Module{}, api.NewUnknownModuleError(name)
	}
	return rec.snapshot(), nil
}

// GetAllExistedModules returns snapshots of every record, sorted by name.
func (l *Loader) GetAllExistedModules() []Module {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Module, 0, len(l.modules))
	for _, rec := range l.modules {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetModuleByHash finds the module whose artifact content hash matches.
func (l *Loader) GetModuleByHash(hash string) (Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, rec := range l.modules {
		if rec.hash != "" && rec.hash == hash {
			return rec.snapshot(), true
		}
	}
	return Module{}, false
}

// ValidateDependencies confirms that every direct dependency of name both
// satisfies its declared version constraint and is currently Loaded.
func (l *Loader) ValidateDependencies(name string) error {
	conflicts, err := l.graph.DetectVersionConflictsFor(name)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		c := conflicts[0]
		return api.NewLoadFailureError(name, fmt.Errorf("dependency %s version %s does not satisfy %q", c.Dependency, c.Actual, c.Constraint))
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, dep := range l.graph.GetDependencies(name) {
		rec, ok := l.modules[dep]
		if !ok || rec.status != dependency.StatusLoaded {
			return api.NewNotLoadedError(dep)
		}
	}
	return nil
}

// LoadModulesInOrder resolves the load order for root and loads each module
// in sequence. Already-loaded modules are skipped. The first failure stops
// the walk and is returned; modules loaded before it stay loaded.
func (l *Loader) LoadModulesInOrder(ctx context.Context, root string) error {
	order, err := l.graph.ResolveDependencies(root)
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.loadRegistered(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// LoadModulesParallel loads the closure of root level by level: modules in
// one level have no dependencies among themselves and load concurrently,
// bounded by the configured worker count. A failure does not cancel sibling
// loads in flight, but the next level is not entered.
func (l *Loader) LoadModulesParallel(ctx context.Context, root string) error {
	levels, err := l.graph.ResolveParallelDependencies(root)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(l.workers)
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The group context is deliberately discarded: siblings in flight
		// run to completion even when one of them fails.
		g, _ := errgroup.WithContext(ctx)
		for _, name := range level {
			name := name
			g.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				return l.loadRegistered(ctx, name)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// loadRegistered loads one module through its registered path, skipping
// records that are already Loaded.
func (l *Loader) loadRegistered(ctx context.Context, name string) error {
	l.mu.RLock()
	rec, ok := l.modules[name]
	var path string
	var loaded bool
	if ok {
		path = rec.path
		loaded = rec.status == dependency.StatusLoaded
	}
	l.mu.RUnlock()

	if !ok {
		return api.NewUnknownModuleError(name)
	}
	if loaded {
		return nil
	}
	return l.LoadModule(ctx, path, name)
}

// UnloadAllModules unloads every loaded module in reverse topological order
// so no module is released before its dependents. When the graph cannot
// produce an order the loaded set is unloaded in arbitrary order instead.
func (l *Loader) UnloadAllModules() error {
	order, err := l.graph.TopologicalSort()
	if err != nil {
		order = nil
		for _, m := range l.GetAllExistedModules() {
			order = append(order, m.Name)
		}
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		status, err := l.GetModuleStatus(name)
		if err != nil || status != dependency.StatusLoaded {
			continue
		}
		if err := l.UnloadModule(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HasFunction reports whether a loaded module exports the symbol.
func (l *Loader) HasFunction(name, symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.modules[name]
	if !ok || rec.status != dependency.StatusLoaded {
		return false
	}
	_, ok = rec.exports[symbol]
	return ok
}

// GetFunction resolves a symbol handle from a loaded module's export table.
func (l *Loader) GetFunction(name, symbol string) (Symbol, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.modules[name]
	if !ok {
		return Symbol{}, api.NewUnknownModuleError(name)
	}
	if rec.status != dependency.StatusLoaded {
		return Symbol{}, api.NewNotLoadedError(name)
	}
	if _, ok := rec.exports[symbol]; !ok {
		return Symbol{}, api.NewSymbolNotFoundError(name, symbol)
	}
	return Symbol{Module: name, Name: symbol}, nil
}

// mirrorStatus pushes a status change onto the matching graph node, if any.
// Callers may hold l.mu; the graph has its own lock.
func (l *Loader) mirrorStatus(name string, status dependency.Status) {
	if l.graph == nil || !l.graph.HasNode(name) {
		return
	}
	if err := l.graph.SetStatus(name, status); err != nil {
		logging.Warn("Loader", "failed to mirror status %s for %s: %v", status, name, err)
	}
}

// HashArtifact computes the content hash used to detect on-disk changes.
func HashArtifact(path string) (string, error) {
	return hashFile(path)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
