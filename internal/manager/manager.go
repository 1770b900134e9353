package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"stardock/internal/api"
	"stardock/internal/dependency"
	"stardock/internal/loader"
	"stardock/pkg/logging"
)

// componentsDirEnv overrides the configured component directory.
const componentsDirEnv = "STARDOCK_COMPONENTS_DIR"

// ComponentInfo is the read-only view of one managed component.
type ComponentInfo struct {
	Name         string                  `json:"name"`
	Version      string                  `json:"version"`
	State        State                   `json:"state"`
	Enabled      bool                    `json:"enabled"`
	Group        string                  `json:"group,omitempty"`
	Priority     int                     `json:"priority,omitempty"`
	Dependencies []dependency.Dependency `json:"dependencies,omitempty"`
	Module       loader.Module           `json:"module"`
}

// Metrics is a read-only per-component performance snapshot.
type Metrics struct {
	LoadCount       int           `json:"loadCount"`
	AverageLoadTime time.Duration `json:"averageLoadTime"`
	LastError       string        `json:"lastError,omitempty"`
}

// BatchResult reports the outcome of one name inside a batch operation.
type BatchResult struct {
	Name string `json:"name"`
	Err  error  `json:"error,omitempty"`
}

// Manager owns the component lifecycle: it drives the dependency graph and
// module loader underneath it, validates state transitions, and emits events
// other subsystems observe. All methods are safe for concurrent use;
// concurrent loads of the same component are serialized, disjoint names
// proceed in parallel.
type Manager struct {
	mu    sync.RWMutex
	graph *dependency.Graph
	ldr   *loader.Loader

	states      map[string]State
	descriptors map[string]*Descriptor
	configs     map[string]map[string]interface{}
	listeners   map[EventKind][]Listener
	metrics     map[string]*perf
	treeCache   map[string]string

	loads singleflight.Group

	componentsDir string
	workers       int
	initialized   bool

	watchMu   sync.Mutex
	watchStop chan struct{}
	watchDone chan struct{}
}

type perf struct {
	loadCount int
	totalLoad time.Duration
	lastError string
}

// Option configures a Manager.
type Option func(*Manager)

// WithComponentsDir sets the directory scanned for component descriptors.
func WithComponentsDir(dir string) Option {
	return func(m *Manager) { m.componentsDir = dir }
}

// WithWorkers bounds concurrent artifact loads.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
			m.ldr = loader.New(m.graph, loader.WithWorkers(n))
		}
	}
}

// New returns an uninitialized manager. Call Initialize before use.
func New(opts ...Option) *Manager {
	g := dependency.New()
	m := &Manager{
		graph:       g,
		ldr:         loader.New(g),
		states:      make(map[string]State),
		descriptors: make(map[string]*Descriptor),
		configs:     make(map[string]map[string]interface{}),
		listeners:   make(map[EventKind][]Listener),
		metrics:     make(map[string]*perf),
		treeCache:   make(map[string]string),
		workers:     4,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Graph exposes the underlying dependency graph.
func (m *Manager) Graph() *dependency.Graph { return m.graph }

// Loader exposes the underlying module loader.
func (m *Manager) Loader() *loader.Loader { return m.ldr }

// Initialize prepares the manager's registries. Idempotent: a second call is
// a no-op. The STARDOCK_COMPONENTS_DIR environment variable overrides any
// configured component directory.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if dir := os.Getenv(componentsDirEnv); dir != "" {
		m.componentsDir = dir
	}
	m.initialized = true
	logging.Info("Manager", "component manager initialized (components dir: %s)", m.componentsDir)
	return nil
}

// Destroy tears the manager down: the watcher stops, every loaded module is
// released, and the registries are cleared. Idempotent.
func (m *Manager) Destroy() error {
	m.StopWatching()

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = false
	m.mu.Unlock()

	err := m.ldr.UnloadAllModules()

	m.mu.Lock()
	m.states = make(map[string]State)
	m.descriptors = make(map[string]*Descriptor)
	m.configs = make(map[string]map[string]interface{})
	m.metrics = make(map[string]*perf)
	m.treeCache = make(map[string]string)
	m.mu.Unlock()

	m.graph.Clear()
	logging.Info("Manager", "component manager destroyed")
	return err
}

// ScanComponents enumerates component directories under path and returns the
// names whose artifacts are new or changed since the last load, diffed by
// content hash. Nothing is loaded. Directories without a descriptor are
// skipped. The scan checks ctx between entries; a cancelled scan reports the
// names found so far along with the cancellation error.
func (m *Manager) ScanComponents(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		path = m.componentsDir
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("scan components in %s: %w", path, err)
	}

	var mu sync.Mutex
	var changed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(path, entry.Name())
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			desc, err := LoadDescriptor(dir)
			if err != nil {
				logging.Debug("Manager", "skipping %s: %v", dir, err)
				return nil
			}
			fresh, err := m.artifactChanged(desc)
			if err != nil {
				logging.Warn("Manager", "cannot hash artifact for %s: %v", desc.Name, err)
				return nil
			}
			if fresh {
				mu.Lock()
				changed = append(changed, desc.Name)
				mu.Unlock()
			}
			return nil
		})
	}

	err = g.Wait()
	sort.Strings(changed)
	return changed, err
}

// artifactChanged reports whether the descriptor's artifact differs from the
// hash recorded at last load. Unknown components always count as changed.
func (m *Manager) artifactChanged(desc *Descriptor) (bool, error) {
	mod, err := m.ldr.GetModule(desc.Name)
	if err != nil || mod.Hash == "" {
		return true, nil
	}
	hash, err := loader.HashArtifact(desc.ArtifactPath())
	if err != nil {
		return false, err
	}
	return hash != mod.Hash, nil
}

// RegisterComponent makes a component known to the manager: its node joins
// the dependency graph, its artifact is registered with the loader, and its
// state starts at Unloaded. Dependencies must already be registered.
func (m *Manager) RegisterComponent(desc *Descriptor) error {
	if err := desc.Validate(); err != nil {
		return api.NewInvalidParametersError(desc.Name, err.Error())
	}

	if err := m.graph.AddNode(desc.Name, desc.Version, desc.Dependencies); err != nil {
		return err
	}
	if desc.Priority != 0 {
		if err := m.graph.SetPriority(desc.Name, desc.Priority); err != nil {
			return err
		}
	}
	if desc.Group != "" {
		if err := m.graph.SetGroup(desc.Name, desc.Group); err != nil {
			return err
		}
	}
	if err := m.ldr.Register(desc.Name, desc.ArtifactPath()); err != nil {
		return err
	}
	if !desc.IsEnabled() {
		if err := m.ldr.DisableModule(desc.Name); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.descriptors[desc.Name] = desc
	m.states[desc.Name] = StateUnloaded
	m.metrics[desc.Name] = &perf{}
	m.treeCache = make(map[string]string)
	m.mu.Unlock()

	logging.Info("Manager", "registered component %s version %s", desc.Name, desc.Version)
	return nil
}

// LoadComponent validates params against the component's declared schema,
// loads the full dependency closure in order, and transitions the component
// to Loaded only after every node in the order is Loaded. Concurrent loads
// of the same name are coalesced into one.
func (m *Manager) LoadComponent(ctx context.Context, name string, params map[string]interface{}) error {
	return m.load(ctx, name, params, false)
}

// LoadComponentParallel behaves like LoadComponent but loads each dependency
// level concurrently, bounded by the configured worker count. State tracking
// and events are identical to the sequential path: every tracked node moves
// through Loading to Loaded, and the root's Loaded event fires only once the
// whole closure is up.
func (m *Manager) LoadComponentParallel(ctx context.Context, name string, params map[string]interface{}) error {
	return m.load(ctx, name, params, true)
}

func (m *Manager) load(ctx context.Context, name string, params map[string]interface{}, parallel bool) error {
	m.mu.RLock()
	desc, ok := m.descriptors[name]
	m.mu.RUnlock()
	if !ok {
		return api.NewComponentNotFoundError(name)
	}

	if field, valid := validateParams(desc, params); !valid {
		return api.NewInvalidParametersError(name, field)
	}

	_, err, _ := m.loads.Do(name, func() (interface{}, error) {
		return nil, m.doLoad(ctx, name, params, parallel)
	})
	return err
}

func (m *Manager) doLoad(ctx context.Context, name string, params map[string]interface{}, parallel bool) error {
	if state := m.ComponentState(name); state == StateLoaded || state == StateRunning || state == StatePaused {
		return nil
	}

	start := time.Now()
	m.setState(name, StateLoading)

	var err error
	if parallel {
		err = m.loadClosureParallel(ctx, name)
	} else {
		err = m.loadClosure(ctx, name)
	}
	if err != nil {
		m.failLoad(name, err)
		return err
	}

	if params != nil {
		m.mu.Lock()
		m.configs[name] = deepMerge(m.configs[name], params)
		m.mu.Unlock()
	}

	m.setState(name, StateLoaded)
	m.emit(name, EventLoaded, nil)

	m.mu.Lock()
	if p := m.metrics[name]; p != nil {
		p.loadCount++
		p.totalLoad += time.Since(start)
		p.lastError = ""
	}
	m.mu.Unlock()
	return nil
}

// loadClosure loads the root's dependency closure one node at a time, in
// resolved order.
func (m *Manager) loadClosure(ctx context.Context, name string) error {
	order, err := m.graph.ResolveDependencies(name)
	if err != nil {
		return err
	}

	for _, node := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, serr := m.ldr.GetModuleStatus(node)
		if serr == nil && status == dependency.StatusLoaded {
			continue
		}
		// Everything before node in the order is Loaded by now, so this
		// checks version constraints and dependency liveness in one pass.
		if err := m.ldr.ValidateDependencies(node); err != nil {
			return err
		}
		if err := m.loadNode(ctx, node, node == name); err != nil {
			return err
		}
	}
	return nil
}

// loadClosureParallel loads the root's closure level by level: members of
// one level have no dependencies among themselves and load concurrently. A
// failing node does not cancel its siblings in flight, but the next level is
// not entered.
func (m *Manager) loadClosureParallel(ctx context.Context, name string) error {
	levels, err := m.graph.ResolveParallelDependencies(name)
	if err != nil {
		return err
	}

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The group context is deliberately discarded: siblings in flight
		// run to completion even when one of them fails.
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(m.workers)
		for _, node := range level {
			node := node
			g.Go(func() error {
				status, serr := m.ldr.GetModuleStatus(node)
				if serr == nil && status == dependency.StatusLoaded {
					return nil
				}
				if err := m.ldr.ValidateDependencies(node); err != nil {
					return err
				}
				return m.loadNode(ctx, node, node == name)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// loadNode loads one node of the closure, tracking its component state when
// the node is itself a registered component. The root's Loaded event is
// emitted by doLoad once the whole closure is up, not here.
func (m *Manager) loadNode(ctx context.Context, node string, isRoot bool) error {
	tracked := m.isRegistered(node)
	if tracked && !isRoot {
		m.setState(node, StateLoading)
	}

	mod, err := m.ldr.GetModule(node)
	if err != nil {
		err = api.NewComponentNotFoundError(node)
		if tracked && !isRoot {
			m.failLoad(node, err)
		}
		return err
	}

	if err := m.ldr.LoadModule(ctx, mod.Path, node); err != nil {
		if tracked && !isRoot {
			m.failLoad(node, err)
		}
		return err
	}

	if tracked && !isRoot {
		m.setState(node, StateLoaded)
		m.emit(node, EventLoaded, nil)
	}
	return nil
}

// UnloadComponent releases a component and any of its dependencies that no
// loaded component outside the unload set still needs. It fails with
// HasActiveDependents when something outside the set depends on name and is
// not itself Unloaded.
func (m *Manager) UnloadComponent(ctx context.Context, name string) error {
	if !m.isRegistered(name) {
		return api.NewComponentNotFoundError(name)
	}

	order, err := m.graph.ResolveDependencies(name)
	if err != nil {
		return err
	}
	inSet := make(map[string]struct{}, len(order))
	for _, n := range order {
		inSet[n] = struct{}{}
	}

	if active := m.activeDependentsOutside(name, inSet); len(active) > 0 {
		return api.NewHasActiveDependentsError(name, active)
	}

	// Reverse order: the root first, dependencies after.
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		status, serr := m.ldr.GetModuleStatus(node)
		if serr != nil || status != dependency.StatusLoaded {
			continue
		}
		// A shared dependency stays loaded while anything outside the set
		// still uses it.
		if node != name && len(m.activeDependentsOutside(node, inSet)) > 0 {
			continue
		}

		if err := m.ldr.UnloadModule(node); err != nil {
			return err
		}
		if m.isRegistered(node) {
			m.setState(node, StateUnloaded)
			m.emit(node, EventUnloaded, nil)
		}
	}
	return nil
}

// activeDependentsOutside lists dependents of node, excluding members of the
// set, whose module is not Unloaded.
func (m *Manager) activeDependentsOutside(node string, set map[string]struct{}) []string {
	var active []string
	for _, dep := range m.graph.GetDependents(node) {
		if _, ok := set[dep]; ok {
			continue
		}
		status, err := m.ldr.GetModuleStatus(dep)
		if err == nil && status != dependency.StatusUnloaded {
			active = append(active, dep)
		}
	}
	sort.Strings(active)
	return active
}

// StartComponent transitions Loaded -> Running.
func (m *Manager) StartComponent(name string) error {
	return m.transition(name, StateRunning)
}

// PauseComponent transitions Running -> Paused.
func (m *Manager) PauseComponent(name string) error {
	return m.transition(name, StatePaused)
}

// ResumeComponent transitions Paused -> Running.
func (m *Manager) ResumeComponent(name string) error {
	m.mu.RLock()
	state, ok := m.states[name]
	m.mu.RUnlock()
	if !ok {
		return api.NewComponentNotFoundError(name)
	}
	if state != StatePaused {
		return api.NewInvalidTransitionError(name, string(state), string(StateRunning))
	}
	return m.transition(name, StateRunning)
}

// StopComponent transitions Running or Paused through Stopping to Stopped.
func (m *Manager) StopComponent(name string) error {
	if err := m.transition(name, StateStopping); err != nil {
		return err
	}
	return m.transition(name, StateStopped)
}

// transition validates and applies one state change, emitting StateChanged.
func (m *Manager) transition(name string, to State) error {
	m.mu.Lock()
	from, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return api.NewComponentNotFoundError(name)
	}
	if !canTransition(from, to) {
		m.mu.Unlock()
		return api.NewInvalidTransitionError(name, string(from), string(to))
	}
	m.states[name] = to
	m.mu.Unlock()

	m.emit(name, EventStateChanged, map[string]interface{}{"from": string(from), "to": string(to)})
	return nil
}

// setState applies a lifecycle-driven state change without consulting the
// transition table; load and unload legs own their ordering.
func (m *Manager) setState(name string, to State) {
	m.mu.Lock()
	from := m.states[name]
	m.states[name] = to
	m.mu.Unlock()

	if from != to {
		m.emit(name, EventStateChanged, map[string]interface{}{"from": string(from), "to": string(to)})
	}
}

// failLoad records a failed load: state Error, metrics, and an Error event.
func (m *Manager) failLoad(name string, cause error) {
	m.setState(name, StateError)

	m.mu.Lock()
	if p := m.metrics[name]; p != nil {
		p.lastError = cause.Error()
	}
	m.mu.Unlock()

	m.emit(name, EventError, map[string]interface{}{"error": cause.Error()})
	logging.Error("Manager", cause, "failed to load component %s", name)
}

// HasComponent reports whether name is registered.
func (m *Manager) HasComponent(name string) bool {
	return m.isRegistered(name)
}

func (m *Manager) isRegistered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.descriptors[name]
	return ok
}

// ComponentState returns the current lifecycle state, StateUnloaded for
// unknown names.
func (m *Manager) ComponentState(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[name]; ok {
		return s
	}
	return StateUnloaded
}

// GetComponent returns the module snapshot backing a component.
func (m *Manager) GetComponent(name string) (loader.Module, error) {
	if !m.isRegistered(name) {
		return loader.Module{}, api.NewComponentNotFoundError(name)
	}
	return m.ldr.GetModule(name)
}

// GetComponentInfo assembles the full read-only view of one component.
func (m *Manager) GetComponentInfo(name string) (ComponentInfo, error) {
	m.mu.RLock()
	desc, ok := m.descriptors[name]
	state := m.states[name]
	m.mu.RUnlock()
	if !ok {
		return ComponentInfo{}, api.NewComponentNotFoundError(name)
	}

	mod, err := m.ldr.GetModule(name)
	if err != nil {
		return ComponentInfo{}, err
	}

	info := ComponentInfo{
		Name:         desc.Name,
		Version:      desc.Version,
		State:        state,
		Enabled:      m.ldr.IsModuleEnabled(name),
		Group:        desc.Group,
		Priority:     desc.Priority,
		Dependencies: desc.Dependencies,
		Module:       mod,
	}
	return info, nil
}

// GetComponentList returns every registered component name, sorted.
func (m *Manager) GetComponentList() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.descriptors))
	for name := range m.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetComponentDoc returns the component's documentation string.
func (m *Manager) GetComponentDoc(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	desc, ok := m.descriptors[name]
	if !ok {
		return "", api.NewComponentNotFoundError(name)
	}
	return desc.Doc, nil
}

// UpdateConfig deep-merges a partial configuration update into the
// component's stored configuration. Unspecified fields stay untouched.
func (m *Manager) UpdateConfig(name string, patch map[string]interface{}) error {
	if !m.isRegistered(name) {
		return api.NewComponentNotFoundError(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = deepMerge(m.configs[name], patch)
	return nil
}

// GetConfig returns a copy of the component's stored configuration.
func (m *Manager) GetConfig(name string) (map[string]interface{}, error) {
	if !m.isRegistered(name) {
		return nil, api.NewComponentNotFoundError(name)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyConfig(m.configs[name]), nil
}

// AddGroup tags the given components with a group label on their graph
// nodes.
func (m *Manager) AddGroup(group string, members []string) error {
	for _, name := range members {
		if err := m.graph.SetGroup(name, group); err != nil {
			return err
		}
	}
	return nil
}

// GetGroupDependencies projects the dependency closure over every member of
// a group.
func (m *Manager) GetGroupDependencies(group string) []string {
	return m.graph.GroupDependencies(group)
}

// BatchLoad attempts to load every named component, collecting a per-name
// result instead of stopping at the first failure. A graph-structural error
// (unknown node, cycle) aborts the remaining names, as every subsequent load
// would fail the same way. Cancellation abandons the remaining queue;
// results gathered so far are still returned.
func (m *Manager) BatchLoad(ctx context.Context, names []string, params map[string]interface{}) []BatchResult {
	results := make([]BatchResult, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return appendCancelled(results, names[i:], err)
		}

		err := m.LoadComponent(ctx, name, params)
		results = append(results, BatchResult{Name: name, Err: err})

		if err != nil && structuralFailure(err) {
			return appendCancelled(results, names[i+1:], err)
		}
	}
	return results
}

// BatchUnload attempts to unload every named component, collecting per-name
// results.
func (m *Manager) BatchUnload(ctx context.Context, names []string) []BatchResult {
	results := make([]BatchResult, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return appendCancelled(results, names[i:], err)
		}
		results = append(results, BatchResult{Name: name, Err: m.UnloadComponent(ctx, name)})
	}
	return results
}

func appendCancelled(results []BatchResult, rest []string, err error) []BatchResult {
	for _, name := range rest {
		results = append(results, BatchResult{Name: name, Err: err})
	}
	return results
}

// structuralFailure reports whether an error dooms every remaining batch
// entry rather than just the current one.
func structuralFailure(err error) bool {
	switch api.KindOf(err) {
	case api.KindCycleDetected, api.KindWouldCreateCycle:
		return true
	}
	return false
}

// ComponentMetrics returns the performance snapshot for one component.
func (m *Manager) ComponentMetrics(name string) (Metrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.metrics[name]
	if !ok {
		return Metrics{}, api.NewComponentNotFoundError(name)
	}
	out := Metrics{LoadCount: p.loadCount, LastError: p.lastError}
	if p.loadCount > 0 {
		out.AverageLoadTime = p.totalLoad / time.Duration(p.loadCount)
	}
	return out, nil
}

// ClearCaches drops memoized derived views: rendered dependency trees here,
// resolution orders in the graph.
func (m *Manager) ClearCaches() {
	m.mu.Lock()
	m.treeCache = make(map[string]string)
	m.mu.Unlock()
	m.graph.ClearCache()
}

// deepMerge merges patch into base recursively: nested maps merge key by
// key, anything else in patch replaces the base value. base is not mutated.
func deepMerge(base, patch map[string]interface{}) map[string]interface{} {
	out := copyConfig(base)
	if out == nil {
		out = make(map[string]interface{}, len(patch))
	}
	for key, val := range patch {
		patchMap, patchIsMap := val.(map[string]interface{})
		baseMap, baseIsMap := out[key].(map[string]interface{})
		if patchIsMap && baseIsMap {
			out[key] = deepMerge(baseMap, patchMap)
			continue
		}
		out[key] = val
	}
	return out
}

func copyConfig(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = copyConfig(nested)
			continue
		}
		out[k] = v
	}
	return out
}
