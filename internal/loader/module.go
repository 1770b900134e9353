package loader

import (
	"sort"
	"time"

	"stardock/internal/dependency"
)

// Statistics aggregates per-module load telemetry.
type Statistics struct {
	LoadCount       int           `json:"loadCount"`
	FailureCount    int           `json:"failureCount"`
	AverageLoadTime time.Duration `json:"averageLoadTime"`
	LastAccess      time.Time     `json:"lastAccess"`
}

// Module is an immutable snapshot of a module record.
type Module struct {
	Name      string            `json:"name"`
	Path      string            `json:"path"`
	Hash      string            `json:"hash,omitempty"`
	Kind      ArtifactKind      `json:"kind"`
	Status    dependency.Status `json:"status"`
	Enabled   bool              `json:"enabled"`
	LastError string            `json:"lastError,omitempty"`
	LoadedAt  time.Time         `json:"loadedAt"`
	Exports   []string          `json:"exports,omitempty"`
	Stats     Statistics        `json:"stats"`
}

// moduleRecord is the loader's mutable bookkeeping for one module. A record
// outlives its load: unloading returns it to Unloaded but keeps the path,
// enablement, and statistics, so a later reload starts from known state.
type moduleRecord struct {
	name      string
	path      string
	hash      string
	kind      ArtifactKind
	status    dependency.Status
	enabled   bool
	lastError string
	loadedAt  time.Time
	exports   map[string]struct{}

	stats         Statistics
	totalLoadTime time.Duration
}

func (r *moduleRecord) snapshot() Module {
	exports := make([]string, 0, len(r.exports))
	for name := range r.exports {
		exports = append(exports, name)
	}
	sort.Strings(exports)
	return Module{
		Name:      r.name,
		Path:      r.path,
		Hash:      r.hash,
		Kind:      r.kind,
		Status:    r.status,
		Enabled:   r.enabled,
		LastError: r.lastError,
		LoadedAt:  r.loadedAt,
		Exports:   exports,
		Stats:     r.stats,
	}
}

func (r *moduleRecord) recordSuccess(elapsed time.Duration) {
	r.stats.LoadCount++
	r.totalLoadTime += elapsed
	r.stats.AverageLoadTime = r.totalLoadTime / time.Duration(r.stats.LoadCount)
	r.stats.LastAccess = time.Now()
}

func (r *moduleRecord) recordFailure() {
	r.stats.FailureCount++
	r.stats.LastAccess = time.Now()
}

// Symbol is a resolved export handle: the owning module plus the symbol
// name. Callers hand it to whatever execution backend hosts the artifact.
type Symbol struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}
