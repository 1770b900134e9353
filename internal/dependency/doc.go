// Package dependency implements the component dependency graph: a directed
// acyclic graph over component names with semver-constrained edges.
//
// The graph answers three questions for the loader and manager above it:
// in what order must components load (TopologicalSort, ResolveDependencies),
// which of them may load concurrently (ResolveParallelDependencies), and do
// any declared version constraints go unsatisfied (DetectVersionConflicts).
//
// Acyclicity is enforced at mutation time: AddDependency rejects any edge
// that would close a cycle. HasCycle and the cycle branch inside resolution
// remain as a full verification pass, reporting the offending path when a
// cycle is found. Resolution results are memoized per root and invalidated
// by every structural mutation.
package dependency
