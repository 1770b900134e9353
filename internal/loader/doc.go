// Package loader maps dependency-graph nodes to loadable artifacts on disk.
//
// Each module has one record keyed by node name, tracking artifact path,
// content hash, load status, an enabled flag independent of load status, and
// the exported symbol table. Two artifact kinds are supported: native shared
// libraries (ELF shared objects, exports read from the dynamic symbol table)
// and script modules (exports read from top-level function declarations).
//
// The load status state machine is Unloaded -> Loading -> Loaded -> Unloaded,
// with Loading -> Error and Loaded -> Error on failure. Error is recoverable
// only through an explicit reload. The loader never consults the dependency
// graph before unloading; ordering and dependent safety belong to the
// component manager above it.
package loader
