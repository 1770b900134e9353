// Package api defines the control-surface contract shared by the dependency
// graph, module loader, and component manager: the structured Result type
// every operation returns, and the typed error taxonomy (GraphError,
// LoaderError, ManagerError) with kind constants and constructor helpers.
//
// The three subsystems return these typed errors to their immediate caller;
// nothing in stardock throws across the control surface. Callers match on
// kinds via KindOf or the Is* predicates rather than string comparison.
package api
