package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies a failure category on the control surface. Kinds are
// stable strings so callers above this layer (HTTP handlers, CLI) can act on
// them without depending on concrete error types.
type ErrorKind string

// Graph error kinds.
const (
	KindDuplicateNode    ErrorKind = "DuplicateNode"
	KindUnknownNode      ErrorKind = "UnknownNode"
	KindWouldCreateCycle ErrorKind = "WouldCreateCycle"
	KindCycleDetected    ErrorKind = "CycleDetected"
	KindHasDependents    ErrorKind = "HasDependents"
)

// Loader error kinds.
const (
	KindArtifactNotFound ErrorKind = "ArtifactNotFound"
	KindAlreadyLoaded    ErrorKind = "AlreadyLoaded"
	KindNotLoaded        ErrorKind = "NotLoaded"
	KindUnknownModule    ErrorKind = "UnknownModule"
	KindLoadFailure      ErrorKind = "LoadFailure"
	KindSymbolNotFound   ErrorKind = "SymbolNotFound"
)

// Manager error kinds.
const (
	KindInvalidParameters   ErrorKind = "InvalidParameters"
	KindInvalidTransition   ErrorKind = "InvalidTransition"
	KindHasActiveDependents ErrorKind = "HasActiveDependents"
)

// GraphError is returned by dependency graph operations. Node names the
// subject of the failed operation; Others carries the dependents or cycle
// path when relevant.
type GraphError struct {
	Kind   ErrorKind
	Node   string
	Others []string
	Msg    string
}

func (e *GraphError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	switch e.Kind {
	case KindDuplicateNode:
		return fmt.Sprintf("node %s already exists", e.Node)
	case KindUnknownNode:
		return fmt.Sprintf("node %s not found", e.Node)
	case KindWouldCreateCycle:
		return fmt.Sprintf("dependency %s -> %s would create a cycle", e.Node, strings.Join(e.Others, " -> "))
	case KindCycleDetected:
		return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Others, " -> "))
	case KindHasDependents:
		return fmt.Sprintf("node %s still has dependents: %s", e.Node, strings.Join(e.Others, ", "))
	default:
		return fmt.Sprintf("graph error %s for node %s", e.Kind, e.Node)
	}
}

// LoaderError is returned by module loader operations.
type LoaderError struct {
	Kind   ErrorKind
	Module string
	Path   string
	Err    error
}

func (e *LoaderError) Error() string {
	switch e.Kind {
	case KindArtifactNotFound:
		return fmt.Sprintf("artifact not found for module %s: %s", e.Module, e.Path)
	case KindAlreadyLoaded:
		return fmt.Sprintf("module %s is already loaded", e.Module)
	case KindNotLoaded:
		return fmt.Sprintf("module %s is not loaded", e.Module)
	case KindUnknownModule:
		return fmt.Sprintf("module %s not found", e.Module)
	case KindLoadFailure:
		return fmt.Sprintf("failed to load module %s: %v", e.Module, e.Err)
	case KindSymbolNotFound:
		return fmt.Sprintf("symbol %s not found in module %s", e.Path, e.Module)
	default:
		return fmt.Sprintf("loader error %s for module %s", e.Kind, e.Module)
	}
}

func (e *LoaderError) Unwrap() error { return e.Err }

// ManagerError is returned by component manager operations.
type ManagerError struct {
	Kind      ErrorKind
	Component string
	Field     string
	From      string
	To        string
	Others    []string
}

func (e *ManagerError) Error() string {
	switch e.Kind {
	case KindInvalidParameters:
		return fmt.Sprintf("invalid parameters for component %s: field %s", e.Component, e.Field)
	case KindInvalidTransition:
		return fmt.Sprintf("invalid transition for component %s: %s -> %s", e.Component, e.From, e.To)
	case KindHasActiveDependents:
		return fmt.Sprintf("component %s has active dependents: %s", e.Component, strings.Join(e.Others, ", "))
	default:
		return fmt.Sprintf("manager error %s for component %s", e.Kind, e.Component)
	}
}

// NotFoundError represents a resource not found error with contextual
// information, used for read-only queries on the control surface.
type NotFoundError struct {
	ResourceType string
	ResourceName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// Graph error constructors.

func NewDuplicateNodeError(node string) *GraphError {
	return &GraphError{Kind: KindDuplicateNode, Node: node}
}

func NewUnknownNodeError(node string) *GraphError {
	return &GraphError{Kind: KindUnknownNode, Node: node}
}

func NewWouldCreateCycleError(from, to string) *GraphError {
	return &GraphError{Kind: KindWouldCreateCycle, Node: from, Others: []string{to}}
}

func NewCycleDetectedError(cycle []string) *GraphError {
	return &GraphError{Kind: KindCycleDetected, Others: cycle}
}

func NewHasDependentsError(node string, dependents []string) *GraphError {
	return &GraphError{Kind: KindHasDependents, Node: node, Others: dependents}
}

// Loader error constructors.

func NewArtifactNotFoundError(module, path string) *LoaderError {
	return &LoaderError{Kind: KindArtifactNotFound, Module: module, Path: path}
}

func NewAlreadyLoadedError(module string) *LoaderError {
	return &LoaderError{Kind: KindAlreadyLoaded, Module: module}
}

func NewNotLoadedError(module string) *LoaderError {
	return &LoaderError{Kind: KindNotLoaded, Module: module}
}

func NewUnknownModuleError(module string) *LoaderError {
	return &LoaderError{Kind: KindUnknownModule, Module: module}
}

func NewLoadFailureError(module string, err error) *LoaderError {
	return &LoaderError{Kind: KindLoadFailure, Module: module, Err: err}
}

// NewSymbolNotFoundError reports a missing export. The symbol name travels in
// the Path field.
func NewSymbolNotFoundError(module, symbol string) *LoaderError {
	return &LoaderError{Kind: KindSymbolNotFound, Module: module, Path: symbol}
}

// Manager error constructors.

func NewInvalidParametersError(component, field string) *ManagerError {
	return &ManagerError{Kind: KindInvalidParameters, Component: component, Field: field}
}

func NewInvalidTransitionError(component, from, to string) *ManagerError {
	return &ManagerError{Kind: KindInvalidTransition, Component: component, From: from, To: to}
}

func NewHasActiveDependentsError(component string, dependents []string) *ManagerError {
	return &ManagerError{Kind: KindHasActiveDependents, Component: component, Others: dependents}
}

func NewComponentNotFoundError(name string) *NotFoundError {
	return &NotFoundError{ResourceType: "component", ResourceName: name}
}

// IsGraphError checks if an error is or wraps a GraphError.
func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

// IsLoaderError checks if an error is or wraps a LoaderError.
func IsLoaderError(err error) bool {
	var le *LoaderError
	return errors.As(err, &le)
}

// IsManagerError checks if an error is or wraps a ManagerError.
func IsManagerError(err error) bool {
	var me *ManagerError
	return errors.As(err, &me)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// KindOf extracts the ErrorKind from any control-surface error, or "" when
// the error carries no kind.
func KindOf(err error) ErrorKind {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	var le *LoaderError
	if errors.As(err, &le) {
		return le.Kind
	}
	var me *ManagerError
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}
