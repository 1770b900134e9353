package manager

import (
	"context"

	"stardock/internal/api"
)

// Surface is the synchronous control surface consumed by the HTTP/API layer
// above the manager. Every operation returns a structured api.Result; no
// failure crosses this boundary as a panic or raw error.
type Surface struct {
	mgr *Manager
}

// NewSurface wraps a manager in its control surface.
func NewSurface(m *Manager) *Surface {
	return &Surface{mgr: m}
}

// LoadComponent loads a component with the given parameters.
func (s *Surface) LoadComponent(ctx context.Context, name string, params map[string]interface{}) api.Result {
	if err := s.mgr.LoadComponent(ctx, name, params); err != nil {
		return api.Fail(err)
	}
	return api.OK(map[string]interface{}{"name": name, "state": s.mgr.ComponentState(name)})
}

// UnloadComponent releases a component.
func (s *Surface) UnloadComponent(ctx context.Context, name string) api.Result {
	if err := s.mgr.UnloadComponent(ctx, name); err != nil {
		return api.Fail(err)
	}
	return api.OK(map[string]interface{}{"name": name})
}

// StartComponent transitions a loaded component to Running.
func (s *Surface) StartComponent(name string) api.Result {
	return resultOf(s.mgr.StartComponent(name))
}

// StopComponent stops a running or paused component.
func (s *Surface) StopComponent(name string) api.Result {
	return resultOf(s.mgr.StopComponent(name))
}

// PauseComponent pauses a running component.
func (s *Surface) PauseComponent(name string) api.Result {
	return resultOf(s.mgr.PauseComponent(name))
}

// ResumeComponent resumes a paused component.
func (s *Surface) ResumeComponent(name string) api.Result {
	return resultOf(s.mgr.ResumeComponent(name))
}

// GetComponent returns a component's module snapshot.
func (s *Surface) GetComponent(name string) api.Result {
	mod, err := s.mgr.GetComponent(name)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(mod)
}

// GetComponentInfo returns a component's full read-only view.
func (s *Surface) GetComponentInfo(name string) api.Result {
	info, err := s.mgr.GetComponentInfo(name)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(info)
}

// GetComponentList returns every registered component name.
func (s *Surface) GetComponentList() api.Result {
	return api.OK(s.mgr.GetComponentList())
}

// BatchLoad loads a list of components, reporting per-name outcomes.
func (s *Surface) BatchLoad(ctx context.Context, names []string, params map[string]interface{}) api.Result {
	results := s.mgr.BatchLoad(ctx, names, params)
	return api.OK(batchPayload(results))
}

// BatchUnload unloads a list of components, reporting per-name outcomes.
func (s *Surface) BatchUnload(ctx context.Context, names []string) api.Result {
	results := s.mgr.BatchUnload(ctx, names)
	return api.OK(batchPayload(results))
}

func batchPayload(results []BatchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		entry := map[string]interface{}{"name": r.Name, "success": r.Err == nil}
		if r.Err != nil {
			entry["error"] = map[string]interface{}{
				"kind":    api.KindOf(r.Err),
				"message": r.Err.Error(),
			}
		}
		out = append(out, entry)
	}
	return out
}

func resultOf(err error) api.Result {
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}
