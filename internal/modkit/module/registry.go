package module

import "sync"

// registry maps module names to their port bundles during bootstrap
type registry struct {
	mu    sync.RWMutex
	ports map[string]any
}

var defaultRegistry = &registry{ports: map[string]any{}}

// Register stores the port bundle of a module
func Register(name string, ports any) {
	defaultRegistry.mu.Lock()
	defaultRegistry.ports[name] = ports
	defaultRegistry.mu.Unlock()
}

// PortsAs returns the bundle registered under name as T
func PortsAs[T any](name string) (T, bool) {
	defaultRegistry.mu.RLock()
	v, ok := defaultRegistry.ports[name]
	defaultRegistry.mu.RUnlock()
	out, isT := v.(T)
	return out, ok && isT
}

// Reset clears the registry for tests
func Reset() {
	defaultRegistry.mu.Lock()
	defaultRegistry.ports = map[string]any{}
	defaultRegistry.mu.Unlock()
}
