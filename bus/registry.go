package bus

import (
	"sync"
)

var (
	registryMu sync.Mutex
	registry   = map[string]*entry{}
)

type entry struct {
	bus  *Bus
	refs int
}

// Handle is a counted reference to a process-wide bus.
type Handle struct {
	*Bus
	name string
	once sync.Once
}

// Acquire returns a handle to the bus registered under name, creating it
// on first use. Later acquisitions share the same bus and ignore opts, so
// re-running setup code (tests, reloads) never duplicates delivery.
func Acquire(name string, opts Options) *Handle {
	registryMu.Lock()
	defer registryMu.Unlock()
	e, ok := registry[name]
	if !ok {
		e = &entry{bus: New(opts)}
		registry[name] = e
	}
	e.refs++
	return &Handle{Bus: e.bus, name: name}
}

// Release drops this handle's reference. The bus is discarded once no
// handles remain. Calling Release more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		registryMu.Lock()
		defer registryMu.Unlock()
		e, ok := registry[h.name]
		if !ok || e.bus != h.Bus {
			return
		}
		e.refs--
		if e.refs <= 0 {
			delete(registry, h.name)
		}
	})
}

// Refs reports how many handles reference the named bus.
func Refs(name string) int {
	registryMu.Lock()
	defer registryMu.Unlock()
	if e, ok := registry[name]; ok {
		return e.refs
	}
	return 0
}
