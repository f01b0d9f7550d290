package registry

import (
	"github.com/ruteri/attachment-store/interfaces"
)

// Registry maps storage names to backends and representation types to
// ordered handler lists.
type Registry struct {
	backends     map[string]interfaces.StorageBackend
	backendOrder []string
	handlers     map[string][]interfaces.RepresentationHandler

	defaultStorage string
	useLocking     bool
}

// New returns an empty registry with representation locking enabled.
func New() *Registry {
	return &Registry{
		backends:   make(map[string]interfaces.StorageBackend),
		handlers:   make(map[string][]interfaces.RepresentationHandler),
		useLocking: true,
	}
}

// RegisterStorageBackend adds or replaces the backend registered under name.
// Replacing keeps the original registration position.
func (r *Registry) RegisterStorageBackend(name string, backend interfaces.StorageBackend) {
	if _, exists := r.backends[name]; !exists {
		r.backendOrder = append(r.backendOrder, name)
	}
	r.backends[name] = backend
}

// ClearStorageBackends drops every registered backend.
func (r *Registry) ClearStorageBackends() {
	r.backends = make(map[string]interfaces.StorageBackend)
	r.backendOrder = nil
}

// StorageBackend looks up a backend by name.
func (r *Registry) StorageBackend(name string) (interfaces.StorageBackend, bool) {
	backend, ok := r.backends[name]
	return backend, ok
}

// StorageBackendNames returns the registered names in registration order.
func (r *Registry) StorageBackendNames() []string {
	return append([]string(nil), r.backendOrder...)
}

// RegisterRepresentationHandler appends handler to the list for rtype.
// Handlers are consulted in registration order.
func (r *Registry) RegisterRepresentationHandler(rtype string, handler interfaces.RepresentationHandler) {
	r.handlers[rtype] = append(r.handlers[rtype], handler)
}

// ClearRepresentationHandlers drops every registered handler.
func (r *Registry) ClearRepresentationHandlers() {
	r.handlers = make(map[string][]interfaces.RepresentationHandler)
}

// RepresentationHandlers returns the handlers registered for rtype, in order.
func (r *Registry) RepresentationHandlers(rtype string) []interfaces.RepresentationHandler {
	return append([]interfaces.RepresentationHandler(nil), r.handlers[rtype]...)
}

// SetDefaultStorageName selects the backend new attachments are written to.
func (r *Registry) SetDefaultStorageName(name string) {
	r.defaultStorage = name
}

// DefaultStorageName returns the explicit default if it is registered,
// otherwise the first registered backend, otherwise "".
func (r *Registry) DefaultStorageName() string {
	if _, ok := r.backends[r.defaultStorage]; ok {
		return r.defaultStorage
	}
	if len(r.backendOrder) > 0 {
		return r.backendOrder[0]
	}
	return ""
}

// SetUseLocking toggles row locking around representation generation.
func (r *Registry) SetUseLocking(enabled bool) {
	r.useLocking = enabled
}

func (r *Registry) UseLocking() bool {
	return r.useLocking
}
