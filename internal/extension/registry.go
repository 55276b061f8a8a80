package extension

import "sort"

// Registry maps extension names to records. Keys are unique; the first
// type registered under a name wins.
type Registry struct {
	records map[string]*record
	order   []string
}

// NewRegistry builds a registry from types in discovery order.
// Name conflicts are returned as DiscoveryErrors; the later type is dropped.
func NewRegistry(types []Type) (*Registry, []*Error) {
	reg := &Registry{records: make(map[string]*record, len(types))}
	var conflicts []*Error
	for _, t := range types {
		if err := reg.add(t); err != nil {
			conflicts = append(conflicts, err)
		}
	}
	return reg, conflicts
}

func (r *Registry) add(t Type) *Error {
	name := t.Metadata().Name
	if existing, ok := r.records[name]; ok {
		return &Error{
			Kind:      KindDiscovery,
			Extension: name,
			Op:        OpDiscover,
			Path:      t.Module(),
			Err: errorf("duplicate extension name: %s already provided by %s",
				t.Module(), existing.typ.Module()),
		}
	}
	r.records[name] = newRecord(t)
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) get(name string) (*record, bool) {
	rec, ok := r.records[name]
	return rec, ok
}

// Len returns the number of registered extensions.
func (r *Registry) Len() int { return len(r.records) }

// Names returns registered names in discovery order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// SortedNames returns registered names sorted lexically.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.records[name]
	return ok
}
