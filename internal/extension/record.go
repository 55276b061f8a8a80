package extension

import "time"

// record is the Manager's mutable bookkeeping for one registered extension.
type record struct {
	name     string
	typ      Type
	meta     Metadata
	state    State
	lastErr  *Error
	instance Extension

	executions int
	lastRun    time.Time
}

func newRecord(t Type) *record {
	meta := t.Metadata()
	return &record{name: meta.Name, typ: t, meta: meta, state: StateUnloaded}
}

func (r *record) info() Info {
	info := Info{
		Name:       r.name,
		TypeName:   r.typ.TypeName(),
		Module:     r.typ.Module(),
		Metadata:   r.meta,
		State:      r.state,
		Executions: r.executions,
		LastRun:    r.lastRun,
	}
	info.Metadata.TargetPlatforms = append([]string(nil), r.meta.TargetPlatforms...)
	if r.lastErr != nil {
		info.Err = r.lastErr
	}
	return info
}

// Info is a read-only snapshot of a registered extension.
type Info struct {
	Name       string
	TypeName   string
	Module     string
	Metadata   Metadata
	State      State
	Err        error
	Executions int
	LastRun    time.Time
}
