package lua

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/artifex/internal/extension"
)

// Loader discovers extension types in Lua source files.
type Loader struct {
	opts []StateOption
}

var _ extension.TypeLoader = (*Loader)(nil)

// NewLoader creates a Loader. opts apply to every State it creates,
// including the ones backing instances.
func NewLoader(opts ...StateOption) *Loader {
	return &Loader{opts: opts}
}

// SourcePattern selects Lua extension files.
const SourcePattern = "*.lua"

// Pattern implements extension.TypeLoader.
func (l *Loader) Pattern() string { return SourcePattern }

// LoadTypes runs src in a fresh state and reflects over the globals it
// defined. A global table is a candidate when it derives from Extension
// or carries a metadata field.
func (l *Loader) LoadTypes(ctx context.Context, src extension.Source) ([]extension.Type, []*extension.Error, error) {
	st, err := NewState(l.opts...)
	if err != nil {
		return nil, nil, err
	}
	defer st.Close()

	before := map[string]bool{}
	for _, g := range st.Globals() {
		before[g] = true
	}
	if err := st.Load(ctx, src.Code, src.Module); err != nil {
		return nil, nil, err
	}

	var (
		types   []extension.Type
		invalid []*extension.Error
	)
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, name := range globalNames(st.L) {
		if before[name] || name == ContractName {
			continue
		}
		tbl, ok := st.L.GetGlobal(name).(*lua.LTable)
		if !ok {
			continue
		}
		if !derivesFrom(st.L, tbl, st.contract) && st.L.GetField(tbl, "metadata") == lua.LNil {
			continue
		}

		if missing := missingMethods(st.L, tbl); len(missing) > 0 {
			invalid = append(invalid, extension.ValidationError(name,
				errors.Newf("missing required capability: %s", strings.Join(missing, ", "))))
			continue
		}
		meta, err := readMetadata(st, tbl)
		if err != nil {
			invalid = append(invalid, extension.ValidationError(name, err))
			continue
		}
		types = append(types, &luaType{
			typeName: name,
			module:   src.Module,
			code:     src.Code,
			meta:     meta,
			opts:     l.opts,
		})
	}
	return types, invalid, nil
}

func globalNames(L *lua.LState) []string {
	var names []string
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			names = append(names, string(ks))
		}
	})
	sort.Strings(names)
	return names
}
