package lua

import (
	"context"

	"github.com/cockroachdb/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/services"
)

// luaType is a type discovered in a Lua source file.
type luaType struct {
	typeName string
	module   string
	code     []byte
	meta     extension.Metadata
	opts     []StateOption
}

func (t *luaType) TypeName() string              { return t.typeName }
func (t *luaType) Module() string                { return t.module }
func (t *luaType) Metadata() extension.Metadata { return t.meta }

// New runs the source again in a fresh state bound to svc and builds an
// instance, via Type:new(services) when defined.
func (t *luaType) New(svc services.Services) (extension.Extension, error) {
	st, err := NewState(t.opts...)
	if err != nil {
		return nil, err
	}
	ext := &luaExtension{state: st, meta: t.meta, ctx: context.Background()}

	st.mu.Lock()
	servicesTbl := bindServices(st.L, svc, t.meta.Name, ext.currentContext)
	st.mu.Unlock()

	if err := st.Load(ext.ctx, t.code, t.module); err != nil {
		st.Close()
		return nil, err
	}

	typeTbl, ok := st.GetGlobal(t.typeName).(*lua.LTable)
	if !ok {
		st.Close()
		return nil, errors.Wrapf(ErrTypeMissing, "%s in %s", t.typeName, t.module)
	}

	instance, err := t.construct(st, typeTbl, servicesTbl)
	if err != nil {
		st.Close()
		return nil, err
	}
	ext.instance = instance
	return ext, nil
}

func (t *luaType) construct(st *State, typeTbl, servicesTbl *lua.LTable) (*lua.LTable, error) {
	if ctor, ok := st.L.GetField(typeTbl, "new").(*lua.LFunction); ok {
		res, err := st.Call(context.Background(), ctor, typeTbl, servicesTbl)
		if err != nil {
			return nil, errors.Wrap(err, "new")
		}
		if len(res) == 0 {
			return nil, errors.New("new returned nothing")
		}
		inst, ok := res[0].(*lua.LTable)
		if !ok {
			return nil, errors.Newf("new returned %s, want table", res[0].Type())
		}
		if st.L.GetField(inst, "services") == lua.LNil {
			inst.RawSetString("services", servicesTbl)
		}
		return inst, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	inst := st.L.NewTable()
	inst.RawSetString("services", servicesTbl)
	mt := st.L.NewTable()
	mt.RawSetString("__index", typeTbl)
	st.L.SetMetatable(inst, mt)
	return inst, nil
}

// luaExtension adapts a Lua instance table to extension.Extension.
type luaExtension struct {
	state    *State
	instance *lua.LTable
	meta     extension.Metadata

	// ctx is the context of the call in progress; service bindings use it.
	ctx context.Context
}

func (e *luaExtension) currentContext() context.Context { return e.ctx }

func (e *luaExtension) Metadata() extension.Metadata { return e.meta }

// Initialize calls instance:initialize(). Like execute, it reports
// failure by raising an error or by returning (nil, message).
func (e *luaExtension) Initialize(ctx context.Context) error {
	res, err := e.callMethod(ctx, "initialize")
	if err != nil {
		return err
	}
	return failure(res)
}

// Execute calls instance:execute(args). A Lua return of (nil, message)
// is treated as failure.
func (e *luaExtension) Execute(ctx context.Context, args extension.Args) (any, error) {
	if e.state.IsClosed() {
		return nil, ErrStateClosed
	}
	bridge := NewBridge(e.state.L)

	e.state.mu.Lock()
	argsTbl := bridge.ArgsTable(args.Positional, args.Named)
	e.state.mu.Unlock()

	res, err := e.callMethod(ctx, "execute", argsTbl)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	if err := failure(res); err != nil {
		return nil, err
	}

	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	return bridge.ToGoValue(res[0]), nil
}

// Cleanup calls instance:cleanup() and closes the state.
func (e *luaExtension) Cleanup(ctx context.Context) error {
	defer e.state.Close()
	_, err := e.callMethod(ctx, "cleanup")
	return err
}

// failure returns the error carried by a (nil, message) return.
func failure(res []lua.LValue) error {
	if len(res) > 1 && res[0] == lua.LNil && res[1] != lua.LNil {
		return errors.Newf("%s", res[1].String())
	}
	return nil
}

func (e *luaExtension) callMethod(ctx context.Context, method string, args ...lua.LValue) ([]lua.LValue, error) {
	e.ctx = ctx
	defer func() { e.ctx = context.Background() }()
	return e.state.CallMethod(ctx, e.instance, method, args...)
}
