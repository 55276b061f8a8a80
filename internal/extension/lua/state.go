package lua

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	lua "github.com/yuin/gopher-lua"
)

// State wraps a sandboxed gopher-lua state. Each extension source file
// and each extension instance gets its own State, so globals never leak
// between them.
//
// gopher-lua's LState is not goroutine-safe. The mutex serializes Go
// callers; Lua code itself is single-threaded.
type State struct {
	L *lua.LState

	mu     sync.Mutex
	closed bool

	contract *lua.LTable
}

// StateOption configures a State.
type StateOption func(*stateConfig)

type stateConfig struct {
	callStackSize int
}

// WithCallStackSize bounds Lua call depth. Values below one keep the
// default.
func WithCallStackSize(n int) StateOption {
	return func(c *stateConfig) {
		if n > 0 {
			c.callStackSize = n
		}
	}
}

// DefaultCallStackSize is the Lua call depth limit.
const DefaultCallStackSize = 256

// NewState creates a sandboxed state with the extension contract installed.
func NewState(opts ...StateOption) (*State, error) {
	cfg := stateConfig{callStackSize: DefaultCallStackSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: cfg.callStackSize,
	})
	openSafeLibraries(L)
	NewSandbox(L).Install()

	s := &State{L: L}
	contract, err := installContract(L)
	if err != nil {
		L.Close()
		return nil, err
	}
	s.contract = contract
	return s, nil
}

// openSafeLibraries opens only the libraries extensions may use. io, os
// and debug stay closed; file access goes through the services table.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// Contract returns the base Extension table of this state.
func (s *State) Contract() *lua.LTable { return s.contract }

// Load compiles and runs code as chunk name.
func (s *State) Load(ctx context.Context, code []byte, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}

	fn, err := s.L.Load(bytes.NewReader(code), name)
	if err != nil {
		return errors.Wrapf(err, "compile %s", name)
	}
	_, err = s.call(ctx, fn)
	return err
}

// Globals returns the names of every string-keyed global, sorted.
func (s *State) Globals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return globalNames(s.L)
}

// GetGlobal returns a global value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// Call calls fn with args and returns every result.
func (s *State) Call(ctx context.Context, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStateClosed
	}
	return s.call(ctx, fn, args...)
}

// CallMethod looks up method on obj through its metatable chain and
// calls it with obj as self.
func (s *State) CallMethod(ctx context.Context, obj *lua.LTable, method string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStateClosed
	}
	fn := s.L.GetField(obj, method)
	if fn.Type() != lua.LTFunction {
		return nil, errors.Newf("method %q not found", method)
	}
	return s.call(ctx, fn, append([]lua.LValue{obj}, args...)...)
}

// call must be called with s.mu held.
func (s *State) call(ctx context.Context, fn lua.LValue, args ...lua.LValue) (results []lua.LValue, err error) {
	if ctx != nil {
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}

	stackTop := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lua panic: %v", r)
			}
		}()
		err = s.L.PCall(len(args), lua.MultRet, nil)
	}()
	if err != nil {
		s.L.SetTop(stackTop)
		return nil, luaError(err)
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results = make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// luaError drops the traceback from API errors.
func luaError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return errors.Newf("%s", apiErr.Object.String())
	}
	return err
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. It is safe to call more than once.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}
