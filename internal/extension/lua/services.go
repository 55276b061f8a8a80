package lua

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/artifex/internal/services"
)

// bindServices builds the services table placed on every instance.
// Functions are called with dot syntax and report failure as nil, message.
func bindServices(L *lua.LState, svc services.Services, extName string, ctx func() context.Context) *lua.LTable {
	b := NewBridge(L)
	tbl := L.NewTable()
	if svc == nil {
		return tbl
	}
	log := svc.Logger(extName)

	fail := func(L *lua.LState, err error) int {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	ret := func(L *lua.LState, v any) int {
		L.Push(b.ToLuaValue(v))
		return 1
	}

	funcs := map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			level, msg := L.CheckString(1), L.CheckString(2)
			var kv []any
			if fields, ok := L.Get(3).(*lua.LTable); ok {
				fields.ForEach(func(k, v lua.LValue) {
					kv = append(kv, k.String(), b.ToGoValue(v))
				})
			}
			logAt(log, level, msg, kv)
			return 0
		},

		"get": func(L *lua.LState) int {
			v, ok := svc.Store().Get(L.CheckString(1))
			if !ok {
				return 0
			}
			return ret(L, v)
		},
		"set": func(L *lua.LState) int {
			svc.Store().Set(L.CheckString(1), b.ToGoValue(L.Get(2)))
			return 0
		},
		"delete": func(L *lua.LState) int {
			svc.Store().Delete(L.CheckString(1))
			return 0
		},
		"keys": func(L *lua.LState) int {
			return ret(L, svc.Store().Keys())
		},

		"entries": func(L *lua.LState) int {
			entries, err := svc.Entries(ctx())
			if err != nil {
				return fail(L, err)
			}
			out := L.CreateTable(len(entries), 0)
			for i, e := range entries {
				row := L.CreateTable(0, 2)
				row.RawSetString("name", lua.LString(e.Name))
				row.RawSetString("size", lua.LNumber(e.Size))
				out.RawSetInt(i+1, row)
			}
			L.Push(out)
			return 1
		},
		"read_entry": func(L *lua.LState) int {
			data, err := svc.ReadEntry(ctx(), L.CheckString(1))
			if err != nil {
				return fail(L, err)
			}
			L.Push(lua.LString(data))
			return 1
		},
		"extract": func(L *lua.LState) int {
			p, err := svc.Extract(ctx(), extName, L.CheckString(1))
			if err != nil {
				return fail(L, err)
			}
			L.Push(lua.LString(p))
			return 1
		},

		"read_plist": func(L *lua.LState) int {
			v, err := svc.ReadPlist([]byte(L.CheckString(1)))
			if err != nil {
				return fail(L, err)
			}
			return ret(L, v)
		},
		"query_sqlite": func(L *lua.LState) int {
			path, query := L.CheckString(1), L.CheckString(2)
			var args []any
			for i := 3; i <= L.GetTop(); i++ {
				args = append(args, b.ToGoValue(L.Get(i)))
			}
			rows, err := svc.QuerySQLite(ctx(), path, query, args...)
			if err != nil {
				return fail(L, err)
			}
			out := L.CreateTable(len(rows), 0)
			for i, row := range rows {
				out.RawSetInt(i+1, b.ToLuaValue(row))
			}
			L.Push(out)
			return 1
		},
		"query_json": func(L *lua.LState) int {
			v, ok := svc.QueryJSON([]byte(L.CheckString(1)), L.CheckString(2))
			if !ok {
				return 0
			}
			return ret(L, v)
		},

		"detect_platform": func(L *lua.LState) int {
			p, err := svc.DetectPlatform(ctx())
			if err != nil {
				return fail(L, err)
			}
			L.Push(lua.LString(p))
			return 1
		},

		"write_report": func(L *lua.LState) int {
			r := services.Report{Title: L.CheckString(1), Data: b.ToGoValue(L.Get(2))}
			if opts, ok := L.Get(3).(*lua.LTable); ok {
				if s, ok := b.GetTableString(opts, "summary"); ok {
					r.Summary = s
				}
				if s, ok := b.GetTableString(opts, "format"); ok {
					f, err := services.ParseFormat(s)
					if err != nil {
						return fail(L, err)
					}
					r.Format = f
				}
			}
			p, err := svc.WriteReport(extName, r)
			if err != nil {
				return fail(L, err)
			}
			L.Push(lua.LString(p))
			return 1
		},
		"output_path": func(L *lua.LState) int {
			var elem []string
			for i := 1; i <= L.GetTop(); i++ {
				elem = append(elem, L.CheckString(i))
			}
			p, err := svc.OutputPath(extName, elem...)
			if err != nil {
				return fail(L, err)
			}
			L.Push(lua.LString(p))
			return 1
		},

		"info":    printer(svc.Console().Info),
		"success": printer(svc.Console().Success),
		"warn":    printer(svc.Console().Warn),
		"error":   printer(svc.Console().Error),
		"confirm": func(L *lua.LState) int {
			L.Push(lua.LBool(svc.Console().Confirm(L.CheckString(1), L.OptBool(2, false))))
			return 1
		},
		"prompt": func(L *lua.LState) int {
			L.Push(lua.LString(svc.Console().Prompt(L.CheckString(1), L.OptString(2, ""))))
			return 1
		},
	}
	L.SetFuncs(tbl, funcs)
	return tbl
}

func printer(fn func(string, ...any)) lua.LGFunction {
	return func(L *lua.LState) int {
		fn("%s", L.CheckString(1))
		return 0
	}
}

func logAt(log *zap.SugaredLogger, level, msg string, kv []any) {
	switch strings.ToLower(level) {
	case "debug":
		log.Debugw(msg, kv...)
	case "warn", "warning":
		log.Warnw(msg, kv...)
	case "error":
		log.Errorw(msg, kv...)
	default:
		log.Infow(msg, kv...)
	}
}
