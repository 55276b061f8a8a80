package lua

import (
	"github.com/cockroachdb/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/artifex/internal/extension"
)

// ContractName is the global holding the base Extension table.
const ContractName = "Extension"

// Required methods every extension type must provide.
var requiredMethods = []string{"initialize", "execute", "cleanup"}

const contractSource = `
Extension = {}
Extension.__index = Extension

function Extension.extend(def)
  def = def or {}
  def.__index = def
  return setmetatable(def, Extension)
end
`

func installContract(L *lua.LState) (*lua.LTable, error) {
	if err := L.DoString(contractSource); err != nil {
		return nil, errors.Wrap(err, "install extension contract")
	}
	t, ok := L.GetGlobal(ContractName).(*lua.LTable)
	if !ok {
		return nil, errors.New("extension contract table missing")
	}
	return t, nil
}

// derivesFrom reports whether t has base somewhere in its metatable chain.
func derivesFrom(L *lua.LState, t *lua.LTable, base *lua.LTable) bool {
	seen := map[*lua.LTable]bool{}
	for cur := t; cur != nil && !seen[cur]; {
		seen[cur] = true
		mt, ok := L.GetMetatable(cur).(*lua.LTable)
		if !ok {
			return false
		}
		if mt == base {
			return true
		}
		cur = mt
	}
	return false
}

// missingMethods returns required methods not reachable from t.
func missingMethods(L *lua.LState, t *lua.LTable) []string {
	var missing []string
	for _, m := range requiredMethods {
		if L.GetField(t, m).Type() != lua.LTFunction {
			missing = append(missing, m)
		}
	}
	return missing
}

// readMetadata decodes t.metadata. The field may be a table or a
// function of self returning one.
func readMetadata(s *State, t *lua.LTable) (extension.Metadata, error) {
	var meta extension.Metadata
	L := s.L

	raw := L.GetField(t, "metadata")
	if fn, ok := raw.(*lua.LFunction); ok {
		res, err := s.call(nil, fn, t)
		if err != nil {
			return meta, errors.Wrap(err, "metadata()")
		}
		if len(res) == 0 {
			return meta, errors.New("metadata() returned nothing")
		}
		raw = res[0]
	}
	mt, ok := raw.(*lua.LTable)
	if !ok {
		return meta, errors.Newf("metadata must be a table, got %s", raw.Type())
	}

	str := func(key string, dst *string) error {
		switch v := mt.RawGetString(key).(type) {
		case *lua.LNilType:
		case lua.LString:
			*dst = string(v)
		default:
			return errors.Newf("metadata.%s must be a string, got %s", key, v.Type())
		}
		return nil
	}
	for key, dst := range map[string]*string{
		"name":          &meta.Name,
		"version":       &meta.Version,
		"description":   &meta.Description,
		"author":        &meta.Author,
		"requires_host": &meta.RequiresHost,
	} {
		if err := str(key, dst); err != nil {
			return meta, err
		}
	}

	switch v := mt.RawGetString("target_platforms").(type) {
	case *lua.LNilType:
	case *lua.LTable:
		meta.TargetPlatforms = []string{}
		for i := 1; i <= v.Len(); i++ {
			tag, ok := v.RawGetInt(i).(lua.LString)
			if !ok {
				return meta, errors.Newf("metadata.target_platforms[%d] must be a string", i)
			}
			meta.TargetPlatforms = append(meta.TargetPlatforms, string(tag))
		}
	default:
		return meta, errors.Newf("metadata.target_platforms must be a list, got %s", v.Type())
	}
	return meta.Normalize(), nil
}
