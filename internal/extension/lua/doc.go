// Package lua loads extensions written in Lua.
//
// Every source file is evaluated in its own sandboxed gopher-lua state
// with only the base, table, string and math libraries. The host injects
// a contract table, Extension, that concrete types derive from:
//
//	ArchiveOverview = Extension.extend({
//	  metadata = {
//	    name = "archive-overview",
//	    version = "1.0.0",
//	    target_platforms = { "any" },
//	  },
//	})
//
//	function ArchiveOverview:initialize()
//	  local ok, err = self.services.entries()
//	  if not ok then return nil, err end
//	  return true
//	end
//
//	function ArchiveOverview:execute(args)
//	  local entries, err = self.services.entries()
//	  if not entries then return nil, err end
//	  self.services.set("archive.count", #entries)
//	  return { count = #entries }
//	end
//
//	function ArchiveOverview:cleanup() end
//
// initialize and execute fail by raising an error or by returning nil
// and a message; the host records the failure and moves the extension
// to the error state.
//
// Each instance runs in a fresh state of its own, re-evaluated from the
// same source. Instances reach the host only through self.services.
package lua
