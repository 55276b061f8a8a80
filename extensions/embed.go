// Package extensions embeds the Lua extensions shipped with the binary.
package extensions

import (
	"embed"
	"io/fs"
)

//go:embed *.lua
var bundled embed.FS

// FS returns the bundled extension sources.
func FS() fs.FS { return bundled }
