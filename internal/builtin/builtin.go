// Package builtin holds the extensions compiled into the host.
package builtin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/services"
)

// Types returns every built-in extension type.
func Types() []extension.Type {
	return []extension.Type{
		extension.NewType("ArchiveInventory", inventoryMeta, newInventory),
		extension.NewType("StoreReport", storeReportMeta, newStoreReport),
	}
}

// base carries the services handle and a no-op lifecycle.
type base struct {
	svc  services.Services
	meta extension.Metadata
}

func (b *base) Metadata() extension.Metadata        { return b.meta }
func (b *base) Initialize(ctx context.Context) error { return ctx.Err() }
func (b *base) Cleanup(context.Context) error        { return nil }

func namedString(args extension.Args, key, def string) string {
	if v, ok := args.Named[key]; ok {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return def
}

func namedInt(args extension.Args, key string, def int) (int, error) {
	v, ok := args.Named[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, extension.ConfigurationError("argument %s: %q is not a number", key, n)
		}
		return i, nil
	}
	return 0, extension.ConfigurationError("argument %s: unsupported type %T", key, v)
}
