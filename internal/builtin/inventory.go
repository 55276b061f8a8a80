package builtin

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/platform"
	"github.com/dshills/artifex/internal/services"
)

// StoreKeyInventory holds the inventory summary for later extensions.
const StoreKeyInventory = "archive.inventory"

var inventoryMeta = extension.Metadata{
	Name:            "archive-inventory",
	Version:         "1.0.0",
	Description:     "Summarizes archive contents by top-level directory and lists the largest files.",
	Author:          "artifex",
	TargetPlatforms: []string{platform.Any},
}

type inventory struct{ base }

func newInventory(svc services.Services) (extension.Extension, error) {
	if svc == nil {
		return nil, errors.New("archive-inventory needs services")
	}
	return &inventory{base{svc: svc, meta: inventoryMeta}}, nil
}

// Inventory is the archive-inventory result.
type Inventory struct {
	Platform    string           `json:"platform"`
	Files       int              `json:"files"`
	TotalBytes  int64            `json:"total_bytes"`
	Directories []map[string]any `json:"directories"`
	Largest     []map[string]any `json:"largest"`
}

// Execute accepts the named argument top, the number of largest files
// to list (default 10).
func (x *inventory) Execute(ctx context.Context, args extension.Args) (any, error) {
	top, err := namedInt(args, "top", 10)
	if err != nil {
		return nil, err
	}
	entries, err := x.svc.Entries(ctx)
	if err != nil {
		return nil, err
	}
	plat, err := x.svc.DetectPlatform(ctx)
	if err != nil {
		plat = platform.Unknown
	}

	inv := summarize(entries, top)
	inv.Platform = plat.String()

	x.svc.Store().Set(StoreKeyInventory, map[string]any{
		"platform":    inv.Platform,
		"files":       inv.Files,
		"total_bytes": inv.TotalBytes,
	})

	out, err := x.svc.WriteReport(x.meta.Name, services.Report{
		Title:   "Archive Inventory",
		Summary: inventorySummary(inv),
		Data:    map[string]any{"directories": inv.Directories, "largest": inv.Largest},
		Format:  services.Format(namedString(args, "format", "")),
	})
	if err != nil {
		return nil, err
	}
	x.svc.Logger(x.meta.Name).Infow("inventory written", "path", out, "files", inv.Files)
	return map[string]any{"report": out, "files": inv.Files, "platform": inv.Platform}, nil
}

func summarize(entries []services.Entry, top int) Inventory {
	var inv Inventory
	type dirStat struct {
		files int
		bytes int64
	}
	dirs := map[string]*dirStat{}
	files := make([]services.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Mode.IsDir() {
			continue
		}
		files = append(files, e)
		inv.Files++
		inv.TotalBytes += e.Size

		dir := "."
		if i := strings.IndexByte(e.Name, '/'); i > 0 {
			dir = e.Name[:i]
		}
		st := dirs[dir]
		if st == nil {
			st = &dirStat{}
			dirs[dir] = st
		}
		st.files++
		st.bytes += e.Size
	}

	names := make([]string, 0, len(dirs))
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		inv.Directories = append(inv.Directories, map[string]any{
			"directory": d, "files": dirs[d].files, "bytes": dirs[d].bytes,
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Size != files[j].Size {
			return files[i].Size > files[j].Size
		}
		return files[i].Name < files[j].Name
	})
	if top >= 0 && top < len(files) {
		files = files[:top]
	}
	for _, f := range files {
		inv.Largest = append(inv.Largest, map[string]any{
			"name": f.Name, "file": path.Base(f.Name), "bytes": f.Size,
		})
	}
	return inv
}

func inventorySummary(inv Inventory) string {
	return strings.Join([]string{
		"platform " + inv.Platform,
		strconv.Itoa(inv.Files) + " files",
		strconv.FormatInt(inv.TotalBytes, 10) + " bytes",
	}, ", ")
}
