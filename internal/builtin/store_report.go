package builtin

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/platform"
	"github.com/dshills/artifex/internal/services"
)

var storeReportMeta = extension.Metadata{
	Name:            "store-report",
	Version:         "1.0.0",
	Description:     "Writes the shared data store as a report, usually last in a batch.",
	Author:          "artifex",
	TargetPlatforms: []string{platform.Any},
}

type storeReport struct{ base }

func newStoreReport(svc services.Services) (extension.Extension, error) {
	if svc == nil {
		return nil, errors.New("store-report needs services")
	}
	return &storeReport{base{svc: svc, meta: storeReportMeta}}, nil
}

// Execute reports every key, or only those starting with the named
// argument prefix.
func (x *storeReport) Execute(_ context.Context, args extension.Args) (any, error) {
	prefix := namedString(args, "prefix", "")
	data := map[string]any{}
	for k, v := range x.svc.Store().Snapshot() {
		if strings.HasPrefix(k, prefix) {
			data[k] = v
		}
	}
	if len(data) == 0 {
		return nil, errors.WithHint(errors.Newf("shared store has no keys with prefix %q", prefix),
			"run the extensions that populate the store earlier in the same batch")
	}

	summary := strconv.Itoa(len(data)) + " keys"
	if prefix != "" {
		summary += " under " + prefix
	}
	out, err := x.svc.WriteReport(x.meta.Name, services.Report{
		Title:   "Shared Store",
		Summary: summary,
		Data:    data,
		Format:  services.Format(namedString(args, "format", "")),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"report": out, "keys": len(data)}, nil
}
