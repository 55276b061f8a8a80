package extension

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/dshills/artifex/internal/services"
)

// behavior controls and records what a fake extension does.
type behavior struct {
	failNew     bool
	failInit    bool
	failExec    bool
	failCleanup bool
	panicExec   bool

	inits    int
	execs    int
	cleanups int
}

type fakeExt struct {
	meta Metadata
	b    *behavior
}

func (f *fakeExt) Metadata() Metadata { return f.meta }

func (f *fakeExt) Initialize(context.Context) error {
	f.b.inits++
	if f.b.failInit {
		return errors.New("init boom")
	}
	return nil
}

func (f *fakeExt) Execute(_ context.Context, args Args) (any, error) {
	f.b.execs++
	if f.b.panicExec {
		panic("exec panic")
	}
	if f.b.failExec {
		return nil, errors.New("exec boom")
	}
	return map[string]any{"name": f.meta.Name, "args": len(args.Positional)}, nil
}

func (f *fakeExt) Cleanup(context.Context) error {
	f.b.cleanups++
	if f.b.failCleanup {
		return errors.New("cleanup boom")
	}
	return nil
}

func fakeType(name string, platforms []string, b *behavior) Type {
	meta := Metadata{Name: name, Version: "1.0.0", TargetPlatforms: platforms}
	return NewType(strings.ReplaceAll(name, "-", "_")+"Type", meta, func(services.Services) (Extension, error) {
		if b.failNew {
			return nil, errors.New("new boom")
		}
		return &fakeExt{meta: meta.Normalize(), b: b}, nil
	})
}

// lineLoader loads *.ext files: one type per line as
// "<TypeName> <name> <version> [platform,...]". A line "!fail" makes the
// file unloadable and "!invalid <TypeName>" records a validation error.
type lineLoader struct {
	behaviors map[string]*behavior
}

func (l *lineLoader) Pattern() string { return "*.ext" }

func (l *lineLoader) behavior(name string) *behavior {
	if l.behaviors == nil {
		l.behaviors = map[string]*behavior{}
	}
	b, ok := l.behaviors[name]
	if !ok {
		b = &behavior{}
		l.behaviors[name] = b
	}
	return b
}

func (l *lineLoader) LoadTypes(_ context.Context, src Source) ([]Type, []*Error, error) {
	var types []Type
	var invalid []*Error
	sc := bufio.NewScanner(bytes.NewReader(src.Code))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "!fail":
			return nil, nil, errors.New("syntax error")
		case "!invalid":
			invalid = append(invalid, ValidationError(fields[1], errors.New("missing execute")))
			continue
		}
		var platforms []string
		if len(fields) > 3 {
			platforms = strings.Split(fields[3], ",")
		}
		name := fields[1]
		b := l.behavior(name)
		meta := Metadata{Name: name, Version: fields[2], TargetPlatforms: platforms}
		types = append(types, &moduleType{
			Type:   NewType(fields[0], meta, func(services.Services) (Extension, error) { return &fakeExt{meta: meta.Normalize(), b: b}, nil }),
			module: src.Module,
		})
	}
	return types, invalid, nil
}

type moduleType struct {
	Type
	module string
}

func (t *moduleType) Module() string { return t.module }
