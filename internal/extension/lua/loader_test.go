package lua

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/artifex/internal/extension"
)

const validSource = `
Overview = Extension.extend({
  metadata = {
    name = "overview",
    version = "1.2.0",
    description = "counts entries",
    author = "lab",
    target_platforms = { "ios", "android" },
  },
})

local helper = { metadata = "not an extension" }

function Overview:initialize() self.ready = true end
function Overview:execute(args) return { ready = self.ready, first = args[1], mode = args.mode } end
function Overview:cleanup() end
`

func loadTypes(t *testing.T, code string) ([]extension.Type, []*extension.Error, error) {
	t.Helper()
	return NewLoader().LoadTypes(context.Background(), extension.Source{Module: "test/mod", Path: "test:mod.lua", Code: []byte(code)})
}

func TestLoaderFindsType(t *testing.T) {
	types, invalid, err := loadTypes(t, validSource)
	require.NoError(t, err)
	assert.Empty(t, invalid)
	require.Len(t, types, 1)

	typ := types[0]
	assert.Equal(t, "Overview", typ.TypeName())
	assert.Equal(t, "test/mod", typ.Module())
	meta := typ.Metadata()
	assert.Equal(t, "overview", meta.Name)
	assert.Equal(t, "1.2.0", meta.Version)
	assert.Equal(t, "lab", meta.Author)
	assert.Equal(t, []string{"ios", "android"}, meta.TargetPlatforms)
}

func TestLoaderDefaultsTargetPlatforms(t *testing.T) {
	types, _, err := loadTypes(t, `
Plain = { metadata = { name = "plain", version = "0.1.0" } }
function Plain:initialize() end
function Plain:execute() return 1 end
function Plain:cleanup() end
`)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, []string{"any"}, types[0].Metadata().TargetPlatforms)
}

func TestLoaderMetadataFunction(t *testing.T) {
	types, _, err := loadTypes(t, `
Dyn = Extension.extend({})
function Dyn:metadata() return { name = "dyn", version = "2.0.0" } end
function Dyn:initialize() end
function Dyn:execute() end
function Dyn:cleanup() end
`)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "dyn", types[0].Metadata().Name)
}

func TestLoaderMissingCapability(t *testing.T) {
	types, invalid, err := loadTypes(t, `
Partial = Extension.extend({ metadata = { name = "partial", version = "1.0.0" } })
function Partial:initialize() end
function Partial:cleanup() end
`)
	require.NoError(t, err)
	assert.Empty(t, types)
	require.Len(t, invalid, 1)
	assert.Equal(t, extension.KindValidation, invalid[0].Kind)
	assert.Contains(t, invalid[0].Error(), "execute")
}

func TestLoaderBadMetadata(t *testing.T) {
	_, invalid, err := loadTypes(t, `
Bad = Extension.extend({ metadata = { name = 7, version = "1.0.0" } })
function Bad:initialize() end
function Bad:execute() end
function Bad:cleanup() end
`)
	require.NoError(t, err)
	require.Len(t, invalid, 1)
	assert.Contains(t, invalid[0].Error(), "metadata.name must be a string")
}

func TestLoaderSyntaxError(t *testing.T) {
	_, _, err := loadTypes(t, `Broken = Extension.extend({`)
	assert.Error(t, err)

	_, _, err = loadTypes(t, `error("boom at load")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom at load")
}

func TestLoaderExcludesContract(t *testing.T) {
	types, invalid, err := loadTypes(t, `Extension.extra = true`)
	require.NoError(t, err)
	assert.Empty(t, types)
	assert.Empty(t, invalid)
}

func TestDiscoveryWithLuaFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"overview.lua": {Data: []byte(validSource)},
		"_shared.lua":  {Data: []byte(`error("private files are never loaded")`)},
		"two.lua": {Data: []byte(`
A = Extension.extend({ metadata = { name = "a", version = "1.0.0" } })
function A:initialize() end function A:execute() end function A:cleanup() end
B = Extension.extend({ metadata = { name = "b", version = "1.0.0" } })
function B:initialize() end function B:execute() end function B:cleanup() end
`)},
		"none.lua": {Data: []byte(`local x = 1`)},
	}
	d := extension.NewDiscoverer(
		extension.WithRoots(extension.Root{Name: "bundle", FS: fsys}),
		extension.WithLoaders(NewLoader()),
	)
	found, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, found.Types, 1)
	assert.Equal(t, "overview", found.Types[0].Metadata().Name)
	assert.Equal(t, "bundle/overview", found.Types[0].Module())

	paths := map[string]bool{}
	for _, issue := range found.Issues {
		assert.Equal(t, extension.KindDiscovery, issue.Kind)
		paths[issue.Path] = true
	}
	assert.Equal(t, map[string]bool{"bundle:two.lua": true, "bundle:none.lua": true}, paths)
}
