package extensions_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/artifex/extensions"
	"github.com/dshills/artifex/internal/extension"
	"github.com/dshills/artifex/internal/extension/lua"
	"github.com/dshills/artifex/internal/services"
)

const systemVersion = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>ProductName</key><string>iPhone OS</string>
	<key>ProductVersion</key><string>17.4</string>
	<key>ProductBuildVersion</key><string>21E219</string>
</dict>
</plist>`

func setup(t *testing.T, archive string) (*extension.Orchestrator, *services.Facade) {
	t.Helper()
	svc, err := services.New(services.Options{ArchivePath: archive, OutputDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	d := extension.NewDiscoverer(
		extension.WithRoots(extension.Root{Name: "bundled", FS: extensions.FS()}),
		extension.WithLoaders(lua.NewLoader()),
	)
	m := extension.NewManager(d, svc)
	require.NoError(t, m.Discover(context.Background()))
	require.Empty(t, m.Issues())
	return extension.NewOrchestrator(m, svc, nil), svc
}

func put(t *testing.T, root, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestBundledDiscovery(t *testing.T) {
	d := extension.NewDiscoverer(
		extension.WithRoots(extension.Root{Name: "bundled", FS: extensions.FS()}),
		extension.WithLoaders(lua.NewLoader()),
	)
	found, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found.Issues)

	names := map[string]string{}
	for _, typ := range found.Types {
		names[typ.Metadata().Name] = typ.Module()
	}
	assert.Equal(t, map[string]string{
		"android-accounts": "bundled/android_accounts",
		"archive-overview": "bundled/archive_overview",
		"ios-device-info":  "bundled/ios_device_info",
	}, names, "the underscore template is never loaded")
}

func TestIOSArchive(t *testing.T) {
	dir := t.TempDir()
	put(t, dir, "System/Library/CoreServices/SystemVersion.plist", []byte(systemVersion))
	put(t, dir, "private/var/mobile/Library/SMS/sms.db", []byte("x"))
	put(t, dir, "private/var/mobile/Media/DCIM/100APPLE/IMG_0001.JPG", []byte("jpeg"))

	o, svc := setup(t, dir)
	summary, err := o.Run(context.Background(), extension.Selection{All: true}, extension.Args{})
	require.NoError(t, err)
	require.True(t, summary.OK(), "%+v", summary.Results)

	ran := map[string]any{}
	for _, r := range summary.Results {
		ran[r.Name] = r.Value
	}
	assert.Len(t, ran, 2, "android-accounts does not target ios")
	require.Contains(t, ran, "ios-device-info")
	require.Contains(t, ran, "archive-overview")

	device, ok := svc.Store().Get("ios.device")
	require.True(t, ok)
	assert.Equal(t, "17.4", device.(map[string]any)["ProductVersion"])

	overview := ran["archive-overview"].(map[string]any)
	assert.Equal(t, int64(3), overview["files"])
	assert.FileExists(t, overview["report"].(string))
}

func TestAndroidAccounts(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "system_ce", "0", "accounts_ce.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(dbPath), 0o755))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE accounts (_id INTEGER PRIMARY KEY, name TEXT, type TEXT);
INSERT INTO accounts (name, type) VALUES ('lab@example.com', 'com.google'), ('lab', 'com.whatsapp');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	put(t, dir, "data/data/com.whatsapp/files/key", []byte("k"))

	o, svc := setup(t, dir)
	summary, err := o.Run(context.Background(), extension.Selection{Platform: "android"}, extension.Args{})
	require.NoError(t, err)
	require.True(t, summary.OK(), "%+v", summary.Results)
	assert.Equal(t, 2, summary.Total)

	var accounts map[string]any
	for _, r := range summary.Results {
		if r.Name == "android-accounts" {
			accounts = r.Value.(map[string]any)
		}
	}
	require.NotNil(t, accounts)
	assert.Equal(t, int64(2), accounts["accounts"])
	assert.Equal(t, map[string]any{"com.google": int64(1), "com.whatsapp": int64(1)}, accounts["by_type"])

	rows, ok := svc.Store().Get("android.accounts")
	require.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestPlatformExtensionFailsWithoutEvidence(t *testing.T) {
	dir := t.TempDir()
	put(t, dir, "notes.txt", []byte("nothing here"))

	o, _ := setup(t, dir)
	summary, err := o.Run(context.Background(), extension.Selection{Name: "ios-device-info"}, extension.Args{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.ExitCode())
	assert.Contains(t, summary.Results[0].Err.Error(), "no iOS system property lists")
}
