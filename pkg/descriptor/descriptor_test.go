package descriptor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/odvcencio/cardhost/pkg/errors"
)

func writeApp(t *testing.T, dir, id, body string) string {
	t.Helper()
	appDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, DescriptorFile), []byte(body), 0o644))
	return appDir
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	appDir := writeApp(t, dir, "com.example.browser", `{
		"id": "com.example.browser",
		"title": "Browser",
		"main": "index.html",
		"icon": "icon.png",
		"noWindow": false
	}`)

	desc, err := Load(appDir)
	require.NoError(t, err)
	assert.Equal(t, "com.example.browser", desc.ID)
	assert.Equal(t, "Browser", desc.Title)
	assert.False(t, desc.Headless())
	assert.Equal(t, "file://"+filepath.Join(appDir, "index.html"), desc.EntryPointURL())
	assert.Equal(t, "file://"+filepath.Join(appDir, "icon.png"), desc.IconURL())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDescriptorNotFound))

	appDir := writeApp(t, dir, "broken", `{not json`)
	_, err = Load(appDir)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDescriptorParse))

	appDir = writeApp(t, dir, "anonymous", `{"title": "No ID"}`)
	_, err = Load(appDir)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDescriptorInvalid))
}

func TestEntryPointAbsoluteURL(t *testing.T) {
	desc := Description{ID: "com.example.remote", Main: "https://example.com/app/"}
	assert.Equal(t, "https://example.com/app/", desc.EntryPointURL())
	assert.Empty(t, Description{ID: "x"}.IconURL())
}

func TestRegistryScan(t *testing.T) {
	dir := t.TempDir()
	writeApp(t, dir, "com.example.calc", `{"id": "com.example.calc", "title": "Calc"}`)
	writeApp(t, dir, "com.example.clock", `{"id": "com.example.clock", "noWindow": true}`)
	writeApp(t, dir, "com.example.broken", `not json at all`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray-file"), []byte("x"), 0o644))

	reg, err := NewRegistry(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	clock, ok := reg.Get("com.example.clock")
	require.True(t, ok)
	assert.True(t, clock.Headless())

	_, ok = reg.Get("com.example.broken")
	assert.False(t, ok)
	assert.Len(t, reg.List(), 2)
}

func TestRegistryMissingDir(t *testing.T) {
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestWatcherPicksUpNewApp(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	w, err := NewWatcher(reg, nil)
	require.NoError(t, err)
	defer w.Close()

	notified := make(chan struct{}, 1)
	w.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	writeApp(t, dir, "com.example.late", `{"id": "com.example.late"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	desc, err := w.WaitForApp(ctx, "com.example.late")
	require.NoError(t, err)
	assert.Equal(t, "com.example.late", desc.ID)

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never notified")
	}
}
