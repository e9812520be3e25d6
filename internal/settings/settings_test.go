package settings

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileDisablesAdmin(t *testing.T) {
	t.Parallel()

	s, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.False(t, s.Admin)
	assert.Equal(t, 20*time.Second, s.RequestTimeout(20*time.Second))
}

func TestLoadParsesStanza(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wazuhproxy.yml")
	require.NoError(t, os.WriteFile(path, []byte("admin: true\ntimeout: 7\nlog_level: DEBUG\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.True(t, s.Admin)
	assert.Equal(t, 7*time.Second, s.RequestTimeout(time.Minute))
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("admin: [\n"), 0o644))
	_, err := Load(bad)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yml")
	require.NoError(t, os.WriteFile(negative, []byte("timeout: -1\n"), 0o644))
	_, err = Load(negative)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "wazuhproxy.yml")
	require.NoError(t, Save(path, Stanza{Admin: true, Timeout: 30}))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Stanza{Admin: true, Timeout: 30}, s)
}

func TestWatcherPicksUpChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wazuhproxy.yml")
	require.NoError(t, Save(path, Stanza{Admin: false}))

	var reloads atomic.Int32
	w, err := NewWatcher(WatcherConfig{
		Path:     path,
		OnChange: func(Stanza) { reloads.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	assert.False(t, w.AdminEnabled())

	require.NoError(t, Save(path, Stanza{Admin: true, Timeout: 3}))

	assert.Eventually(t, w.AdminEnabled, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 3*time.Second, w.RequestTimeout(time.Minute))
	assert.Eventually(t, func() bool { return reloads.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsPreviousOnParseError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wazuhproxy.yml")
	require.NoError(t, Save(path, Stanza{Admin: true}))

	w, err := NewWatcher(WatcherConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("admin: [\n"), 0o644))
	assert.Error(t, w.Reload())
	assert.True(t, w.AdminEnabled())
}
