package routing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DragonSecurity/gwbridge/pkg/util"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestStoreReloadSwapsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing_config.yaml")
	writeConfig(t, path, "routes:\n  A:\n    url: http://a/x\n    timeout: 1\n")

	s, err := NewStore(path, util.NewNopLogger())
	require.NoError(t, err)
	old := s.Table()

	writeConfig(t, path, "routes:\n  B:\n    url: http://b/x\n    timeout: 1\n")
	require.NoError(t, s.Reload())

	_, err = s.Resolve("A")
	assert.ErrorIs(t, err, ErrNoRoute)
	tgt, err := s.Resolve("B")
	require.NoError(t, err)
	assert.Equal(t, "http://b/x", tgt.URL)

	// The previous instance is untouched for anyone still holding it.
	tgt, err = old.Resolve("A")
	require.NoError(t, err)
	assert.Equal(t, "http://a/x", tgt.URL)
}

func TestStoreReloadFailureKeepsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing_config.yaml")
	writeConfig(t, path, "routes:\n  A:\n    url: http://a/x\n")

	s, err := NewStore(path, util.NewNopLogger())
	require.NoError(t, err)

	writeConfig(t, path, "routes: [broken")
	var cerr *ConfigError
	assert.ErrorAs(t, s.Reload(), &cerr)

	tgt, err := s.Resolve("A")
	require.NoError(t, err)
	assert.Equal(t, "http://a/x", tgt.URL)
}

func TestNewStoreFailsOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing_config.yaml")
	writeConfig(t, path, "routes:\n  A:\n    url: \"\"\n")
	s, err := NewStore(path, util.NewNopLogger())
	assert.Nil(t, s)
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing_config.yaml")
	writeConfig(t, path, "routes:\n  A:\n    url: http://a/x\n")

	s, err := NewStore(path, util.NewNopLogger())
	require.NoError(t, err)
	w := NewWatcher(s, util.NewNopLogger())
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "routes:\n  A:\n    url: http://a/x\n  C:\n    url: http://c/x\n")

	require.Eventually(t, func() bool {
		_, err := s.Resolve("C")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
