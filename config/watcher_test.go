package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, audience string) {
	t.Helper()

	content := `
providers:
  - name: main
    discoveryUrl: https://idp.example/.well-known/openid-configuration
    issuer: https://idp.example/
    audience: ` + audience + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "client1")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	require.NotNil(t, w.Config())
	assert.Equal(t, "client1", w.Config().Providers[0].Audience)

	writeConfig(t, path, "client2")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "client2", cfg.Providers[0].Audience)
		assert.Equal(t, "client2", w.Config().Providers[0].Audience)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_InvalidChangeKeepsPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "client1")

	failures := make(chan error, 1)
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case failures <- err:
			default:
			}
		}))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(path, []byte("providers: [broken"), 0o600))

	select {
	case <-failures:
		assert.Equal(t, "client1", w.Config().Providers[0].Audience)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload failure")
	}
}

func TestWatcher_StartWithInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: bogus\n"), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))
}
