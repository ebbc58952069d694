package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "127.0.0.1", cfg.TargetHost)
	assert.Equal(t, 12345, cfg.TargetPort)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
	assert.Equal(t, "127.0.0.1:12345", cfg.TargetAddress())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ECHOFACE_HOST", "10.0.0.5")
	t.Setenv("ECHOFACE_PORT", "9000")
	t.Setenv("ECHOFACE_PLAYBACK_FPS", "24")
	t.Setenv("ECHOFACE_HEADLESS", "true")
	t.Setenv("ECHOFACE_IDLE_INTERVAL", "10ms")
	t.Setenv("ECHOFACE_CAMERA", "not-a-number")

	cfg := Load()

	assert.Equal(t, "10.0.0.5", cfg.TargetHost)
	assert.Equal(t, 9000, cfg.TargetPort)
	assert.Equal(t, 24.0, cfg.PlaybackFPS)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 10*time.Millisecond, cfg.IdleInterval)
	assert.Equal(t, 0, cfg.CameraIndex, "unparsable values fall back to the default")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ECHOFACE_TEST_ONLY_KEY=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ECHOFACE_TEST_ONLY_KEY") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("ECHOFACE_TEST_ONLY_KEY"))

	// A missing file is fine
	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestValidate(t *testing.T) {
	video := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("fake video content"), 0o644))

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "file source", mutate: func(c *Config) { c.FilePath = video }},
		{name: "port zero", mutate: func(c *Config) { c.TargetPort = 0 }, wantErr: true},
		{name: "port too large", mutate: func(c *Config) { c.TargetPort = 70000 }, wantErr: true},
		{name: "empty host", mutate: func(c *Config) { c.TargetHost = "" }, wantErr: true},
		{name: "negative camera", mutate: func(c *Config) { c.CameraIndex = -1 }, wantErr: true},
		{name: "missing file", mutate: func(c *Config) { c.FilePath = video + ".missing" }, wantErr: true},
		{name: "directory as file", mutate: func(c *Config) { c.FilePath = filepath.Dir(video) }, wantErr: true},
		{name: "negative playback fps", mutate: func(c *Config) { c.PlaybackFPS = -1 }, wantErr: true},
		{name: "tiny resolution", mutate: func(c *Config) { c.Width = 1 }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
