package settings_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vistream/vistream/internal/settings"
)

func TestEnsure_Defaults(t *testing.T) {
	t.Setenv("VISTREAM_SENTRY_DSN", "")
	t.Setenv("VISTREAM_MODE", "")
	s := &settings.Settings{}

	s.Ensure()

	assert.Equal(t, "vis_out", s.SaveDir)
	assert.Equal(t, "uncategorized", s.Project)
	assert.False(t, s.Offline)
}

func TestEnsure_KeepsExplicitValues(t *testing.T) {
	s := &settings.Settings{SaveDir: "custom", Project: "proj"}

	s.Ensure()

	assert.Equal(t, "custom", s.SaveDir)
	assert.Equal(t, "proj", s.Project)
}

func TestEnsure_OfflineFromEnv(t *testing.T) {
	t.Setenv("VISTREAM_MODE", "offline")
	s := &settings.Settings{}

	s.Ensure()

	assert.True(t, s.Offline)
}

func TestRunDir(t *testing.T) {
	s := &settings.Settings{SaveDir: "out"}

	assert.Equal(t,
		filepath.Join("out", "run-abcd1234"),
		s.RunDir("abcd1234"))
}

func TestEnvOr(t *testing.T) {
	t.Setenv("VISTREAM_TEST_KEY", "set")
	assert.Equal(t, "set", settings.EnvOr("VISTREAM_TEST_KEY", "fallback"))

	t.Setenv("VISTREAM_TEST_KEY", "")
	assert.Equal(t, "fallback", settings.EnvOr("VISTREAM_TEST_KEY", "fallback"))
}
