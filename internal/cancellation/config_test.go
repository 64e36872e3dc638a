package cancellation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contententity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/entity"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 259200*time.Second, cfg.GracePeriod)
	assert.True(t, cfg.NotifyOnRequest)
	assert.Equal(t, []contententity.Kind{contententity.KindComment, contententity.KindNode}, cfg.CascadeKinds())
}

func TestCascadeKindsRespectsDeleteContent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeleteContent = false
	assert.Empty(t, cfg.CascadeKinds())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CANCELLATION_GRACE_PERIOD_SECONDS", "3600")
	t.Setenv("CANCELLATION_NOTIFY_ON_REQUEST", "false")
	t.Setenv("CANCELLATION_CONTENT_KINDS", "node")
	t.Setenv("CANCELLATION_DRAIN_INTERVAL", "30s")
	t.Setenv("CANCELLATION_DRAIN_BATCH_SIZE", "10")
	t.Setenv("CANCELLATION_DRAIN_LIMIT", "250")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.GracePeriod)
	assert.False(t, cfg.NotifyOnRequest)
	assert.Equal(t, []contententity.Kind{contententity.KindNode}, cfg.CascadeKinds())
	assert.Equal(t, 30*time.Second, cfg.DrainInterval)
	assert.Equal(t, 10, cfg.DrainBatchSize)
	assert.Equal(t, 250, cfg.DrainLimit)
}

func TestValidateGracePeriodRange(t *testing.T) {
	for _, grace := range []time.Duration{0, 90 * time.Second, MaxGracePeriod + time.Second} {
		cfg := DefaultConfig()
		cfg.GracePeriod = grace
		assert.Error(t, cfg.Validate(), grace.String())
	}
	for _, grace := range []time.Duration{MinGracePeriod, 5400 * time.Second, MaxGracePeriod} {
		cfg := DefaultConfig()
		cfg.GracePeriod = grace
		assert.NoError(t, cfg.Validate(), grace.String())
	}

	t.Setenv("CANCELLATION_GRACE_PERIOD_SECONDS", "60")
	_, err := ConfigFromEnv()
	assert.Error(t, err)
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("CANCELLATION_NOTIFY_ON_REQUEST", "maybe")
	_, err := ConfigFromEnv()
	assert.Error(t, err)
}

func TestConfigFromEnvRejectsUnknownKind(t *testing.T) {
	t.Setenv("CANCELLATION_CONTENT_KINDS", "node,media")
	_, err := ConfigFromEnv()
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancellation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grace_period_seconds: 7200
delete_content: false
cascade_content_kinds: [comment]
site_name: Example
lease_duration: 1m
drain_limit: 50
`), 0o600))

	cfg, err := LoadConfigFile(path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.GracePeriod)
	assert.False(t, cfg.DeleteContent)
	assert.Equal(t, []contententity.Kind{contententity.KindComment}, cfg.ContentKinds)
	assert.Equal(t, "Example", cfg.SiteName)
	assert.Equal(t, time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 50, cfg.DrainLimit)
	assert.True(t, cfg.NotifyOnRequest, "untouched keys keep the base value")
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("grace: 1\n"), DefaultConfig())
	assert.Error(t, err)
}
