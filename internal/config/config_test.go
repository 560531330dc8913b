package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  name: test-core
rulesets:
  - name: rs1
    filters:
      - kind: bitmap
        bitmap:
          "1": ["*"]
        actions: ["a1"]
actions:
  - name: a1
    module: omfwd
    params:
      addr: "127.0.0.1:514"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-core", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 1000, cfg.Actions[0].Queue.HighWaterMark)
	assert.Equal(t, 30, int(cfg.Actions[0].Breaker.MaxAttempts))
}

func TestLoadRejectsUnknownActionReference(t *testing.T) {
	bad := `
rulesets:
  - name: rs1
    filters:
      - kind: bitmap
        actions: ["missing"]
`
	_, err := Load(writeTemp(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestLoadRejectsDuplicateActionNames(t *testing.T) {
	bad := `
actions:
  - name: a1
    module: omfwd
  - name: a1
    module: omkafka
`
	_, err := Load(writeTemp(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate action name")
}

func TestLoadRejectsExpressionFilterWithoutExpression(t *testing.T) {
	bad := `
actions:
  - name: a1
    module: omfwd
rulesets:
  - name: rs1
    filters:
      - kind: expression
        actions: ["a1"]
`
	_, err := Load(writeTemp(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a non-empty expression")
}

func TestLoadWithEmptyPathUsesDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "rsyslog-core", cfg.App.Name)
}
