package svcconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
grace_period_ms: 500
grace_period_timeout_s: 5
throttle_kbps: 1200
inputs:
  - id: 1
    name: sports
    url: http://a.example/get.php
    enabled: true
    priority: 0
    max_connections: 2
    aliases:
      - id: 2
        name: sports-backup
        url: http://b.example/get.php
        priority: 1
        max_connections: 1
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ipxcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadParsesInputsAndPolicy(t *testing.T) {
	path := writeSample(t)
	rc, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(500), rc.GracePeriodMillis)
	require.Len(t, rc.Inputs, 1)
	require.Equal(t, "sports", rc.Inputs[0].Name)
	require.Len(t, rc.Inputs[0].Aliases, 1)
	require.Equal(t, "sports-backup", rc.Inputs[0].Aliases[0].Name)

	inputs, err2 := rc.ProviderInputs()
	require.NoError(t, err2)
	require.Len(t, inputs, 1)
	require.Equal(t, uint16(2), inputs[0].MaxConnections)

	dcfg := rc.DispatcherConfig()
	require.Equal(t, 1200, dcfg.ThrottleKbps)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	rc, err := Load("")
	require.NoError(t, err)
	require.Equal(t, int64(2000), rc.GracePeriodMillis)
	require.Empty(t, rc.Inputs)
}

func TestConfigOverlayRestartKeys(t *testing.T) {
	c := New()
	old := c.GetAll()
	c.Update(map[string]string{"btree.data_dir": "/data"})
	require.True(t, c.RequiresRestart(old))
	require.Equal(t, "/data", c.Get("btree.data_dir"))
}
