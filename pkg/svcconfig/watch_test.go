package svcconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamrelay/ipxcore/pkg/providerpool"
)

func writeConfigFile(t *testing.T, path, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
}

func TestReloadRefusesRestartSensitiveKeyChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ipxcore.yaml")
	writeConfigFile(t, path, `
btree_data_dir: /var/lib/ipxcore
inputs:
  - id: 1
    name: sports
    url: http://a.example/get.php
    enabled: true
    priority: 0
    max_connections: 2
`)

	rc, err := Load(path)
	require.NoError(t, err)
	inputs, err := rc.ProviderInputs()
	require.NoError(t, err)
	pool := providerpool.New(inputs, rc.GracePeriodMillis, rc.GracePeriodTimeoutSecs, nil)

	w, err := StartWatch(rc, pool, nil)
	require.NoError(t, err)
	defer w.Close()

	// Change the restart-sensitive btree_data_dir alongside an otherwise
	// ordinary input edit.
	writeConfigFile(t, path, `
btree_data_dir: /var/lib/ipxcore-v2
inputs:
  - id: 1
    name: sports
    url: http://a.example/get.php
    enabled: true
    priority: 0
    max_connections: 4
`)
	w.reload()

	require.Equal(t, "/var/lib/ipxcore", w.lastCfg.BTreeDataDir, "restart-sensitive change must not be adopted")
	inputsAfter, err := w.lastCfg.ProviderInputs()
	require.NoError(t, err)
	require.EqualValues(t, 2, inputsAfter[0].MaxConnections, "the whole reload is refused, not just the sensitive key")
}

func TestReloadAppliesNonSensitiveChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ipxcore.yaml")
	writeConfigFile(t, path, `
btree_data_dir: /var/lib/ipxcore
inputs:
  - id: 1
    name: sports
    url: http://a.example/get.php
    enabled: true
    priority: 0
    max_connections: 2
`)

	rc, err := Load(path)
	require.NoError(t, err)
	inputs, err := rc.ProviderInputs()
	require.NoError(t, err)
	pool := providerpool.New(inputs, rc.GracePeriodMillis, rc.GracePeriodTimeoutSecs, nil)

	w, err := StartWatch(rc, pool, nil)
	require.NoError(t, err)
	defer w.Close()

	writeConfigFile(t, path, `
btree_data_dir: /var/lib/ipxcore
inputs:
  - id: 1
    name: sports
    url: http://a.example/get.php
    enabled: true
    priority: 0
    max_connections: 5
`)
	w.reload()

	require.Equal(t, "/var/lib/ipxcore", w.lastCfg.BTreeDataDir)
	inputsAfter, err := w.lastCfg.ProviderInputs()
	require.NoError(t, err)
	require.EqualValues(t, 5, inputsAfter[0].MaxConnections, "non-sensitive changes should hot-reload")
}
