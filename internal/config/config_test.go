package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvConfigFile, EnvPrivateKey, EnvKeyFile, EnvLedgerRPC, EnvChainID, EnvPort} {
		t.Setenv(k, "")
	}
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	c, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Equal(t, 8080, c.Port)
	require.Equal(t, 30*time.Second, c.FinalityTimeout.Std())
	require.Equal(t, []string{"Alice", "Bob", "Charlie"}, c.Candidates)
	require.Same(t, c, Get())
}

func TestLoadJSONMergesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "vrm.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"ledger_rpc": "http://node:26657",
		"chain_id": "vrm-main",
		"finality_timeout": "12s",
		"candidates": ["Ada", "Grace"]
	}`), 0o600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "http://node:26657", c.LedgerRPC)
	require.Equal(t, "vrm-main", c.ChainID)
	require.Equal(t, 12*time.Second, c.FinalityTimeout.Std())
	require.Equal(t, 500*time.Millisecond, c.PollInterval.Std())
	require.Equal(t, []string{"Ada", "Grace"}, c.Candidates)
	require.Equal(t, 8080, c.Port)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "vrm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\ndevnet: true\npoll_interval: 50ms\n"), 0o600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9090, c.Port)
	require.True(t, c.DevNet)
	require.Equal(t, 50*time.Millisecond, c.PollInterval.Std())
}

func TestMalformedFileIsAnError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "vrm.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "eighty"`), 0o600))
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrivateKey, "0xabc")
	t.Setenv(EnvLedgerRPC, "http://elsewhere:26657")
	t.Setenv(EnvChainID, "vrm-env")
	t.Setenv(EnvPort, "7070")

	c, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "0xabc", c.PrivateKey)
	require.Equal(t, "http://elsewhere:26657", c.LedgerRPC)
	require.Equal(t, "vrm-env", c.ChainID)
	require.Equal(t, 7070, c.Port)

	t.Setenv(EnvPort, "seventy")
	_, err = LoadConfig("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	c := Defaults()
	c.KeyFile = filepath.Join(t.TempDir(), "missing.hex")
	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no relay credential")

	c.PrivateKey = "0x01"
	require.NoError(t, c.Validate())

	c.PollInterval = Duration(time.Minute)
	require.Error(t, c.Validate())
}
