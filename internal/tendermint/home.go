package tendermint

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Home is a Tendermint home directory holding config/ and data/.
type Home string

// ResolveHome returns dir, or $TMHOME, or ~/.tendermint, whichever is set
// first.
func ResolveHome(dir string) Home {
	if dir != "" {
		return Home(dir)
	}
	if env := os.Getenv("TMHOME"); env != "" {
		return Home(env)
	}
	return Home(filepath.Join(os.Getenv("HOME"), ".tendermint"))
}

func (h Home) configFile(name string) string {
	return filepath.Join(string(h), "config", name)
}

// Initialized reports whether config.toml exists.
func (h Home) Initialized() bool {
	_, err := os.Stat(h.configFile("config.toml"))
	return err == nil
}

// Init runs `tendermint init` unless the home is already initialized.
func (h Home) Init() error {
	if h.Initialized() {
		return nil
	}
	cmd := h.command("init")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tendermint init %s: %w", h, err)
	}
	return nil
}

// NodeCommand returns the unstarted `tendermint node` process that connects
// to the application at proxyApp.
func (h Home) NodeCommand(proxyApp string) *exec.Cmd {
	if proxyApp == "" {
		proxyApp = DefaultSocket
	}
	return h.command("node", "--proxy_app", proxyApp)
}

func (h Home) command(sub string, args ...string) *exec.Cmd {
	argv := append([]string{sub, "--home", string(h)}, args...)
	cmd := exec.Command("tendermint", argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// ChainID reads chain_id from genesis.json. A missing genesis surfaces as
// os.ErrNotExist.
func (h Home) ChainID() (string, error) {
	data, err := os.ReadFile(h.configFile("genesis.json"))
	if err != nil {
		return "", err
	}
	var genesis struct {
		ChainID string `json:"chain_id"`
	}
	if err := json.Unmarshal(data, &genesis); err != nil {
		return "", fmt.Errorf("parse genesis: %w", err)
	}
	if genesis.ChainID == "" {
		return "", fmt.Errorf("genesis %s has no chain_id", h.configFile("genesis.json"))
	}
	return genesis.ChainID, nil
}
