// Package config centralizes runtime configuration for vrm. It loads a JSON
// or YAML configuration file (chosen by extension), fills unset fields with
// defaults and applies environment overrides. A missing file yields the
// defaults so development needs no setup; the relay credential is never
// defaulted. The path is taken from the --config flag or the CONFIG_FILE
// environment variable.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfigFile = "CONFIG_FILE"
	EnvPrivateKey = "VRM_PRIVATE_KEY"
	EnvKeyFile    = "VRM_KEY_FILE"
	EnvLedgerRPC  = "VRM_LEDGER_RPC"
	EnvChainID    = "VRM_CHAIN_ID"
	EnvPort       = "PORT"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\"")
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds configurable options for the vrm relay and ledger node.
type Config struct {
	// Relay credential: an inline hex key wins over the key file.
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	KeyFile    string `json:"key_file" yaml:"key_file"`

	LedgerRPC string `json:"ledger_rpc" yaml:"ledger_rpc"`
	ChainID   string `json:"chain_id" yaml:"chain_id"`
	Port      int    `json:"port" yaml:"port"`

	// DevNet hosts the ledger in-process instead of dialing LedgerRPC.
	DevNet        bool     `json:"devnet" yaml:"devnet"`
	BlockInterval Duration `json:"block_interval" yaml:"block_interval"`

	FinalityTimeout  Duration `json:"finality_timeout" yaml:"finality_timeout"`
	PollInterval     Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxSubmitRetries int      `json:"max_submit_retries" yaml:"max_submit_retries"`
	RetryBackoff     Duration `json:"retry_backoff" yaml:"retry_backoff"`

	// Ledger node settings.
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	OwnerAddress   string `json:"owner_address,omitempty" yaml:"owner_address,omitempty"`
	ABCISocket     string `json:"abci_socket" yaml:"abci_socket"`
	TendermintHome string `json:"tendermint_home,omitempty" yaml:"tendermint_home,omitempty"`
	BackupEvery    int64  `json:"backup_every" yaml:"backup_every"`
	MaxBackups     int    `json:"max_backups" yaml:"max_backups"`

	Candidates   []string `json:"candidates" yaml:"candidates"`
	ActivitySize int      `json:"activity_size" yaml:"activity_size"`
}

var cfg *Config

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		KeyFile:          "vrm_key.hex",
		LedgerRPC:        "http://localhost:26657",
		ChainID:          "",
		Port:             8080,
		BlockInterval:    Duration(time.Second),
		FinalityTimeout:  Duration(30 * time.Second),
		PollInterval:     Duration(500 * time.Millisecond),
		MaxSubmitRetries: 3,
		RetryBackoff:     Duration(200 * time.Millisecond),
		DataDir:          "data",
		ABCISocket:       "unix://vrm.sock",
		BackupEvery:      100,
		MaxBackups:       20,
		Candidates:       []string{"Alice", "Bob", "Charlie"},
		ActivitySize:     200,
	}
}

// LoadConfig reads the file at path, merges defaults into zero-value fields
// and applies environment overrides. A missing file is not an error; a
// malformed one is.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}

	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			c = def
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := decode(path, b, c); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	} else {
		c = def
	}

	c.mergeDefaults(def)
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}

	cfg = c
	return cfg, nil
}

func decode(path string, b []byte, c *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, c)
	default:
		return json.Unmarshal(b, c)
	}
}

func (c *Config) mergeDefaults(def *Config) {
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.LedgerRPC == "" {
		c.LedgerRPC = def.LedgerRPC
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.BlockInterval == 0 {
		c.BlockInterval = def.BlockInterval
	}
	if c.FinalityTimeout == 0 {
		c.FinalityTimeout = def.FinalityTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxSubmitRetries == 0 {
		c.MaxSubmitRetries = def.MaxSubmitRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.ABCISocket == "" {
		c.ABCISocket = def.ABCISocket
	}
	if c.BackupEvery == 0 {
		c.BackupEvery = def.BackupEvery
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = def.MaxBackups
	}
	if len(c.Candidates) == 0 {
		c.Candidates = def.Candidates
	}
	if c.ActivitySize == 0 {
		c.ActivitySize = def.ActivitySize
	}
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvPrivateKey); v != "" {
		c.PrivateKey = v
	}
	if v := os.Getenv(EnvKeyFile); v != "" {
		c.KeyFile = v
	}
	if v := os.Getenv(EnvLedgerRPC); v != "" {
		c.LedgerRPC = v
	}
	if v := os.Getenv(EnvChainID); v != "" {
		c.ChainID = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q is not a port number", EnvPort, v)
		}
		c.Port = port
	}
	return nil
}

// HasCredential reports whether a relay credential source is configured.
func (c *Config) HasCredential() bool {
	if strings.TrimSpace(c.PrivateKey) != "" {
		return true
	}
	if c.KeyFile == "" {
		return false
	}
	info, err := os.Stat(c.KeyFile)
	return err == nil && info.Size() > 0
}

// Validate reports every problem that must stop the relay from starting.
func (c *Config) Validate() error {
	var problems []string
	if !c.HasCredential() {
		problems = append(problems, fmt.Sprintf("no relay credential: set %s or create key file %q", EnvPrivateKey, c.KeyFile))
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if !c.DevNet && c.LedgerRPC == "" {
		problems = append(problems, "ledger_rpc is required unless devnet is enabled")
	}
	if c.FinalityTimeout <= 0 {
		problems = append(problems, "finality_timeout must be positive")
	}
	if c.PollInterval <= 0 || c.PollInterval > c.FinalityTimeout {
		problems = append(problems, "poll_interval must be positive and below finality_timeout")
	}
	for _, name := range c.Candidates {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "candidate names must not be empty")
			break
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// LedgerDB returns the path of the ledger database inside DataDir.
func (c *Config) LedgerDB() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// Get returns the loaded configuration. If LoadConfig hasn't been called
// yet, it returns defaults.
func Get() *Config {
	if cfg == nil {
		cfg = Defaults()
	}
	return cfg
}
