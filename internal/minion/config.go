/*
Copyright 2025 The maco Authors

This program is offered under a commercial and under the AGPL license.
For AGPL licensing, see below.

AGPL licensing:
This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package minion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/logutil"
)

const DefaultDialTimeout = 10 * time.Second

// Config is the minion's configuration, following the same TOML/YAML/
// JSON-by-extension, once.Do-guarded Init() pattern as client.Config and
// internal/server/config.Config.
type Config struct {
	once sync.Once

	MinionId string `json:"minion_id" toml:"minion_id"`
	Master   string `json:"master" toml:"master"`

	// Grains and HostGroups are this minion's own identity facts, used
	// only locally to evaluate a grain/compound target_expr the master
	// could not resolve itself (spec.md §9: "an opaque string plus kind
	// that the minion evaluates locally against its own identity
	// facts"). They never leave the minion.
	Grains     map[string]string `json:"grains,omitempty" toml:"grains,omitempty"`
	HostGroups []string          `json:"host_groups,omitempty" toml:"host_groups,omitempty"`

	PublishPort string `json:"publish_port" toml:"publish_port"`
	RequestPort string `json:"request_port" toml:"request_port"`

	CertFile string `json:"cert_file" toml:"cert_file"`
	KeyFile  string `json:"key_file" toml:"key_file"`
	CaFile   string `json:"ca_file" toml:"ca_file"`

	DataRoot string `json:"data_root" toml:"data_root"`

	DialTimeout         time.Duration `json:"dial_timeout" toml:"dial_timeout"`
	ExecutorConcurrency int           `json:"executor_concurrency_cap" toml:"executor_concurrency_cap"`
	PingInterval        time.Duration `json:"ping_interval" toml:"ping_interval"`
	SessionRotate       time.Duration `json:"session_rotate" toml:"session_rotate"`
	ReconnectBackoff    time.Duration `json:"reconnect_backoff" toml:"reconnect_backoff"`

	Log *logutil.LogConfig `json:"log" toml:"log"`
}

func NewConfig(master string) *Config {
	lc := logutil.NewLogConfig()
	return &Config{
		Master:              master,
		PublishPort:         "4505",
		RequestPort:         "4506",
		DialTimeout:         DefaultDialTimeout,
		ExecutorConcurrency: 8,
		PingInterval:        30 * time.Second,
		SessionRotate:       25 * time.Minute,
		ReconnectBackoff:    5 * time.Second,
		Log:                 &lc,
	}
}

func (cfg *Config) Init() error {
	var err error
	cfg.once.Do(func() { err = cfg.init() })
	return err
}

func (cfg *Config) init() error {
	if cfg.Master == "" {
		return fmt.Errorf("missing master address")
	}
	if cfg.Log == nil {
		lc := logutil.NewLogConfig()
		cfg.Log = &lc
	}
	if err := cfg.Log.SetupLogging(); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg.Log.SetupGlobalLoggers()

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ExecutorConcurrency < 1 {
		cfg.ExecutorConcurrency = 8
	}
	if cfg.SessionRotate <= 0 {
		cfg.SessionRotate = 25 * time.Minute
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.DataRoot == "" {
		home, _ := os.UserHomeDir()
		cfg.DataRoot = filepath.Join(home, ".macod", "minion")
	}
	if err := os.MkdirAll(cfg.DataRoot, 0755); err != nil {
		return fmt.Errorf("create data root directory: %w", err)
	}
	return nil
}

func (cfg *Config) Logger() *zap.Logger { return cfg.Log.GetLogger() }

func (cfg *Config) TLS() transport.TLSConfig {
	return transport.TLSConfig{CertFile: cfg.CertFile, KeyFile: cfg.KeyFile, CAFile: cfg.CaFile}
}

func (cfg *Config) PublishAddr() string { return joinHostPort(cfg.Master, cfg.PublishPort) }
func (cfg *Config) RequestAddr() string { return joinHostPort(cfg.Master, cfg.RequestPort) }

func (cfg *Config) PrivateKeyPath() string { return filepath.Join(cfg.DataRoot, "minion.pem") }
func (cfg *Config) PublicKeyPath() string  { return filepath.Join(cfg.DataRoot, "minion.pub") }

func joinHostPort(host, port string) string { return host + ":" + port }

func FromPath(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var cfg Config
	ext := filepath.Ext(filename)
	switch ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("invalid config format: %s", ext)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) Save(filename string) error {
	var data []byte
	var err error
	switch filepath.Ext(filename) {
	case ".toml":
		buf := bytes.NewBufferString("")
		err = toml.NewEncoder(buf).Encode(cfg)
		if err == nil {
			data = buf.Bytes()
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = json.Marshal(cfg)
	default:
		return fmt.Errorf("invalid config format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
