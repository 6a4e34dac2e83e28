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

package master

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/logutil"
)

var (
	DefaultPublishAddr = ":4505"
	DefaultRequestAddr = ":4506"
	DefaultAdminAddr   = ":4507"
)

// Config is the master's configuration, loaded from TOML/YAML/JSON by
// file extension exactly like the teacher's internal/server/config.Config,
// extended with the fields spec.md §6 lists as master-side tunables.
type Config struct {
	PublishAddr string `json:"publish_addr" toml:"publish_addr"`
	RequestAddr string `json:"request_addr" toml:"request_addr"`
	AdminAddr   string `json:"admin_addr" toml:"admin_addr"`

	CertFile string `json:"cert_file" toml:"cert_file"`
	KeyFile  string `json:"key_file" toml:"key_file"`
	CaFile   string `json:"ca_file" toml:"ca_file"`

	DataRoot string `json:"data_root" toml:"data_root"`

	AutoSign      bool          `json:"auto_sign" toml:"auto_sign"`
	WorkerCount   int           `json:"worker_count" toml:"worker_count"`
	PubMaxConns   int           `json:"pub_max_connections" toml:"pub_max_connections"`
	SessionRotate time.Duration `json:"session_rotate_every" toml:"session_rotate_every"`
	JobCacheTTL   time.Duration `json:"job_cache_ttl" toml:"job_cache_ttl"`
	ReapInterval  time.Duration `json:"reap_interval" toml:"reap_interval"`

	// PublishACL, when non-empty, is the set of CallRequest.User values
	// allowed to submit a publish; every other user is rejected with
	// Code_UnauthorizedPub. Empty (the default) admits everyone, matching
	// the teacher's own admin API which carries no caller identity either.
	PublishACL []string `json:"publish_acl,omitempty" toml:"publish_acl,omitempty"`

	Log *logutil.LogConfig `json:"log" toml:"log"`
}

func NewConfig() *Config {
	lc := logutil.NewLogConfig()
	return &Config{
		PublishAddr:   DefaultPublishAddr,
		RequestAddr:   DefaultRequestAddr,
		AdminAddr:     DefaultAdminAddr,
		WorkerCount:   8,
		PubMaxConns:   4096,
		SessionRotate: 30 * time.Minute,
		JobCacheTTL:   24 * time.Hour,
		ReapInterval:  10 * time.Minute,
		Log:           &lc,
	}
}

// Init fills defaults, boots logging and creates DataRoot if necessary.
// A DataRoot starting with "~" or "./" is made absolute with filepath.Abs
// ("~" is not expanded to the home directory); any other relative path is
// kept as given — the same shape as the
// teacher's config.Config.Init, generalized to the master's own field set.
func (cfg *Config) Init() error {
	if cfg.Log == nil {
		lc := logutil.NewLogConfig()
		cfg.Log = &lc
	}
	if err := cfg.Log.SetupLogging(); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg.Log.SetupGlobalLoggers()

	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	if cfg.DataRoot == "" {
		home, _ := os.UserHomeDir()
		cfg.DataRoot = filepath.Join(home, ".macod", "master")
	}
	if _, err := os.Stat(cfg.DataRoot); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read data root directory: %w", err)
		}
		if err := os.MkdirAll(cfg.DataRoot, 0755); err != nil {
			return fmt.Errorf("create data root directory: %w", err)
		}
	}
	if strings.HasPrefix(cfg.DataRoot, "~") || strings.HasPrefix(cfg.DataRoot, "./") {
		abs, err := filepath.Abs(cfg.DataRoot)
		if err != nil {
			return fmt.Errorf("get data-root abs path: %w", err)
		}
		cfg.DataRoot = abs
	}
	return nil
}

func (cfg *Config) TLS() transport.TLSConfig {
	return transport.TLSConfig{CertFile: cfg.CertFile, KeyFile: cfg.KeyFile, CAFile: cfg.CaFile}
}

func (cfg *Config) Logger() *zap.Logger { return cfg.Log.GetLogger() }

func (cfg *Config) KeysDir() string { return filepath.Join(cfg.DataRoot, "keys") }
func (cfg *Config) JobsDir() string { return filepath.Join(cfg.DataRoot, "jobs") }
func (cfg *Config) JobIndexDir() string { return filepath.Join(cfg.DataRoot, "job_index") }

// FromPath loads a Config from filename, selecting the decoder by
// extension.
func FromPath(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig()
	ext := filepath.Ext(filename)
	switch ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("invalid config format: %s", ext)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to filename, selecting the encoder by extension.
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
