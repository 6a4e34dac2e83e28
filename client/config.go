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

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"sigs.k8s.io/yaml"

	"github.com/macofab/macod/internal/transport"
)

const (
	DefaultTimeout = time.Second * 10
)

// Config addresses the master's request-server (submit/call traffic)
// and admin HTTP surface (key management) separately, replacing the
// teacher's single gRPC Target with the two raw endpoints spec.md §4.5
// and §4.10 describe.
type Config struct {
	once sync.Once

	RequestAddr string `json:"request_addr" toml:"request_addr"`
	AdminAddr   string `json:"admin_addr" toml:"admin_addr"`

	DialTimeout    time.Duration `json:"dial_timeout" toml:"dial_timeout"`
	RequestTimeout time.Duration `json:"request_timeout" toml:"request_timeout"`

	CertFile string `json:"cert_file" toml:"cert_file"`
	KeyFile  string `json:"key_file" toml:"key_file"`
	CaFile   string `json:"ca_file" toml:"ca_file"`
}

func NewConfig(requestAddr, adminAddr string) *Config {
	return &Config{
		RequestAddr:    requestAddr,
		AdminAddr:      adminAddr,
		DialTimeout:    DefaultTimeout,
		RequestTimeout: DefaultTimeout,
	}
}

func FromPath(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch filepath.Ext(filename) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("invalid config format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) Init() error {
	var err error
	cfg.once.Do(func() { err = cfg.init() })
	return err
}

func (cfg *Config) init() error {
	if cfg.RequestAddr == "" {
		return fmt.Errorf("missing request_addr")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultTimeout
	}
	return nil
}

func (cfg *Config) TLS() transport.TLSConfig {
	return transport.TLSConfig{CertFile: cfg.CertFile, KeyFile: cfg.KeyFile, CAFile: cfg.CaFile}
}

// Save saves config text to specific file path
func (cfg *Config) Save(filename string) error {
	var err error
	var data []byte
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
