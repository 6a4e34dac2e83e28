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

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"
)

// TLSConfig mirrors the master's cert/key/CA trio; Listen runs in
// plaintext TCP when CertFile or KeyFile is empty, Dial only when CAFile
// is empty as well.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (c TLSConfig) enabled() bool { return c.CertFile != "" && c.KeyFile != "" }

func (c TLSConfig) serverConfig() (*tls.Config, error) {
	if !c.enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load keypair: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: no certs parsed from %s", c.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return cfg, nil
}

func (c TLSConfig) clientConfig() (*tls.Config, error) {
	if !c.enabled() && c.CAFile == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: no certs parsed from %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Listen opens a TCP listener at addr, upgraded to TLS when tlsCfg
// carries a cert/key pair.
func Listen(addr string, tlsCfg TLSConfig) (net.Listener, error) {
	serverCfg, err := tlsCfg.serverConfig()
	if err != nil {
		return nil, err
	}
	if serverCfg != nil {
		return tls.Listen("tcp", addr, serverCfg)
	}
	return net.Listen("tcp", addr)
}

// Dial opens a TCP connection to addr, upgraded to TLS when tlsCfg
// carries a CA or is otherwise configured for verification.
func Dial(addr string, tlsCfg TLSConfig, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	clientCfg, err := tlsCfg.clientConfig()
	if err != nil {
		return nil, err
	}
	if clientCfg != nil {
		return tls.DialWithDialer(dialer, "tcp", addr, clientCfg)
	}
	return dialer.Dial("tcp", addr)
}
