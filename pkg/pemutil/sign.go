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

package pemutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ParsePrivateKey decodes a PEM block produced by GenerateRSA (PKCS1 or
// PKCS8) into an *rsa.PrivateKey.
func ParsePrivateKey(privateKey []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return nil, errors.New("invalid PEM data")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key2, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unsupported private key format: %w", err)
	}
	rsaKey, ok := key2.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey decodes a PEM block produced by GenerateRSA (PKIX or
// PKCS1) into an *rsa.PublicKey.
func ParsePublicKey(publicKey []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(publicKey)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("invalid PEM format or key type")
	}
	pubInterface, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if pub, err2 := x509.ParsePKCS1PublicKey(block.Bytes); err2 == nil {
			return pub, nil
		}
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := pubInterface.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return pub, nil
}

// Sign produces an RSA-PSS signature over the SHA-256 digest of data,
// using the master's long-lived private key. This is what authenticates
// a publish envelope to every minion that holds the master's public key.
func Sign(privateKey []byte, data []byte) ([]byte, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
}

// Verify checks an RSA-PSS signature produced by Sign.
func Verify(publicKey []byte, data, signature []byte) error {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, nil)
}
