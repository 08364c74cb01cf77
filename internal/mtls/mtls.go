// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mtls provides mTLS and TLS config support for the control
// server and its clients.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
)

var (
	ErrMissingCertOrKey       = errors.New("root ca set without certificate or key")
	ErrNoValidRootCertificate = errors.New("no valid root certificate")
	ErrMissingCertificate     = errors.New("missing certificate")
	ErrMissingKey             = errors.New("missing key")
)

// Files is a set of PEM file paths. Empty paths are ignored.
type Files struct {
	CA   string
	Cert string
	Key  string
}

// IsZero returns whether no file is set.
func (f Files) IsZero() bool {
	return f == Files{}
}

// ServerConfig reads the files and returns a server configuration.
// See [NewServerConfig].
func (f Files) ServerConfig() (*tls.Config, error) {
	ca, cert, key, err := f.read()
	if err != nil {
		return nil, err
	}
	return NewServerConfig(ca, cert, key)
}

// ClientConfig reads the files and returns a client configuration.
// See [NewClientConfig].
func (f Files) ClientConfig() (*tls.Config, error) {
	ca, cert, key, err := f.read()
	if err != nil {
		return nil, err
	}
	return NewClientConfig(ca, cert, key)
}

func (f Files) read() (ca, cert, key []byte, err error) {
	for _, p := range []struct {
		path string
		dst  *[]byte
	}{
		{path: f.CA, dst: &ca},
		{path: f.Cert, dst: &cert},
		{path: f.Key, dst: &key},
	} {
		if p.path == "" {
			continue
		}
		*p.dst, err = os.ReadFile(p.path)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return ca, cert, key, nil
}

// NewServerConfig returns a TLS configuration for use with an mTLS or TLS connection.
// If a root CA PEM block is provided the configuration will be set up for mTLS,
// otherwise if it is empty the config will be for TLS connections. If all
// parameters are empty, a nil config will be returned.
func NewServerConfig(rootPEM, certPEMBlock, keyPEMBlock []byte) (*tls.Config, error) {
	return newConfig(true, rootPEM, certPEMBlock, keyPEMBlock)
}

// NewClientConfig returns a TLS configuration for use with an mTLS or TLS connection.
// A root CA without a client certificate is accepted, allowing verification
// of a server that does not require client certificates.
// If all parameters are empty, a nil config will be returned.
func NewClientConfig(rootPEM, certPEMBlock, keyPEMBlock []byte) (*tls.Config, error) {
	return newConfig(false, rootPEM, certPEMBlock, keyPEMBlock)
}

func newConfig(server bool, rootPEM, certPEMBlock, keyPEMBlock []byte) (*tls.Config, error) {
	if len(rootPEM) == 0 && len(certPEMBlock) == 0 && len(keyPEMBlock) == 0 {
		return nil, nil
	}
	tlsConfig := tls.Config{MinVersion: tls.VersionTLS12}
	if len(rootPEM) != 0 {
		if server && (len(certPEMBlock) == 0 || len(keyPEMBlock) == 0) {
			return nil, ErrMissingCertOrKey
		}
		caPool := x509.NewCertPool()
		ok := caPool.AppendCertsFromPEM(rootPEM)
		if !ok {
			return nil, ErrNoValidRootCertificate
		}
		if server {
			tlsConfig.ClientCAs = caPool
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsConfig.RootCAs = caPool
		}
	}
	if len(certPEMBlock) != 0 || len(keyPEMBlock) != 0 {
		if len(certPEMBlock) == 0 {
			return nil, ErrMissingCertificate
		}
		if len(keyPEMBlock) == 0 {
			return nil, ErrMissingKey
		}
		cert, err := tls.X509KeyPair(certPEMBlock, keyPEMBlock)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return &tlsConfig, nil
}
