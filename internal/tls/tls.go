// Package tls builds client TLS configurations for outbound provider connections.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientOptions controls how a provider connection verifies its server.
type ClientOptions struct {
	ServerName         string
	InsecureSkipVerify bool
	// CAFile is an optional PEM bundle appended to the system roots.
	CAFile string
}

// ClientConfig returns a tls.Config for dialing a provider. TLS 1.2 is the floor.
func ClientConfig(opts ClientOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for self-hosted relays
		MinVersion:         tls.VersionTLS12,
	}

	if opts.CAFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(opts.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA file %s", opts.CAFile)
	}
	cfg.RootCAs = pool

	return cfg, nil
}
