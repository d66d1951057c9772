package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ClientTLSOptions configures the TLS side of a wss:// connection.
type ClientTLSOptions struct {
	// CAFile replaces the system roots when set.
	CAFile     string
	// CertFile and KeyFile present a client certificate to the server.
	CertFile string
	KeyFile  string
	// InsecureSkipVerify disables certificate checks entirely.
	InsecureSkipVerify bool
}

func newCustomTLSKeyPair(certfile, keyfile string) (*tls.Certificate, error) {
	tlsCert, err := tls.LoadX509KeyPair(certfile, keyfile)
	if err != nil {
		return nil, err
	}
	return &tlsCert, nil
}

// Only support one ca file to add
func newCertPool(caPath string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()

	caCrt, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	if !pool.AppendCertsFromPEM(caCrt) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	return pool, nil
}

// NewClientTLSConfig returns nil when opts asks for nothing beyond the
// system defaults.
func NewClientTLSConfig(opts ClientTLSOptions) (*tls.Config, error) {
	if opts == (ClientTLSOptions{}) {
		return nil, nil
	}
	base := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, errors.New("client certificate and key must be given together")
	}
	if opts.CertFile != "" {
		cert, err := newCustomTLSKeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		base.Certificates = []tls.Certificate{*cert}
	}

	if opts.CAFile != "" {
		pool, err := newCertPool(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("load CA: %w", err)
		}
		base.RootCAs = pool
	}

	return base, nil
}
