package smtpconn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// tlsConfig builds the TLS client configuration for a handshake.
//
// A caller-supplied TLSConfig is used as is, with ServerName filled in when
// empty. Otherwise a new configuration is built: verification follows
// ValidateCerts, CertBundle replaces the system roots, and ClientCert (with
// ClientKey, or a key in the same file) is presented to the server.
func (c *Config) tlsConfig() (*tls.Config, error) {
	serverName := c.serverName()

	if c.TLSConfig != nil {
		tc := c.TLSConfig.Clone()
		if tc.ServerName == "" {
			tc.ServerName = serverName
		}
		return tc, nil
	}

	tc := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if !c.ValidateCerts {
		tc.InsecureSkipVerify = true
	}

	if c.CertBundle != "" {
		pem, err := os.ReadFile(c.CertBundle)
		if err != nil {
			return nil, &ConfigError{Field: "cert bundle", Reason: err.Error()}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigError{Field: "cert bundle", Reason: fmt.Sprintf("no certificates in %s", c.CertBundle)}
		}
		tc.RootCAs = pool
	}

	if c.ClientCert != "" {
		keyFile := c.ClientKey
		if keyFile == "" {
			keyFile = c.ClientCert
		}
		cert, err := tls.LoadX509KeyPair(c.ClientCert, keyFile)
		if err != nil {
			return nil, &ConfigError{Field: "client certificate", Reason: err.Error()}
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}
