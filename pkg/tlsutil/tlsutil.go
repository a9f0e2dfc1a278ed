// Package tlsutil builds TLS configurations for the HTTP server that
// exposes metrics, health and the control API.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/avflow/errors"
)

// ServerConfig describes server side TLS. An empty CertFile disables TLS.
type ServerConfig struct {
	CertFile   string
	KeyFile    string
	MinVersion string // "1.2" (default) or "1.3"

	// ClientCAFiles enables mTLS: client certificates are verified against
	// these CAs.
	ClientCAFiles     []string
	RequireClientCert bool
	// AllowedClientCNs optionally restricts verified clients by common name.
	AllowedClientCNs []string
}

// Enabled reports whether a certificate is configured.
func (c ServerConfig) Enabled() bool { return c.CertFile != "" }

// Validate checks the combination of fields without touching the files.
func (c ServerConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			"certificate and key must be set together")
	}
	if !c.Enabled() && (len(c.ClientCAFiles) > 0 || c.RequireClientCert || len(c.AllowedClientCNs) > 0) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			"client certificate settings need a server certificate")
	}
	if c.RequireClientCert && len(c.ClientCAFiles) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "tlsutil", "Validate",
			"requiring client certificates needs client CA files")
	}
	if _, ok := parseTLSVersion(c.MinVersion); !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: TLS version %q", errors.ErrValueInvalid, c.MinVersion),
			"tlsutil", "Validate", "check minimum version")
	}
	return nil
}

// LoadServerConfig loads the certificate and client CAs. It returns nil
// when TLS is disabled.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}
	minVersion, _ := parseTLSVersion(cfg.MinVersion)
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}

	if len(cfg.ClientCAFiles) > 0 {
		if err := applyMTLSConfig(tlsConfig, cfg); err != nil {
			return nil, err
		}
	}
	return tlsConfig, nil
}

func applyMTLSConfig(tlsConfig *tls.Config, cfg ServerConfig) error {
	clientCAs := x509.NewCertPool()
	for _, caFile := range cfg.ClientCAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", "applyMTLSConfig",
				fmt.Sprintf("read client CA file %s", caFile))
		}
		if !clientCAs.AppendCertsFromPEM(caPEM) {
			return errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", "applyMTLSConfig",
				fmt.Sprintf("parse client CA certificate from %s", caFile))
		}
	}

	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			// Without a certificate there is no chain; ClientAuth decides.
			if len(verifiedChains) == 0 {
				return nil
			}
			return verifyAllowedClientCN(verifiedChains, allowed)
		}
	}
	return nil
}

func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}
	cn := chains[0][0].Subject.CommonName
	for _, allowed := range allowedCNs {
		if cn == allowed {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN '%s' not in allowed list", cn)
}

// parseTLSVersion maps "1.2" and "1.3"; empty selects 1.2.
func parseTLSVersion(version string) (uint16, bool) {
	switch version {
	case "", "1.2":
		return tls.VersionTLS12, true
	case "1.3":
		return tls.VersionTLS13, true
	}
	return tls.VersionTLS12, false
}
