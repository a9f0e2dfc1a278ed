package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
)

type testCert struct {
	certFile, keyFile string
	pair              tls.Certificate
	leaf              *x509.Certificate
}

// writeCert creates a self-signed certificate usable as server, client and
// CA, and writes it to dir.
func writeCert(t *testing.T, dir, cn string) testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	c := testCert{
		certFile: filepath.Join(dir, cn+".pem"),
		keyFile:  filepath.Join(dir, cn+"-key.pem"),
	}
	require.NoError(t, os.WriteFile(c.certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(c.keyFile, keyPEM, 0o600))

	c.pair, err = tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	c.leaf, err = x509.ParseCertificate(der)
	require.NoError(t, err)
	return c
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"disabled", ServerConfig{}, false},
		{"manual", ServerConfig{CertFile: "c", KeyFile: "k", MinVersion: "1.3"}, false},
		{"cert without key", ServerConfig{CertFile: "c"}, true},
		{"key without cert", ServerConfig{KeyFile: "k"}, true},
		{"client CA without cert", ServerConfig{ClientCAFiles: []string{"ca"}}, true},
		{"required client cert without CA", ServerConfig{CertFile: "c", KeyFile: "k", RequireClientCert: true}, true},
		{"bad version", ServerConfig{CertFile: "c", KeyFile: "k", MinVersion: "1.1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	server := writeCert(t, dir, "server")
	client := writeCert(t, dir, "client")

	t.Run("disabled", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("manual", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{CertFile: server.certFile, KeyFile: server.keyFile})
		require.NoError(t, err)
		require.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	})

	t.Run("mtls", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{
			CertFile:          server.certFile,
			KeyFile:           server.keyFile,
			MinVersion:        "1.3",
			ClientCAFiles:     []string{client.certFile},
			RequireClientCert: true,
		})
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.NotNil(t, cfg.ClientCAs)
	})

	t.Run("optional client cert", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{
			CertFile:      server.certFile,
			KeyFile:       server.keyFile,
			ClientCAFiles: []string{client.certFile},
		})
		require.NoError(t, err)
		assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	})

	t.Run("missing files", func(t *testing.T) {
		_, err := LoadServerConfig(ServerConfig{CertFile: filepath.Join(dir, "none.pem"), KeyFile: server.keyFile})
		assert.True(t, errors.IsFatal(err))

		_, err = LoadServerConfig(ServerConfig{
			CertFile:      server.certFile,
			KeyFile:       server.keyFile,
			ClientCAFiles: []string{filepath.Join(dir, "none.pem")},
		})
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("CA file without PEM", func(t *testing.T) {
		junk := filepath.Join(dir, "junk.pem")
		require.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o644))
		_, err := LoadServerConfig(ServerConfig{
			CertFile:      server.certFile,
			KeyFile:       server.keyFile,
			ClientCAFiles: []string{junk},
		})
		assert.ErrorContains(t, err, "invalid PEM data")
	})
}

func TestVerifyAllowedClientCN(t *testing.T) {
	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "control"}}
	chains := [][]*x509.Certificate{{leaf}}

	assert.NoError(t, verifyAllowedClientCN(chains, []string{"ops", "control"}))
	assert.ErrorContains(t, verifyAllowedClientCN(chains, []string{"ops"}), "not in allowed list")
	assert.Error(t, verifyAllowedClientCN(nil, []string{"control"}))
}

// handshake serves one TLS connection with cfg and dials it with the given
// client certificate, returning the client side error.
func handshake(t *testing.T, cfg *tls.Config, server testCert, client *tls.Certificate) error {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.(*tls.Conn).Handshake(); err != nil {
			return
		}
		_, _ = conn.Write([]byte("ok"))
	}()

	roots := x509.NewCertPool()
	roots.AddCert(server.leaf)
	clientCfg := &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	if client != nil {
		clientCfg.Certificates = []tls.Certificate{*client}
	}

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	// TLS 1.3 reports client certificate rejection on the first read.
	buf := make([]byte, 2)
	_, err = io.ReadFull(conn, buf)
	return err
}

func TestMTLSHandshake(t *testing.T) {
	dir := t.TempDir()
	server := writeCert(t, dir, "server")
	allowed := writeCert(t, dir, "control")
	other := writeCert(t, dir, "intruder")

	load := func(t *testing.T, cfg ServerConfig) *tls.Config {
		cfg.CertFile, cfg.KeyFile = server.certFile, server.keyFile
		tlsCfg, err := LoadServerConfig(cfg)
		require.NoError(t, err)
		return tlsCfg
	}

	t.Run("server only", func(t *testing.T) {
		assert.NoError(t, handshake(t, load(t, ServerConfig{}), server, nil))
	})

	t.Run("required client cert", func(t *testing.T) {
		cfg := load(t, ServerConfig{ClientCAFiles: []string{allowed.certFile}, RequireClientCert: true})
		assert.NoError(t, handshake(t, cfg, server, &allowed.pair))
		assert.Error(t, handshake(t, cfg, server, nil))
		assert.Error(t, handshake(t, cfg, server, &other.pair), "unknown CA")
	})

	t.Run("optional client cert", func(t *testing.T) {
		cfg := load(t, ServerConfig{ClientCAFiles: []string{allowed.certFile}})
		assert.NoError(t, handshake(t, cfg, server, nil))
		assert.NoError(t, handshake(t, cfg, server, &allowed.pair))
	})

	t.Run("common name allow list", func(t *testing.T) {
		cfg := load(t, ServerConfig{
			ClientCAFiles:     []string{allowed.certFile, other.certFile},
			RequireClientCert: true,
			AllowedClientCNs:  []string{"control"},
		})
		assert.NoError(t, handshake(t, cfg, server, &allowed.pair))
		assert.Error(t, handshake(t, cfg, server, &other.pair))
	})
}
