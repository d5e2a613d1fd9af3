package config_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chordhq/chord/agent/internal/config"
	"github.com/stretchr/testify/require"
)

func writeCertKeyCA(t *testing.T, commonName string) (certPath, keyPath, caPath string) {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caTemplate, &leafKey.PublicKey, caKey)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "agent.crt")
	keyPath = filepath.Join(dir, "agent.key")
	caPath = filepath.Join(dir, "ca.crt")

	writePEM(t, certPath, "CERTIFICATE", leafDER)
	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	require.NoError(t, err)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
	writePEM(t, caPath, "CERTIFICATE", caDER)

	return certPath, keyPath, caPath
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}))
}

func TestResolveRejectsMissingSessionName(t *testing.T) {
	certPath, keyPath, caPath := writeCertKeyCA(t, "agent1")
	_, err := config.Resolve(config.Flags{
		CertificatePath: certPath,
		PrivateKeyPath:  keyPath,
		CABundlePath:    caPath,
		ListenTransport: "Unix",
	})
	require.Error(t, err)
}

func TestResolveRejectsUnsetListenEndpointAndTransport(t *testing.T) {
	certPath, keyPath, caPath := writeCertKeyCA(t, "agent1")
	_, err := config.Resolve(config.Flags{
		SessionName:     "s1",
		CertificatePath: certPath,
		PrivateKeyPath:  keyPath,
		CABundlePath:    caPath,
	})
	require.Error(t, err)
}

func TestResolveAcceptsPartialUnixEndpoint(t *testing.T) {
	certPath, keyPath, caPath := writeCertKeyCA(t, "agent1")
	cfg, err := config.Resolve(config.Flags{
		SessionName:     "s1",
		ListenEndpoint:  "/tmp/s1.sock",
		ListenTransport: "Unix",
		CertificatePath: certPath,
		PrivateKeyPath:  keyPath,
		CABundlePath:    caPath,
	})
	require.NoError(t, err)
	require.Equal(t, "agent1", cfg.ListenLocation.ServerName())
}

func TestResolveRejectsCNMismatchOnFullURI(t *testing.T) {
	certPath, keyPath, caPath := writeCertKeyCA(t, "agent1")
	_, err := config.Resolve(config.Flags{
		SessionName:     "s1",
		ListenEndpoint:  "unix://some-other-name/tmp/s1.sock",
		CertificatePath: certPath,
		PrivateKeyPath:  keyPath,
		CABundlePath:    caPath,
	})
	require.Error(t, err)
}

func TestResolveDefaultsRegistrationTimeout(t *testing.T) {
	certPath, keyPath, caPath := writeCertKeyCA(t, "agent1")
	cfg, err := config.Resolve(config.Flags{
		SessionName:     "s1",
		ListenTransport: "Unix",
		ListenEndpoint:  "/tmp/s1.sock",
		CertificatePath: certPath,
		PrivateKeyPath:  keyPath,
		CABundlePath:    caPath,
	})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.RegistrationTimeout)
}
