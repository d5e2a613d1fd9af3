package agentservice_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/chordhq/chord/agent/internal/agentservice"
	"github.com/chordhq/chord/agent/internal/supervisor"
	"github.com/chordhq/chord/shared/proto"
	"github.com/chordhq/chord/shared/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func selfSignedTLSConfig(t *testing.T, cn string) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	pool := x509.NewCertPool()
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool.AddCert(leaf)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
}

// TestListenResolvesEphemeralTcpPort exercises the --listen-endpoint
// Tcp4-with-unset-port path: the port the kernel actually bound must
// come back non-zero so it can be published to the session directory.
func TestListenResolvesEphemeralTcpPort(t *testing.T) {
	loc, err := transport.ForTcp4("test-agent", "127.0.0.1", 0)
	require.NoError(t, err)

	resolved, lis, err := agentservice.Listen(loc)
	require.NoError(t, err)
	defer lis.Close()

	require.NotZero(t, resolved.Port())
}

// TestServeGracefulStopOnContextCancel exercises the bounded
// GracefulStop path the teacher's server/internal/grpc/server.go
// exercises: canceling ctx must make Serve return promptly.
func TestServeGracefulStopOnContextCancel(t *testing.T) {
	loc, err := transport.ForTcp4("test-agent", "127.0.0.1", 0)
	require.NoError(t, err)
	_, lis, err := agentservice.Listen(loc)
	require.NoError(t, err)

	sup := supervisor.New(supervisor.Config{Logger: zap.NewNop(), RunDirectory: t.TempDir()})
	svc := agentservice.New(agentservice.Config{Logger: zap.NewNop(), AgentName: "test-agent", MachineExecutable: "/bin/sleep"}, sup)
	server := agentservice.NewServer(zap.NewNop(), selfSignedTLSConfig(t, "test-agent"), svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, lis) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

var _ proto.AgentServiceServer = (*agentservice.Service)(nil)
