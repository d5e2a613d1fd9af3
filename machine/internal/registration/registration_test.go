package registration_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/chordhq/chord/machine/internal/binder"
	"github.com/chordhq/chord/machine/internal/registration"
	"github.com/chordhq/chord/machine/internal/runner"
	"github.com/chordhq/chord/shared/proto"
	"github.com/chordhq/chord/shared/wirecodec"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

type blockingProgram struct{ release chan struct{} }

func (p *blockingProgram) Run(ctx context.Context) error {
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fakeAgent stands in for the real AgentService during the
// SignCertificates/AdvertiseEndpoints exchange: it countersigns
// whatever CSR the machine sends with a test CA.
type fakeAgent struct {
	proto.UnimplementedAgentServiceServer
	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey

	advertised chan *proto.AdvertiseEndpointsRequest
}

func (a *fakeAgent) SignCertificates(ctx context.Context, req *proto.SignCertificatesRequest) (*proto.SignCertificatesReply, error) {
	block, _ := pem.Decode([]byte(req.DeclaredEndpoints[0].Csr))
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      csr.Subject,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.caCert, csr.PublicKey, a.caKey)
	if err != nil {
		return nil, err
	}
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return &proto.SignCertificatesReply{
		SignedEndpoints: []proto.SignedEndpoint{{EndpointUrl: req.DeclaredEndpoints[0].EndpointUrl, Certificate: certPEM}},
	}, nil
}

func (a *fakeAgent) AdvertiseEndpoints(ctx context.Context, req *proto.AdvertiseEndpointsRequest) (*proto.AdvertiseEndpointsReply, error) {
	a.advertised <- req
	return &proto.AdvertiseEndpointsReply{}, nil
}

func generateCA(t *testing.T) (*x509.Certificate, *ecdsa.PrivateKey, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:              time.Now().Add(-time.Hour),
		NotAfter:               time.Now().Add(time.Hour),
		IsCA:                   true,
		BasicConstraintsValid:  true,
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	return caCert, key, pool
}

func startFakeAgent(t *testing.T, caCert *x509.Certificate, caKey *ecdsa.PrivateKey, pool *x509.CertPool) (addr string, agent *fakeAgent) {
	t.Helper()
	agentCertDER, err := x509.CreateCertificate(rand.Reader, &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "test-agent"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}, caCert, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	agentTLSCert := tls.Certificate{Certificate: [][]byte{agentCertDER}, PrivateKey: caKey}

	lis, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{agentTLSCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	})
	grpcServer := grpc.NewServer(grpc.Creds(creds), grpc.ForceServerCodec(wirecodec.Codec{}))
	agent = &fakeAgent{caCert: caCert, caKey: caKey, advertised: make(chan *proto.AdvertiseEndpointsRequest, 1)}
	proto.RegisterAgentServiceServer(grpcServer, agent)

	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	return lis.Addr().String(), agent
}

func TestRunCompletesHandshakeWithZeroRequestedPorts(t *testing.T) {
	caCert, caKey, pool := generateCA(t)
	addr, agent := startFakeAgent(t, caCert, caKey, pool)

	machine := runner.NewLocalMachine(context.Background(), &blockingProgram{release: make(chan struct{})}, true, zap.NewNop())

	result, err := registration.Run(context.Background(), registration.Options{
		MachineURL:         "chord://test-agent/m1",
		SupervisorEndpoint: "tcp4://test-agent@" + addr,
		RootCAs:            pool,
		BinderBindAddress:  "127.0.0.1:0",
		BinderServerName:   "m1",
	}, machine, func(string) binder.Handler { return nil }, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, result.Service)
	require.NotNil(t, result.Binder)

	select {
	case req := <-agent.advertised:
		require.Len(t, req.BoundEndpoints, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("expected AdvertiseEndpoints to reach the fake agent")
	}
}
