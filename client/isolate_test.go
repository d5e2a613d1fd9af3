package client_test

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

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/chordhq/chord/client"
	"github.com/chordhq/chord/shared/proto"
	"github.com/chordhq/chord/shared/remoting"
	"github.com/chordhq/chord/shared/transport"
	"github.com/chordhq/chord/shared/wirecodec"
)

// fakeMachineAgent stands in for the real agent during
// ChordIsolate.RunMachine's handshake: on CreateMachine it pre-binds a
// listener (simulating a spawned machine process claiming its bound
// address) and generates a CSR for it; on RunMachine it uses the
// isolate-signed certificate to bring up a real TLS RemotingService
// server on that listener, mirroring what machine/internal/registration
// does on the real machine side of the same wire protocol.
type fakeMachineAgent struct {
	proto.UnimplementedAgentServiceServer

	lis         net.Listener
	machineKey  *ecdsa.PrivateKey
	endpointURL string
	pool        *x509.CertPool
	remoting    *fakeRemotingServer
}

func newFakeMachineAgent(t *testing.T) *fakeMachineAgent {
	t.Helper()
	lis, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &fakeMachineAgent{
		lis:         lis,
		machineKey:  key,
		endpointURL: "tcp4://test-machine@" + lis.Addr().String(),
		remoting:    &fakeRemotingServer{echoProtocol: "tcp4://machine/echo"},
	}
}

func (a *fakeMachineAgent) IdentifyAgent(context.Context, *proto.IdentifyAgentRequest) (*proto.IdentifyAgentReply, error) {
	return &proto.IdentifyAgentReply{AgentName: "test-agent"}, nil
}

func (a *fakeMachineAgent) CreateMachine(_ context.Context, req *proto.CreateMachineRequest) (*proto.CreateMachineReply, error) {
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: "test-machine"},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}, a.machineKey)
	if err != nil {
		return nil, err
	}
	csrPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER}))

	declaredPorts := make([]proto.DeclaredPort, 0, len(req.RequestedPorts))
	for _, p := range req.RequestedPorts {
		declaredPorts = append(declaredPorts, proto.DeclaredPort{ProtocolUrl: p.ProtocolUrl, PortType: p.PortType, PortDirection: p.PortDirection})
	}
	return &proto.CreateMachineReply{
		MachineUrl:           "chord://test-agent/" + req.Name,
		DeclaredPorts:        declaredPorts,
		DeclaredEndpoints:    []proto.DeclaredEndpoint{{EndpointUrl: a.endpointURL, Csr: csrPEM}},
		ControlEndpointIndex: 0,
	}, nil
}

func (a *fakeMachineAgent) RunMachine(_ context.Context, req *proto.RunMachineRequest) (*proto.RunMachineReply, error) {
	signed := req.SignedEndpoints[0]
	block, _ := pem.Decode([]byte(signed.Certificate))
	cert := tls.Certificate{Certificate: [][]byte{block.Bytes}, PrivateKey: a.machineKey}

	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    a.pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	})
	gs := grpc.NewServer(grpc.Creds(creds), grpc.ForceServerCodec(wirecodec.Codec{}))
	remoting.RegisterRemotingServiceServer(gs, a.remoting)
	go gs.Serve(a.lis) //nolint:errcheck

	return &proto.RunMachineReply{BoundEndpoints: []proto.BoundEndpoint{{EndpointUrl: signed.EndpointUrl}}}, nil
}

func startFakeMachineAgent(t *testing.T, pool *x509.CertPool, agentCert tls.Certificate) (addr string, fake *fakeMachineAgent) {
	t.Helper()
	fake = newFakeMachineAgent(t)
	fake.pool = pool

	agentLis, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{agentCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	})
	gs := grpc.NewServer(grpc.Creds(creds), grpc.ForceServerCodec(wirecodec.Codec{}))
	proto.RegisterAgentServiceServer(gs, fake)
	go gs.Serve(agentLis) //nolint:errcheck
	t.Cleanup(gs.Stop)
	t.Cleanup(func() { fake.lis.Close() })

	return agentLis.Addr().String(), fake
}

func TestChordIsolateRunMachineCompletesFullHandshake(t *testing.T) {
	signer, err := client.NewLocalCertificateSigner("test-org")
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(signer.CACertPEM()))

	agentCertPEM, agentKeyPEM, err := signer.SignAgentIdentity("test-agent", time.Hour)
	require.NoError(t, err)
	agentCert, err := tls.X509KeyPair(agentCertPEM, agentKeyPEM)
	require.NoError(t, err)

	addr, _ := startFakeMachineAgent(t, pool, agentCert)

	endpoint, err := transport.FromURL("tcp4://test-agent@" + addr)
	require.NoError(t, err)
	sess := &client.Session{
		Endpoint: endpoint,
		Signer:   signer,
	}
	isolate := client.NewChordIsolate(sess, zap.NewNop())
	defer isolate.Close()

	received := make(chan []byte, 1)
	result, err := isolate.RunMachine(context.Background(), client.RunOptions{
		Name:         "m1",
		ExecutionURL: "pkg://test/main",
		ConfigHash:   "h1",
		RequestedPorts: []client.RequestedPort{
			{
				ProtocolURL:   "tcp4://machine/echo",
				PortType:      proto.PortTypeStreaming,
				PortDirection: proto.PortDirectionBiDirectional,
				Handler:       func(data []byte) { received <- data },
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "chord://test-agent/m1", result.MachineURL)
	defer result.Connector.Close()

	result.Connector.Send("tcp4://machine/echo", []byte("ping"))
	select {
	case data := <-received:
		require.Equal(t, "echo:ping", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive echoed frame through the full handshake")
	}
}
