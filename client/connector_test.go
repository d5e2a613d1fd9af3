package client_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/chordhq/chord/client"
	"github.com/chordhq/chord/shared/remoting"
	"github.com/chordhq/chord/shared/transport"
	"github.com/chordhq/chord/shared/wirecodec"
)

// fakeRemotingServer is a minimal in-memory RemotingServiceServer used
// to exercise GrpcConnector without depending on the machine module.
type fakeRemotingServer struct {
	remoting.UnimplementedRemotingServiceServer
	echoProtocol string
	events       []*remoting.MonitorEvent
}

func (f *fakeRemotingServer) Communicate(stream remoting.RemotingService_CommunicateServer) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	if got := md.Get(remoting.ProtocolUrlMetadataKey); len(got) != 1 || got[0] != f.echoProtocol {
		return nil
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			return nil
		}
		if err := stream.Send(&remoting.Message{Version: msg.Version, Data: append([]byte("echo:"), msg.Data...)}); err != nil {
			return err
		}
	}
}

func (f *fakeRemotingServer) Monitor(_ *remoting.MonitorRequest, stream remoting.RemotingService_MonitorServer) error {
	for _, ev := range f.events {
		if err := stream.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRemotingServer) Resume(context.Context, *remoting.ResumeRequest) (*remoting.ResumeReply, error) {
	return &remoting.ResumeReply{}, nil
}

func selfSignedMachineTLS(t *testing.T, cn string) (*tls.Config, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		DNSNames:              []string{cn},
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

	certPEM := pemEncode(t, "CERTIFICATE", der)
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, []byte(certPEM)
}

func startFakeBinder(t *testing.T, srv *fakeRemotingServer, tlsConfig *tls.Config) (addr string) {
	t.Helper()
	lis, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsConfig)), grpc.ForceServerCodec(wirecodec.Codec{}))
	remoting.RegisterRemotingServiceServer(gs, srv)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func TestOpenPlugEchoesFramesRoundTrip(t *testing.T) {
	srv := &fakeRemotingServer{echoProtocol: "tcp4://machine/echo"}
	serverTLS, certPEM := selfSignedMachineTLS(t, "test-machine")
	addr := startFakeBinder(t, srv, serverTLS)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))
	clientCert := serverTLS.Certificates[0]

	loc, err := transport.ForTcp4("test-machine", "127.0.0.1", addrPort(t, addr))
	require.NoError(t, err)

	conn, err := client.DialMachine(loc, "test-machine", clientCert, pool, nil)
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan []byte, 1)
	require.NoError(t, conn.OpenPlug(context.Background(), "tcp4://machine/echo", func(data []byte) {
		received <- data
	}))

	conn.Send("tcp4://machine/echo", []byte("hi"))

	select {
	case data := <-received:
		require.Equal(t, "echo:hi", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive echoed frame")
	}
}

func TestRunUntilFinishedReturnsExitStatusOnTerminalEvent(t *testing.T) {
	srv := &fakeRemotingServer{
		events: []*remoting.MonitorEvent{
			{StateChanged: &remoting.StateChanged{CurrState: remoting.Running}},
			{MachineExit: &remoting.MachineExit{ExitStatus: 7}},
		},
	}
	serverTLS, certPEM := selfSignedMachineTLS(t, "test-machine")
	addr := startFakeBinder(t, srv, serverTLS)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))
	clientCert := serverTLS.Certificates[0]

	loc, err := transport.ForTcp4("test-machine", "127.0.0.1", addrPort(t, addr))
	require.NoError(t, err)
	conn, err := client.DialMachine(loc, "test-machine", clientCert, pool, nil)
	require.NoError(t, err)
	defer conn.Close()

	var states []remoting.MachineState
	status, err := conn.RunUntilFinished(context.Background(), func(s remoting.MachineState) {
		states = append(states, s)
	})
	require.NoError(t, err)
	require.Equal(t, int32(7), status)
	require.Equal(t, []remoting.MachineState{remoting.Running}, states)
}

func addrPort(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}
