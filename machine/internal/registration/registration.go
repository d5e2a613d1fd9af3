// Package registration drives a machine process's half of the
// handshake described in spec section 4.5: generate a keypair and
// CSR, dial the agent's supervisor endpoint, exchange
// SignCertificates/AdvertiseEndpoints, and hand back a binder ready
// to accept plug connections. Grounded on the teacher's
// cmd/agent/main.go startup-sequence style (resolve config, dial,
// build the long-lived server, wire it to the rest of the process)
// applied to the child's side of the same TLS handshake the agent
// performs.
package registration

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/chordhq/chord/machine/internal/binder"
	"github.com/chordhq/chord/machine/internal/runner"
	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/proto"
	"github.com/chordhq/chord/shared/transport"
	"github.com/chordhq/chord/shared/wirecodec"
)

// RequestedPort is one port the client asked CreateMachine to declare,
// forwarded to the machine process via --requested-port.
type RequestedPort struct {
	ProtocolUrl   string
	PortType      proto.PortType
	PortDirection proto.PortDirection
}

// Options configures the registration driver.
type Options struct {
	MachineURL         string
	SupervisorEndpoint string // full transport URL, e.g. "tcp4://agent@127.0.0.1:1234"
	ServerNameOverride string // overrides the supervisor endpoint's SNI; empty uses the endpoint's own server-name
	RootCAs            *x509.CertPool
	RequestedPorts     []RequestedPort
	BinderBindAddress  string // local address the GrpcBinder listens on, e.g. "127.0.0.1:0"
	BinderServerName   string // CN written into the CSR and the binder's declared endpoint
}

// Result is everything the rest of the machine process needs once
// registration completes.
type Result struct {
	Service      *binder.Service
	Binder       *binder.GrpcBinder
	Listener     net.Listener
	BoundAddress string
}

// HandlerFactory builds the binder.Handler for one requested protocol.
// The machine process supplies this since only it knows how a handler
// should bridge frames to its interpreter program.
type HandlerFactory func(protocolURL string) binder.Handler

// Run performs the full handshake in the order spec section 4.5
// describes: generate keypair + CSR, dial the agent, SignCertificates,
// build the binder and register one handler per requested port, then
// AdvertiseEndpoints. If there are no requested ports, there is
// nothing left to gate init-complete on, so it is signaled immediately
// (the spec's "0 ports" scenario, S1 in section 8).
func Run(ctx context.Context, opts Options, machine *runner.LocalMachine, handlerFor HandlerFactory, log *zap.Logger) (*Result, error) {
	log = log.Named("registration")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InternalViolation, "generate machine keypair", err)
	}

	csrPEM, err := buildCSR(opts.BinderServerName, key)
	if err != nil {
		return nil, err
	}

	conn, err := dialAgent(opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	client := proto.NewAgentServiceClient(conn)

	lis, err := net.Listen("tcp4", opts.BinderBindAddress)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.MachineError, "bind binder listener", err)
	}
	binderEndpoint := lis.Addr().String()

	declaredPorts := make([]proto.DeclaredPort, 0, len(opts.RequestedPorts))
	for _, p := range opts.RequestedPorts {
		declaredPorts = append(declaredPorts, proto.DeclaredPort{
			ProtocolUrl:   p.ProtocolUrl,
			EndpointIndex: 0,
			PortType:      p.PortType,
			PortDirection: p.PortDirection,
		})
	}

	signReply, err := client.SignCertificates(ctx, &proto.SignCertificatesRequest{
		MachineUrl:    opts.MachineURL,
		DeclaredPorts: declaredPorts,
		DeclaredEndpoints: []proto.DeclaredEndpoint{
			{EndpointUrl: endpointURL(opts.BinderServerName, binderEndpoint), Csr: csrPEM},
		},
	})
	if err != nil {
		lis.Close()
		return nil, chorderr.Wrap(chorderr.AgentError, "signCertificates", err)
	}
	if len(signReply.SignedEndpoints) != 1 {
		lis.Close()
		return nil, chorderr.New(chorderr.AgentError, fmt.Sprintf("signCertificates: expected 1 signed endpoint, got %d", len(signReply.SignedEndpoints)))
	}

	cert, err := toTLSCertificate(signReply.SignedEndpoints[0].Certificate, key)
	if err != nil {
		lis.Close()
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    opts.RootCAs,
		RootCAs:      opts.RootCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}

	svc := binder.New(machine, log)
	for _, p := range opts.RequestedPorts {
		svc.RegisterHandler(p.ProtocolUrl, handlerFor(p.ProtocolUrl), true)
	}
	if len(opts.RequestedPorts) == 0 {
		machine.NotifyInitComplete()
	}

	grpcBinder := binder.NewGrpcBinder(log, tlsConfig, svc)

	if _, err := client.AdvertiseEndpoints(ctx, &proto.AdvertiseEndpointsRequest{
		MachineUrl:     opts.MachineURL,
		BoundEndpoints: []proto.BoundEndpoint{{EndpointUrl: endpointURL(opts.BinderServerName, binderEndpoint)}},
	}); err != nil {
		lis.Close()
		return nil, chorderr.Wrap(chorderr.AgentError, "advertiseEndpoints", err)
	}

	log.Info("registration complete",
		zap.String("machine_url", opts.MachineURL),
		zap.String("binder_endpoint", binderEndpoint),
		zap.Int("requested_ports", len(opts.RequestedPorts)),
	)

	return &Result{Service: svc, Binder: grpcBinder, Listener: lis, BoundAddress: binderEndpoint}, nil
}

func endpointURL(serverName, boundAddress string) string {
	return "tcp4://" + serverName + "@" + boundAddress
}

func buildCSR(commonName string, key *ecdsa.PrivateKey) (string, error) {
	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:         commonName,
			Organization:       []string{"Chord"},
			OrganizationalUnit: []string{"Chord machine"},
		},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return "", chorderr.Wrap(chorderr.InternalViolation, "create CSR", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

func toTLSCertificate(certPEM string, key *ecdsa.PrivateKey) (tls.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return tls.Certificate{}, chorderr.New(chorderr.AgentError, "signed certificate is not valid PEM")
	}
	return tls.Certificate{Certificate: [][]byte{block.Bytes}, PrivateKey: key}, nil
}

func dialAgent(opts Options) (*grpc.ClientConn, error) {
	loc, err := transport.FromURL(opts.SupervisorEndpoint)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "parse supervisor endpoint", err)
	}
	serverName := loc.ServerName()
	if opts.ServerNameOverride != "" {
		serverName = opts.ServerNameOverride
	}
	creds := credentials.NewTLS(&tls.Config{
		RootCAs:    opts.RootCAs,
		ServerName: serverName,
		MinVersion: tls.VersionTLS13,
	})
	conn, err := grpc.NewClient(loc.ToTarget(),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wirecodec.Codec{})),
	)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.AgentError, "dial supervisor endpoint", err)
	}
	return conn, nil
}
