package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/proto"
	"github.com/chordhq/chord/shared/transport"
	"github.com/chordhq/chord/shared/wirecodec"
)

// RequestedPort is one port a machine should declare at creation time.
type RequestedPort struct {
	ProtocolURL   string
	PortType      proto.PortType
	PortDirection proto.PortDirection
	Handler       PlugHandler
}

// RunOptions configures ChordIsolate.RunMachine.
type RunOptions struct {
	Name           string
	ExecutionURL   string
	ConfigHash     string
	RequestedPorts []RequestedPort
	StartSuspended bool

	// HandshakeTimeout bounds IdentifyAgent/CreateMachine/RunMachine;
	// these are bounded RPCs per spec section 4.5's registration-timeout
	// discipline, not the machine's own lifetime.
	HandshakeTimeout time.Duration
	// CertificateTTL bounds the lifetime of certificates minted during
	// this run (the isolate's own client cert and every machine leaf
	// cert signed from a relayed CSR).
	CertificateTTL time.Duration
}

// RunResult is everything a caller needs to drive and observe a
// running machine after ChordIsolate.RunMachine returns.
type RunResult struct {
	MachineURL string
	Connector  *GrpcConnector
}

// ChordIsolate drives one machine through the handshake described in
// spec section 4.7 over a Session that EstablishSession has already
// set up: dial the agent, create the machine, sign its CSRs, bind it,
// and open its plugs. Monitoring starts when the caller runs
// GrpcConnector.RunUntilFinished on the returned connector. It is the
// client-side counterpart of machine/internal/registration.Run.
type ChordIsolate struct {
	Session *Session
	Log     *zap.Logger

	agentConn *grpc.ClientConn
	agent     proto.AgentServiceClient
}

// NewChordIsolate wraps an already-established Session. Use
// EstablishSession to build one.
func NewChordIsolate(sess *Session, log *zap.Logger) *ChordIsolate {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChordIsolate{Session: sess, Log: log.Named("isolate")}
}

// dialAgent opens the control-plane TLS connection to the agent,
// presenting a short-lived client certificate signed by the session's
// own CA so the agent's mutual-TLS listener accepts it.
func (c *ChordIsolate) dialAgent(ttl time.Duration) error {
	if c.Session.Signer == nil {
		return chorderr.New(chorderr.InvalidConfiguration, "isolate has no certificate signer; EstablishSession must spawn or load one")
	}
	certPEM, keyPEM, err := c.Session.Signer.SignAgentIdentity("chord-isolate", ttl)
	if err != nil {
		return err
	}
	clientCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return chorderr.Wrap(chorderr.InvalidConfiguration, "load isolate client certificate", err)
	}
	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(c.Session.Signer.CACertPEM()) {
		return chorderr.New(chorderr.InvalidConfiguration, "isolate CA certificate did not parse")
	}

	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      rootCAs,
		ServerName:   c.Session.Endpoint.ServerName(),
		MinVersion:   tls.VersionTLS13,
	})
	conn, err := grpc.NewClient(c.Session.Endpoint.ToTarget(),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wirecodec.Codec{})),
	)
	if err != nil {
		return chorderr.Wrap(chorderr.AgentError, "dial agent", err)
	}
	c.agentConn = conn
	c.agent = proto.NewAgentServiceClient(conn)
	return nil
}

// Close releases the connections this isolate opened to the agent. It
// does not close connectors returned from RunMachine.
func (c *ChordIsolate) Close() error {
	if c.agentConn == nil {
		return nil
	}
	return c.agentConn.Close()
}

// RunMachine performs spec section 4.7's steps 2 through 8: dial the
// agent, identify it, create the machine, sign its declared CSRs, run
// it, and open a connector with every requested plug attached. If
// opts.StartSuspended is true the machine comes back fully wired but
// still Suspended; nothing here calls Resume implicitly, matching the
// decision recorded in DESIGN.md that only the caller resumes a
// machine that asked to start suspended.
func (c *ChordIsolate) RunMachine(ctx context.Context, opts RunOptions) (*RunResult, error) {
	ttl := opts.CertificateTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := c.dialAgent(ttl); err != nil {
		return nil, err
	}

	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if _, err := c.agent.IdentifyAgent(hctx, &proto.IdentifyAgentRequest{}); err != nil {
		return nil, chorderr.Wrap(chorderr.AgentError, "identifyAgent", err)
	}

	createReq := &proto.CreateMachineRequest{
		Name:           opts.Name,
		ExecutionUrl:   opts.ExecutionURL,
		ConfigHash:     opts.ConfigHash,
		StartSuspended: opts.StartSuspended,
	}
	for _, p := range opts.RequestedPorts {
		createReq.RequestedPorts = append(createReq.RequestedPorts, proto.RequestedPort{
			ProtocolUrl:   p.ProtocolURL,
			PortType:      p.PortType,
			PortDirection: p.PortDirection,
		})
	}
	createReply, err := c.agent.CreateMachine(hctx, createReq)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.AgentError, "createMachine", err)
	}

	signedEndpoints := make([]proto.SignedEndpoint, 0, len(createReply.DeclaredEndpoints))
	for _, ep := range createReply.DeclaredEndpoints {
		certPEM, err := c.Session.Signer.SignCSR(ep.Csr, ttl)
		if err != nil {
			return nil, chorderr.Wrap(chorderr.InvalidConfiguration, fmt.Sprintf("sign csr for %s", ep.EndpointUrl), err)
		}
		signedEndpoints = append(signedEndpoints, proto.SignedEndpoint{EndpointUrl: ep.EndpointUrl, Certificate: certPEM})
	}

	runReply, err := c.agent.RunMachine(hctx, &proto.RunMachineRequest{
		MachineUrl:      createReply.MachineUrl,
		SignedEndpoints: signedEndpoints,
	})
	if err != nil {
		return nil, chorderr.Wrap(chorderr.AgentError, "runMachine", err)
	}
	if int(createReply.ControlEndpointIndex) >= len(runReply.BoundEndpoints) {
		return nil, chorderr.New(chorderr.AgentError, "runMachine: control endpoint index out of range")
	}
	controlEndpointURL := runReply.BoundEndpoints[createReply.ControlEndpointIndex].EndpointUrl

	loc, err := transport.FromURL(controlEndpointURL)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.AgentError, "parse bound control endpoint", err)
	}

	machineCertPEM, machineKeyPEM, err := c.Session.Signer.SignAgentIdentity("chord-isolate-machine-client", ttl)
	if err != nil {
		return nil, err
	}
	machineClientCert, err := tls.X509KeyPair(machineCertPEM, machineKeyPEM)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "load machine client certificate", err)
	}
	rootCAs := x509.NewCertPool()
	rootCAs.AppendCertsFromPEM(c.Session.Signer.CACertPEM())

	connector, err := DialMachine(loc, loc.ServerName(), machineClientCert, rootCAs, c.Log)
	if err != nil {
		return nil, err
	}

	for _, p := range opts.RequestedPorts {
		if err := connector.OpenPlug(ctx, p.ProtocolURL, p.Handler); err != nil {
			connector.Close()
			return nil, err
		}
	}

	c.Log.Info("machine running",
		zap.String("machine_url", createReply.MachineUrl),
		zap.Int("plugs", len(opts.RequestedPorts)),
	)

	return &RunResult{MachineURL: createReply.MachineUrl, Connector: connector}, nil
}
