// Package client implements ChordIsolate, the spec section 4.7 driver
// that establishes a session, negotiates one machine's handshake with
// an agent, and runs it to completion through RemotingService. It is
// the counterpart of machine/internal/registration on the isolate's
// side of the same handshake.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/remoting"
	"github.com/chordhq/chord/shared/transport"
	"github.com/chordhq/chord/shared/wirecodec"
)

// PlugHandler receives frames a machine sends back on one protocol.
type PlugHandler func(data []byte)

// GrpcConnector owns the single TLS connection to a machine's binder
// and every RPC surface built on top of it: per-protocol Communicate
// write queues and the control channel (Suspend/Resume/Terminate,
// Monitor). Grounded the same way machine/internal/binder is on the
// teacher's websocket hub: one write-queue goroutine per stream, fed
// by a buffered channel, so callers never block on network I/O.
type GrpcConnector struct {
	log  *zap.Logger
	conn *grpc.ClientConn
	rc   remoting.RemotingServiceClient

	mu      sync.Mutex
	streams map[string]*plugStream
}

type plugStream struct {
	send   chan []byte
	cancel context.CancelFunc
}

// DialMachine opens the TLS connection to a machine's bound control
// endpoint. serverName is the CN the machine's certificate was signed
// for (the same value passed as BinderServerName to
// machine/internal/registration.Run).
func DialMachine(endpoint transport.Location, serverName string, clientCert tls.Certificate, rootCAs *x509.CertPool, log *zap.Logger) (*GrpcConnector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      rootCAs,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
	})
	conn, err := grpc.NewClient(endpoint.ToTarget(),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wirecodec.Codec{})),
	)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.MachineError, "dial machine binder", err)
	}
	return &GrpcConnector{
		log:     log.Named("connector"),
		conn:    conn,
		rc:      remoting.NewRemotingServiceClient(conn),
		streams: make(map[string]*plugStream),
	}, nil
}

// Close tears down the underlying connection and every open plug
// stream.
func (c *GrpcConnector) Close() error {
	c.mu.Lock()
	for _, s := range c.streams {
		s.cancel()
	}
	c.streams = nil
	c.mu.Unlock()
	return c.conn.Close()
}

// OpenPlug opens a Communicate stream for protocolURL and starts one
// goroutine that drains frames from the stream into handler and one
// that drains a send queue into the stream, mirroring
// machine/internal/binder.Service's per-stream write queue on the
// opposite side of the same wire protocol.
func (c *GrpcConnector) OpenPlug(ctx context.Context, protocolURL string, handler PlugHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	ctx = metadata.AppendToOutgoingContext(ctx, remoting.ProtocolUrlMetadataKey, protocolURL)

	stream, err := c.rc.Communicate(ctx)
	if err != nil {
		cancel()
		return chorderr.Wrap(chorderr.MachineError, "open communicate stream", err)
	}

	ps := &plugStream{send: make(chan []byte, 64), cancel: cancel}
	c.mu.Lock()
	c.streams[protocolURL] = ps
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ps.send:
				if !ok {
					return
				}
				if err := stream.Send(&remoting.Message{Version: remoting.Version1, Data: data}); err != nil {
					c.log.Warn("plug stream send failed", zap.String("protocol_url", protocolURL), zap.Error(err))
					return
				}
			}
		}
	}()

	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				return
			}
			handler(msg.Data)
		}
	}()

	return nil
}

// Send queues a frame on protocolURL's plug stream. It is a no-op if
// the stream does not exist and reports nothing, unlike
// machine/internal/binder.Service.Send, which returns an error for an
// unknown protocol.
func (c *GrpcConnector) Send(protocolURL string, data []byte) {
	c.mu.Lock()
	ps := c.streams[protocolURL]
	c.mu.Unlock()
	if ps == nil {
		return
	}
	select {
	case ps.send <- data:
	default:
		c.log.Warn("plug send queue full, dropping frame", zap.String("protocol_url", protocolURL))
	}
}

func (c *GrpcConnector) Suspend(ctx context.Context) error {
	_, err := c.rc.Suspend(ctx, &remoting.SuspendRequest{})
	return chorderr.Wrap(chorderr.MachineError, "suspend", err)
}

func (c *GrpcConnector) Resume(ctx context.Context) error {
	_, err := c.rc.Resume(ctx, &remoting.ResumeRequest{})
	return chorderr.Wrap(chorderr.MachineError, "resume", err)
}

func (c *GrpcConnector) Terminate(ctx context.Context) error {
	_, err := c.rc.Terminate(ctx, &remoting.TerminateRequest{})
	return chorderr.Wrap(chorderr.MachineError, "terminate", err)
}

// RunUntilFinished opens Monitor and blocks until a terminal
// MonitorEvent arrives (MachineExit, per spec section 5), invoking
// onState for every state_changed event observed along the way. It
// returns the machine's exit status.
func (c *GrpcConnector) RunUntilFinished(ctx context.Context, onState func(remoting.MachineState)) (int32, error) {
	stream, err := c.rc.Monitor(ctx, &remoting.MonitorRequest{})
	if err != nil {
		return 0, chorderr.Wrap(chorderr.MachineError, "open monitor stream", err)
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			return 0, chorderr.Wrap(chorderr.MachineError, "monitor stream", err)
		}
		if ev.StateChanged != nil && onState != nil {
			onState(ev.StateChanged.CurrState)
		}
		if ev.MachineExit != nil {
			return ev.MachineExit.ExitStatus, nil
		}
	}
}
