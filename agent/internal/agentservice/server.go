package agentservice

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/chordhq/chord/shared/proto"
	"github.com/chordhq/chord/shared/transport"
	"github.com/chordhq/chord/shared/wirecodec"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Server wraps a grpc.Server presenting TLS and serving one
// proto.AgentServiceServer, grounded on the teacher's
// server/internal/grpc/server.go ListenAndServe + GracefulStop shape
// (split here into Listen + Serve so the caller can resolve the bound
// address before the service that needs it is constructed).
type Server struct {
	log        *zap.Logger
	grpcServer *grpc.Server
}

// Listen binds loc and returns the location actually bound — for Unix
// this is loc unchanged; for Tcp4 with an unset port, the ephemeral
// port the kernel assigned is filled in, which is what callers must
// publish to the session directory's endpoint file. It is a free
// function, not a Server method, so the caller can resolve the bound
// port before constructing the Supervisor (whose SupervisorEndpoint
// config needs it) and only then build the Server around the service
// that depends on the Supervisor.
func Listen(loc transport.Location) (transport.Location, net.Listener, error) {
	lis, err := net.Listen(networkOf(loc), addressOf(loc))
	if err != nil {
		return transport.Location{}, nil, err
	}
	if loc.Kind() == transport.Tcp4 && !loc.HasPort() {
		if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
			resolved, err := transport.ForTcp4(loc.ServerName(), loc.Address(), tcpAddr.Port)
			if err != nil {
				lis.Close()
				return transport.Location{}, nil, err
			}
			return resolved, lis, nil
		}
	}
	return loc, lis, nil
}

// Serve serves on lis until ctx is canceled, then drains with a
// bounded graceful stop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			s.grpcServer.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// NewServer builds a Server presenting tlsConfig (the agent's
// certificate, requiring and verifying client certs against the
// shared root CA) and serving svc.
func NewServer(log *zap.Logger, tlsConfig *tls.Config, svc proto.AgentServiceServer) *Server {
	creds := credentials.NewTLS(tlsConfig)
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ForceServerCodec(wirecodec.Codec{}),
		grpc.ChainUnaryInterceptor(loggingUnaryInterceptor(log)),
	)
	proto.RegisterAgentServiceServer(grpcServer, svc)
	return &Server{log: log.Named("agentservice-server"), grpcServer: grpcServer}
}

func networkOf(loc transport.Location) string {
	if loc.Kind() == transport.Unix {
		return "unix"
	}
	return "tcp"
}

func addressOf(loc transport.Location) string {
	if loc.Kind() == transport.Unix {
		return loc.Path()
	}
	return loc.ToTarget()
}

func loggingUnaryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
		} else {
			log.Debug("rpc ok", zap.String("method", info.FullMethod))
		}
		return resp, err
	}
}
