package binder

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/chordhq/chord/shared/remoting"
	"github.com/chordhq/chord/shared/wirecodec"
)

// GrpcBinder is the machine's TLS-presenting gRPC server for
// RemotingService, mirroring the agent's agentservice.Server shape:
// mutual TLS against the same root CA bundle the machine was signed
// against, and a bounded GracefulStop on context cancellation.
type GrpcBinder struct {
	log        *zap.Logger
	grpcServer *grpc.Server
}

// NewGrpcBinder builds a GrpcBinder presenting tlsConfig and serving
// svc.
func NewGrpcBinder(log *zap.Logger, tlsConfig *tls.Config, svc remoting.RemotingServiceServer) *GrpcBinder {
	creds := credentials.NewTLS(tlsConfig)
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ForceServerCodec(wirecodec.Codec{}),
	)
	remoting.RegisterRemotingServiceServer(grpcServer, svc)
	return &GrpcBinder{log: log.Named("grpc-binder"), grpcServer: grpcServer}
}

// Listen binds addr (host:port) on tcp4.
func (b *GrpcBinder) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp4", addr)
}

// Serve serves on lis until ctx is canceled, then drains with a
// bounded graceful stop, matching agentservice.Server.Serve.
func (b *GrpcBinder) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			b.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			b.grpcServer.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}
