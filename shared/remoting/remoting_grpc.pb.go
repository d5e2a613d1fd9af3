// Code generated from remoting.proto (service section). Hand-authored
// in this environment because protoc-gen-go-grpc is unavailable.
package remoting

import (
	"context"

	"github.com/chordhq/chord/shared/rpcutil"
	"github.com/chordhq/chord/shared/wirecodec"
	"google.golang.org/grpc"
)

const RemotingServiceName = "chord.machine.v1.RemotingService"

// RemotingServiceClient is the client API for RemotingService.
type RemotingServiceClient interface {
	Communicate(ctx context.Context, opts ...grpc.CallOption) (RemotingService_CommunicateClient, error)
	Suspend(ctx context.Context, in *SuspendRequest, opts ...grpc.CallOption) (*SuspendReply, error)
	Resume(ctx context.Context, in *ResumeRequest, opts ...grpc.CallOption) (*ResumeReply, error)
	Terminate(ctx context.Context, in *TerminateRequest, opts ...grpc.CallOption) (*TerminateReply, error)
	Monitor(ctx context.Context, in *MonitorRequest, opts ...grpc.CallOption) (RemotingService_MonitorClient, error)
}

type remotingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRemotingServiceClient(cc grpc.ClientConnInterface) RemotingServiceClient {
	return &remotingServiceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(wirecodec.Codec{})}, opts...)
}

func (c *remotingServiceClient) Communicate(ctx context.Context, opts ...grpc.CallOption) (RemotingService_CommunicateClient, error) {
	stream, err := c.cc.NewStream(ctx, &remotingServiceDesc.Streams[0], "/"+RemotingServiceName+"/Communicate", withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &remotingServiceCommunicateClient{stream}, nil
}

type RemotingService_CommunicateClient interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ClientStream
}

type remotingServiceCommunicateClient struct {
	grpc.ClientStream
}

func (x *remotingServiceCommunicateClient) Send(m *Message) error {
	return x.ClientStream.SendMsg(m)
}

func (x *remotingServiceCommunicateClient) Recv() (*Message, error) {
	m := new(Message)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *remotingServiceClient) Suspend(ctx context.Context, in *SuspendRequest, opts ...grpc.CallOption) (*SuspendReply, error) {
	out := new(SuspendReply)
	if err := c.cc.Invoke(ctx, "/"+RemotingServiceName+"/Suspend", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remotingServiceClient) Resume(ctx context.Context, in *ResumeRequest, opts ...grpc.CallOption) (*ResumeReply, error) {
	out := new(ResumeReply)
	if err := c.cc.Invoke(ctx, "/"+RemotingServiceName+"/Resume", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remotingServiceClient) Terminate(ctx context.Context, in *TerminateRequest, opts ...grpc.CallOption) (*TerminateReply, error) {
	out := new(TerminateReply)
	if err := c.cc.Invoke(ctx, "/"+RemotingServiceName+"/Terminate", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remotingServiceClient) Monitor(ctx context.Context, in *MonitorRequest, opts ...grpc.CallOption) (RemotingService_MonitorClient, error) {
	stream, err := c.cc.NewStream(ctx, &remotingServiceDesc.Streams[1], "/"+RemotingServiceName+"/Monitor", withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &remotingServiceMonitorClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type RemotingService_MonitorClient interface {
	Recv() (*MonitorEvent, error)
	grpc.ClientStream
}

type remotingServiceMonitorClient struct {
	grpc.ClientStream
}

func (x *remotingServiceMonitorClient) Recv() (*MonitorEvent, error) {
	m := new(MonitorEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RemotingServiceServer is the server API for RemotingService.
type RemotingServiceServer interface {
	Communicate(RemotingService_CommunicateServer) error
	Suspend(context.Context, *SuspendRequest) (*SuspendReply, error)
	Resume(context.Context, *ResumeRequest) (*ResumeReply, error)
	Terminate(context.Context, *TerminateRequest) (*TerminateReply, error)
	Monitor(*MonitorRequest, RemotingService_MonitorServer) error
}

type UnimplementedRemotingServiceServer struct{}

func (UnimplementedRemotingServiceServer) Communicate(RemotingService_CommunicateServer) error {
	return rpcutil.Unimplemented("Communicate")
}
func (UnimplementedRemotingServiceServer) Suspend(context.Context, *SuspendRequest) (*SuspendReply, error) {
	return nil, rpcutil.Unimplemented("Suspend")
}
func (UnimplementedRemotingServiceServer) Resume(context.Context, *ResumeRequest) (*ResumeReply, error) {
	return nil, rpcutil.Unimplemented("Resume")
}
func (UnimplementedRemotingServiceServer) Terminate(context.Context, *TerminateRequest) (*TerminateReply, error) {
	return nil, rpcutil.Unimplemented("Terminate")
}
func (UnimplementedRemotingServiceServer) Monitor(*MonitorRequest, RemotingService_MonitorServer) error {
	return rpcutil.Unimplemented("Monitor")
}

func RegisterRemotingServiceServer(s grpc.ServiceRegistrar, srv RemotingServiceServer) {
	s.RegisterService(&remotingServiceDesc, srv)
}

type RemotingService_CommunicateServer interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type remotingServiceCommunicateServer struct {
	grpc.ServerStream
}

func (x *remotingServiceCommunicateServer) Send(m *Message) error {
	return x.ServerStream.SendMsg(m)
}

func (x *remotingServiceCommunicateServer) Recv() (*Message, error) {
	m := new(Message)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _RemotingService_Communicate_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RemotingServiceServer).Communicate(&remotingServiceCommunicateServer{stream})
}

type RemotingService_MonitorServer interface {
	Send(*MonitorEvent) error
	grpc.ServerStream
}

type remotingServiceMonitorServer struct {
	grpc.ServerStream
}

func (x *remotingServiceMonitorServer) Send(m *MonitorEvent) error {
	return x.ServerStream.SendMsg(m)
}

func _RemotingService_Monitor_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(MonitorRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RemotingServiceServer).Monitor(m, &remotingServiceMonitorServer{stream})
}

func _RemotingService_Suspend_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SuspendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemotingServiceServer).Suspend(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + RemotingServiceName + "/Suspend"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RemotingServiceServer).Suspend(ctx, req.(*SuspendRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemotingService_Resume_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ResumeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemotingServiceServer).Resume(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + RemotingServiceName + "/Resume"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RemotingServiceServer).Resume(ctx, req.(*ResumeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemotingService_Terminate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TerminateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemotingServiceServer).Terminate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + RemotingServiceName + "/Terminate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RemotingServiceServer).Terminate(ctx, req.(*TerminateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var remotingServiceDesc = grpc.ServiceDesc{
	ServiceName: RemotingServiceName,
	HandlerType: (*RemotingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Suspend", Handler: _RemotingService_Suspend_Handler},
		{MethodName: "Resume", Handler: _RemotingService_Resume_Handler},
		{MethodName: "Terminate", Handler: _RemotingService_Terminate_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Communicate", Handler: _RemotingService_Communicate_Handler, ClientStreams: true, ServerStreams: true},
		{StreamName: "Monitor", Handler: _RemotingService_Monitor_Handler, ServerStreams: true},
	},
	Metadata: "remoting.proto",
}
