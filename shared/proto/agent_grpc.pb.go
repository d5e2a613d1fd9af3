// Code generated from agent.proto (service section). Hand-authored
// in this environment because protoc-gen-go-grpc is unavailable; the
// method set and service name match agent.proto exactly.
package proto

import (
	"context"

	"github.com/chordhq/chord/shared/rpcutil"
	"github.com/chordhq/chord/shared/wirecodec"
	"google.golang.org/grpc"
)

const AgentServiceName = "chord.agent.v1.AgentService"

// AgentServiceClient is the client API for AgentService.
type AgentServiceClient interface {
	IdentifyAgent(ctx context.Context, in *IdentifyAgentRequest, opts ...grpc.CallOption) (*IdentifyAgentReply, error)
	CreateMachine(ctx context.Context, in *CreateMachineRequest, opts ...grpc.CallOption) (*CreateMachineReply, error)
	SignCertificates(ctx context.Context, in *SignCertificatesRequest, opts ...grpc.CallOption) (*SignCertificatesReply, error)
	RunMachine(ctx context.Context, in *RunMachineRequest, opts ...grpc.CallOption) (*RunMachineReply, error)
	AdvertiseEndpoints(ctx context.Context, in *AdvertiseEndpointsRequest, opts ...grpc.CallOption) (*AdvertiseEndpointsReply, error)
	DeleteMachine(ctx context.Context, in *DeleteMachineRequest, opts ...grpc.CallOption) (*DeleteMachineReply, error)
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentServiceClient wraps cc, forcing every call onto the shared
// wirecodec regardless of what the caller dialed with.
func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(wirecodec.Codec{})}, opts...)
}

func (c *agentServiceClient) IdentifyAgent(ctx context.Context, in *IdentifyAgentRequest, opts ...grpc.CallOption) (*IdentifyAgentReply, error) {
	out := new(IdentifyAgentReply)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/IdentifyAgent", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) CreateMachine(ctx context.Context, in *CreateMachineRequest, opts ...grpc.CallOption) (*CreateMachineReply, error) {
	out := new(CreateMachineReply)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/CreateMachine", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) SignCertificates(ctx context.Context, in *SignCertificatesRequest, opts ...grpc.CallOption) (*SignCertificatesReply, error) {
	out := new(SignCertificatesReply)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/SignCertificates", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) RunMachine(ctx context.Context, in *RunMachineRequest, opts ...grpc.CallOption) (*RunMachineReply, error) {
	out := new(RunMachineReply)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/RunMachine", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) AdvertiseEndpoints(ctx context.Context, in *AdvertiseEndpointsRequest, opts ...grpc.CallOption) (*AdvertiseEndpointsReply, error) {
	out := new(AdvertiseEndpointsReply)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/AdvertiseEndpoints", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) DeleteMachine(ctx context.Context, in *DeleteMachineRequest, opts ...grpc.CallOption) (*DeleteMachineReply, error) {
	out := new(DeleteMachineReply)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/DeleteMachine", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentServiceServer is the server API for AgentService.
type AgentServiceServer interface {
	IdentifyAgent(context.Context, *IdentifyAgentRequest) (*IdentifyAgentReply, error)
	CreateMachine(context.Context, *CreateMachineRequest) (*CreateMachineReply, error)
	SignCertificates(context.Context, *SignCertificatesRequest) (*SignCertificatesReply, error)
	RunMachine(context.Context, *RunMachineRequest) (*RunMachineReply, error)
	AdvertiseEndpoints(context.Context, *AdvertiseEndpointsRequest) (*AdvertiseEndpointsReply, error)
	DeleteMachine(context.Context, *DeleteMachineRequest) (*DeleteMachineReply, error)
}

// UnimplementedAgentServiceServer must be embedded by every
// implementation to stay forward compatible with new methods.
type UnimplementedAgentServiceServer struct{}

func (UnimplementedAgentServiceServer) IdentifyAgent(context.Context, *IdentifyAgentRequest) (*IdentifyAgentReply, error) {
	return nil, rpcutil.Unimplemented("IdentifyAgent")
}
func (UnimplementedAgentServiceServer) CreateMachine(context.Context, *CreateMachineRequest) (*CreateMachineReply, error) {
	return nil, rpcutil.Unimplemented("CreateMachine")
}
func (UnimplementedAgentServiceServer) SignCertificates(context.Context, *SignCertificatesRequest) (*SignCertificatesReply, error) {
	return nil, rpcutil.Unimplemented("SignCertificates")
}
func (UnimplementedAgentServiceServer) RunMachine(context.Context, *RunMachineRequest) (*RunMachineReply, error) {
	return nil, rpcutil.Unimplemented("RunMachine")
}
func (UnimplementedAgentServiceServer) AdvertiseEndpoints(context.Context, *AdvertiseEndpointsRequest) (*AdvertiseEndpointsReply, error) {
	return nil, rpcutil.Unimplemented("AdvertiseEndpoints")
}
func (UnimplementedAgentServiceServer) DeleteMachine(context.Context, *DeleteMachineRequest) (*DeleteMachineReply, error) {
	return nil, rpcutil.Unimplemented("DeleteMachine")
}

func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&agentServiceDesc, srv)
}

func _AgentService_IdentifyAgent_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(IdentifyAgentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).IdentifyAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/IdentifyAgent"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).IdentifyAgent(ctx, req.(*IdentifyAgentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentService_CreateMachine_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateMachineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).CreateMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/CreateMachine"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).CreateMachine(ctx, req.(*CreateMachineRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentService_SignCertificates_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SignCertificatesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).SignCertificates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/SignCertificates"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).SignCertificates(ctx, req.(*SignCertificatesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentService_RunMachine_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunMachineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).RunMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/RunMachine"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).RunMachine(ctx, req.(*RunMachineRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentService_AdvertiseEndpoints_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AdvertiseEndpointsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).AdvertiseEndpoints(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/AdvertiseEndpoints"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).AdvertiseEndpoints(ctx, req.(*AdvertiseEndpointsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentService_DeleteMachine_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteMachineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).DeleteMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/DeleteMachine"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).DeleteMachine(ctx, req.(*DeleteMachineRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var agentServiceDesc = grpc.ServiceDesc{
	ServiceName: AgentServiceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IdentifyAgent", Handler: _AgentService_IdentifyAgent_Handler},
		{MethodName: "CreateMachine", Handler: _AgentService_CreateMachine_Handler},
		{MethodName: "SignCertificates", Handler: _AgentService_SignCertificates_Handler},
		{MethodName: "RunMachine", Handler: _AgentService_RunMachine_Handler},
		{MethodName: "AdvertiseEndpoints", Handler: _AgentService_AdvertiseEndpoints_Handler},
		{MethodName: "DeleteMachine", Handler: _AgentService_DeleteMachine_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agent.proto",
}
