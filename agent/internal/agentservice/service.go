// Package agentservice adapts MachineSupervisor onto
// shared/proto.AgentServiceServer: each RPC validates its request,
// builds the waiter appropriate to the handshake step it represents,
// and calls exactly one supervisor method.
package agentservice

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chordhq/chord/agent/internal/hostmetrics"
	"github.com/chordhq/chord/agent/internal/process"
	"github.com/chordhq/chord/agent/internal/supervisor"
	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/proto"
	"go.uber.org/zap"
)

// Config configures a Service.
type Config struct {
	Logger              *zap.Logger
	AgentName           string
	MachineExecutable   string
	MachineExtraArgs    []string
	CABundlePath        string // forwarded to every spawned machine via --ca-bundle
	HostMetrics         *hostmetrics.Sampler // optional; nil disables sampling
}

// Service implements proto.AgentServiceServer over a Supervisor.
type Service struct {
	proto.UnimplementedAgentServiceServer

	log               *zap.Logger
	supervisor        *supervisor.Supervisor
	agentName         string
	machineExecutable string
	machineExtraArgs  []string
	caBundlePath      string
	hostMetrics       *hostmetrics.Sampler
	startedAt         time.Time
}

// New builds a Service backed by sup.
func New(cfg Config, sup *supervisor.Supervisor) *Service {
	return &Service{
		log:               cfg.Logger.Named("agentservice"),
		supervisor:        sup,
		agentName:         cfg.AgentName,
		machineExecutable: cfg.MachineExecutable,
		machineExtraArgs:  cfg.MachineExtraArgs,
		caBundlePath:      cfg.CABundlePath,
		hostMetrics:       cfg.HostMetrics,
		startedAt:         time.Now(),
	}
}

func (s *Service) machineURL(name string) string {
	return fmt.Sprintf("chord://%s/%s", s.agentName, name)
}

// requestedPortArgs renders each requested port as one repeatable
// "--requested-port protocolUrl|portType|portDirection" argument so the
// spawned machine's registration driver can rebuild the exact
// declaredPort/CSR set the client asked for (see machine/internal/registration).
func requestedPortArgs(ports []proto.RequestedPort) []string {
	args := make([]string, 0, 2*len(ports))
	for _, p := range ports {
		args = append(args, "--requested-port", fmt.Sprintf("%s|%d|%d", p.ProtocolUrl, p.PortType, p.PortDirection))
	}
	return args
}

// IdentifyAgent is stateless liveness: agent-name and uptime. Host
// metrics, when configured, are sampled and logged here as a
// diagnostic side effect — the wire reply stays exactly the two fields
// spec section 6 defines.
func (s *Service) IdentifyAgent(ctx context.Context, _ *proto.IdentifyAgentRequest) (*proto.IdentifyAgentReply, error) {
	if s.hostMetrics != nil {
		if sample, err := s.hostMetrics.Sample(ctx); err == nil {
			s.log.Debug("identifyAgent host sample",
				zap.Float64("cpu_percent", sample.CPUPercent),
				zap.Float64("mem_used_percent", sample.MemUsedPercent),
				zap.Float64("disk_used_percent", sample.DiskUsedPercent),
			)
		}
	}
	return &proto.IdentifyAgentReply{
		AgentName:    s.agentName,
		UptimeMillis: uint64(time.Since(s.startedAt).Milliseconds()),
	}, nil
}

// CreateMachine spawns a machine process and blocks until the child
// calls SignCertificates, at which point the reply is sourced from the
// child's request, forwarded.
func (s *Service) CreateMachine(ctx context.Context, req *proto.CreateMachineRequest) (*proto.CreateMachineReply, error) {
	if err := validateCreateMachineRequest(req); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	machineURL := s.machineURL(req.Name)
	waiter := newSpawnWaiter()

	extraArgs := append([]string{
		"--machine-url", machineURL,
		"--config-hash", req.ConfigHash,
		"--start-suspended", strconv.FormatBool(req.StartSuspended),
		"--ca-bundle", s.caBundlePath,
	}, requestedPortArgs(req.RequestedPorts)...)
	extraArgs = append(extraArgs, s.machineExtraArgs...)

	options := process.Options{
		ExecutablePath: s.machineExecutable,
		ExtraArgs:      extraArgs,
	}

	// The child outlives this RPC, so its process must not be bound to
	// the RPC's context, which is canceled once the reply is sent.
	if err := s.supervisor.SpawnMachine(context.WithoutCancel(ctx), machineURL, req.ExecutionUrl, options, waiter); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	select {
	case res := <-waiter.done:
		if res.err != nil {
			return nil, chorderr.ToStatus(res.err)
		}
		signReq := res.signRequest
		return &proto.CreateMachineReply{
			MachineUrl:           machineURL,
			DeclaredPorts:        signReq.DeclaredPorts,
			DeclaredEndpoints:    signReq.DeclaredEndpoints,
			ControlEndpointIndex: 0,
		}, nil
	case <-ctx.Done():
		return nil, chorderr.ToStatus(chorderr.Wrap(chorderr.AgentError, "createMachine: caller canceled", ctx.Err()))
	}
}

// SignCertificates is called by the child. It advances spawning to
// signing and blocks until the client calls RunMachine.
func (s *Service) SignCertificates(ctx context.Context, req *proto.SignCertificatesRequest) (*proto.SignCertificatesReply, error) {
	if err := validateSignCertificatesRequest(req); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	waiter := newSignWaiter()
	if err := s.supervisor.RequestCertificates(req.MachineUrl, req, waiter); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	select {
	case res := <-waiter.done:
		if res.err != nil {
			return nil, chorderr.ToStatus(res.err)
		}
		return &proto.SignCertificatesReply{SignedEndpoints: res.runRequest.SignedEndpoints}, nil
	case <-ctx.Done():
		return nil, chorderr.ToStatus(chorderr.Wrap(chorderr.AgentError, "signCertificates: caller canceled", ctx.Err()))
	}
}

// RunMachine is called by the client. It advances signing to ready and
// blocks until the child calls AdvertiseEndpoints.
func (s *Service) RunMachine(ctx context.Context, req *proto.RunMachineRequest) (*proto.RunMachineReply, error) {
	if err := validateRunMachineRequest(req); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	waiter := newReadyWaiter()
	if err := s.supervisor.BindCertificates(req.MachineUrl, req, waiter); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	select {
	case res := <-waiter.done:
		if res.err != nil {
			return nil, chorderr.ToStatus(res.err)
		}
		return &proto.RunMachineReply{BoundEndpoints: res.advertiseRequest.BoundEndpoints}, nil
	case <-ctx.Done():
		return nil, chorderr.ToStatus(chorderr.Wrap(chorderr.AgentError, "runMachine: caller canceled", ctx.Err()))
	}
}

// AdvertiseEndpoints is called by the child. It is the terminal step
// of the handshake: it completes the RunMachine waiter synchronously
// (no new phase context is created) and returns immediately.
func (s *Service) AdvertiseEndpoints(_ context.Context, req *proto.AdvertiseEndpointsRequest) (*proto.AdvertiseEndpointsReply, error) {
	if err := validateAdvertiseEndpointsRequest(req); err != nil {
		return nil, chorderr.ToStatus(err)
	}
	if err := s.supervisor.StartMachine(req.MachineUrl, req); err != nil {
		return nil, chorderr.ToStatus(err)
	}
	return &proto.AdvertiseEndpointsReply{}, nil
}

// DeleteMachine sends SIGTERM and blocks until the child is reaped.
func (s *Service) DeleteMachine(ctx context.Context, req *proto.DeleteMachineRequest) (*proto.DeleteMachineReply, error) {
	if err := validateDeleteMachineRequest(req); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	waiter := newTerminateWaiter()
	if err := s.supervisor.TerminateMachine(req.MachineUrl, waiter); err != nil {
		return nil, chorderr.ToStatus(err)
	}

	select {
	case res := <-waiter.done:
		if res.err != nil {
			return nil, chorderr.ToStatus(res.err)
		}
		return &proto.DeleteMachineReply{ExitStatus: int32(res.status.ExitCode)}, nil
	case <-ctx.Done():
		return nil, chorderr.ToStatus(chorderr.Wrap(chorderr.AgentError, "deleteMachine: caller canceled", ctx.Err()))
	}
}
