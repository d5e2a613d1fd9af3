package agentservice

import (
	"fmt"

	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/proto"
)

func validateCreateMachineRequest(req *proto.CreateMachineRequest) error {
	if req.Name == "" {
		return chorderr.New(chorderr.InvalidConfiguration, "createMachine: name must not be empty")
	}
	if req.ExecutionUrl == "" {
		return chorderr.New(chorderr.InvalidConfiguration, "createMachine: execution_url must not be empty")
	}
	seen := make(map[string]bool, len(req.RequestedPorts))
	for _, p := range req.RequestedPorts {
		if p.ProtocolUrl == "" {
			return chorderr.New(chorderr.InvalidConfiguration, "createMachine: requested port has empty protocol_url")
		}
		if seen[p.ProtocolUrl] {
			return chorderr.New(chorderr.InvalidConfiguration, fmt.Sprintf("createMachine: duplicate requested protocol_url %q", p.ProtocolUrl))
		}
		seen[p.ProtocolUrl] = true
	}
	return nil
}

func validateSignCertificatesRequest(req *proto.SignCertificatesRequest) error {
	if req.MachineUrl == "" {
		return chorderr.New(chorderr.InvalidConfiguration, "signCertificates: machine_url must not be empty")
	}
	if len(req.DeclaredEndpoints) == 0 {
		return chorderr.New(chorderr.InvalidConfiguration, "signCertificates: at least one declared_endpoint is required")
	}
	seen := make(map[string]bool, len(req.DeclaredPorts))
	for _, p := range req.DeclaredPorts {
		if p.ProtocolUrl == "" {
			return chorderr.New(chorderr.InvalidConfiguration, "signCertificates: declared port has empty protocol_url")
		}
		if p.EndpointIndex < 0 || int(p.EndpointIndex) >= len(req.DeclaredEndpoints) {
			return chorderr.New(chorderr.InvalidConfiguration, fmt.Sprintf("signCertificates: endpoint_index %d out of range for protocol %q", p.EndpointIndex, p.ProtocolUrl))
		}
		key := fmt.Sprintf("%s@%d", p.ProtocolUrl, p.EndpointIndex)
		if seen[key] {
			return chorderr.New(chorderr.InvalidConfiguration, fmt.Sprintf("signCertificates: duplicate protocol/endpoint pair %q", key))
		}
		seen[key] = true
	}
	return nil
}

func validateRunMachineRequest(req *proto.RunMachineRequest) error {
	if req.MachineUrl == "" {
		return chorderr.New(chorderr.InvalidConfiguration, "runMachine: machine_url must not be empty")
	}
	if len(req.SignedEndpoints) == 0 {
		return chorderr.New(chorderr.InvalidConfiguration, "runMachine: at least one signed_endpoint is required")
	}
	return nil
}

func validateAdvertiseEndpointsRequest(req *proto.AdvertiseEndpointsRequest) error {
	if req.MachineUrl == "" {
		return chorderr.New(chorderr.InvalidConfiguration, "advertiseEndpoints: machine_url must not be empty")
	}
	if len(req.BoundEndpoints) == 0 {
		return chorderr.New(chorderr.InvalidConfiguration, "advertiseEndpoints: at least one bound_endpoint is required")
	}
	return nil
}

func validateDeleteMachineRequest(req *proto.DeleteMachineRequest) error {
	if req.MachineUrl == "" {
		return chorderr.New(chorderr.InvalidConfiguration, "deleteMachine: machine_url must not be empty")
	}
	return nil
}
