// Code generated from agent.proto. Hand-authored in this environment
// because protoc is unavailable; see shared/wirecodec for how these
// types are marshaled over the wire. DO NOT hand-edit field numbers
// without updating agent.proto to match.
package proto

// PortType mirrors the chord.agent.v1.PortType enum.
type PortType int32

const (
	PortTypeUnspecified PortType = 0
	PortTypeOneShot     PortType = 1
	PortTypeStreaming   PortType = 2
)

func (t PortType) String() string {
	switch t {
	case PortTypeOneShot:
		return "OneShot"
	case PortTypeStreaming:
		return "Streaming"
	default:
		return "Unspecified"
	}
}

// PortDirection mirrors the chord.agent.v1.PortDirection enum.
type PortDirection int32

const (
	PortDirectionUnspecified   PortDirection = 0
	PortDirectionClient        PortDirection = 1
	PortDirectionServer        PortDirection = 2
	PortDirectionBiDirectional PortDirection = 3
)

func (d PortDirection) String() string {
	switch d {
	case PortDirectionClient:
		return "Client"
	case PortDirectionServer:
		return "Server"
	case PortDirectionBiDirectional:
		return "BiDirectional"
	default:
		return "Unspecified"
	}
}

type RequestedPort struct {
	ProtocolUrl   string        `json:"protocol_url"`
	PortType      PortType      `json:"port_type"`
	PortDirection PortDirection `json:"port_direction"`
}

type DeclaredPort struct {
	ProtocolUrl    string        `json:"protocol_url"`
	EndpointIndex  int32         `json:"endpoint_index"`
	PortType       PortType      `json:"port_type"`
	PortDirection  PortDirection `json:"port_direction"`
}

type DeclaredEndpoint struct {
	EndpointUrl string `json:"endpoint_url"`
	Csr         string `json:"csr"`
}

type SignedEndpoint struct {
	EndpointUrl string `json:"endpoint_url"`
	Certificate string `json:"certificate"`
}

type BoundEndpoint struct {
	EndpointUrl string `json:"endpoint_url"`
}

type IdentifyAgentRequest struct{}

type IdentifyAgentReply struct {
	AgentName    string `json:"agent_name"`
	UptimeMillis uint64 `json:"uptime_millis"`
}

type CreateMachineRequest struct {
	Name           string          `json:"name"`
	ExecutionUrl   string          `json:"execution_url"`
	ConfigHash     string          `json:"config_hash"`
	RequestedPorts []RequestedPort `json:"requested_ports"`
	StartSuspended bool            `json:"start_suspended"`
}

type CreateMachineReply struct {
	MachineUrl           string             `json:"machine_url"`
	DeclaredPorts        []DeclaredPort     `json:"declared_ports"`
	DeclaredEndpoints    []DeclaredEndpoint `json:"declared_endpoints"`
	ControlEndpointIndex int32              `json:"control_endpoint_index"`
}

type SignCertificatesRequest struct {
	MachineUrl        string             `json:"machine_url"`
	DeclaredPorts     []DeclaredPort     `json:"declared_ports"`
	DeclaredEndpoints []DeclaredEndpoint `json:"declared_endpoints"`
}

type SignCertificatesReply struct {
	SignedEndpoints []SignedEndpoint `json:"signed_endpoints"`
}

type RunMachineRequest struct {
	MachineUrl      string           `json:"machine_url"`
	SignedEndpoints []SignedEndpoint `json:"signed_endpoints"`
}

type RunMachineReply struct {
	BoundEndpoints []BoundEndpoint `json:"bound_endpoints"`
}

type AdvertiseEndpointsRequest struct {
	MachineUrl     string          `json:"machine_url"`
	BoundEndpoints []BoundEndpoint `json:"bound_endpoints"`
}

type AdvertiseEndpointsReply struct{}

type DeleteMachineRequest struct {
	MachineUrl string `json:"machine_url"`
}

type DeleteMachineReply struct {
	ExitStatus int32 `json:"exit_status"`
}
