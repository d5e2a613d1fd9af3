// Code generated from remoting.proto. Hand-authored in this
// environment because protoc is unavailable; see shared/wirecodec for
// the wire encoding these types use in place of protoreflect-based
// marshaling.
package remoting

// ProtocolUrlMetadataKey is the gRPC metadata key a Communicate caller
// sets exactly once on stream setup to select the handler it attaches
// to.
const ProtocolUrlMetadataKey = "x-zuri-protocol-url"

type MessageVersion int32

const (
	VersionUnspecified MessageVersion = 0
	Version1           MessageVersion = 1
	// VersionStream is reserved for in-band negotiation.
	VersionStream MessageVersion = 2
)

type Message struct {
	Version MessageVersion `json:"version"`
	Data    []byte         `json:"data"`
}

type SuspendRequest struct{}
type SuspendReply struct{}
type ResumeRequest struct{}
type ResumeReply struct{}
type TerminateRequest struct{}
type TerminateReply struct{}

type MonitorRequest struct{}

// MachineState mirrors chord.machine.v1.MachineState.
type MachineState int32

const (
	UnknownState MachineState = 0
	Running      MachineState = 1
	Suspended    MachineState = 2
	Cancelled    MachineState = 3
	Completed    MachineState = 4
	Failure      MachineState = 5
)

func (s MachineState) String() string {
	switch s {
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Cancelled:
		return "Cancelled"
	case Completed:
		return "Completed"
	case Failure:
		return "Failure"
	default:
		return "UnknownState"
	}
}

// Terminal reports whether s is one of the three terminal states a
// monitor stream ends on.
func (s MachineState) Terminal() bool {
	switch s {
	case Cancelled, Completed, Failure:
		return true
	default:
		return false
	}
}

type StateChanged struct {
	CurrState MachineState `json:"curr_state"`
}

type MachineExit struct {
	ExitStatus int32 `json:"exit_status"`
}

// MonitorEvent is a sum type: exactly one of StateChanged or
// MachineExit is set, mirroring the proto3 oneof.
type MonitorEvent struct {
	StateChanged *StateChanged `json:"state_changed,omitempty"`
	MachineExit  *MachineExit  `json:"machine_exit,omitempty"`
}
