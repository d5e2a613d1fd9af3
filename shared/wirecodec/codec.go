// Package wirecodec provides the gRPC wire codec shared by the
// AgentService and RemotingService stubs in shared/proto and
// shared/remoting.
//
// protoc is not available in this build environment, so the message
// types in those packages are hand-authored Go structs rather than
// protoc-gen-go output with full protoreflect support. This codec
// marshals them with encoding/json instead of the standard "proto"
// codec, which requires the v2 proto.Message/ProtoReflect interface
// these structs intentionally do not implement. The JSON keys of every
// message mirror the protobuf field names the adjacent .proto files
// declare, so messages carry the same fields as the schema; the bytes
// on the wire are JSON, not the protobuf binary encoding.
package wirecodec

import "encoding/json"

// Name is registered as the gRPC call content-subtype so both ends of
// a connection agree to use this codec instead of the default one.
const Name = "chordjson"

// Codec implements google.golang.org/grpc/encoding.Codec.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string { return Name }
