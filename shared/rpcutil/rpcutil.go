// Package rpcutil holds small helpers shared by the hand-authored
// generated-style service code in shared/proto and shared/remoting.
package rpcutil

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Unimplemented builds the status every Unimplemented*Server embed
// returns for a method its embedder hasn't overridden.
func Unimplemented(method string) error {
	return status.Error(codes.Unimplemented, fmt.Sprintf("method %s not implemented", method))
}
