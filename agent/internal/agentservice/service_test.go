package agentservice_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chordhq/chord/agent/internal/agentservice"
	"github.com/chordhq/chord/agent/internal/supervisor"
	"github.com/chordhq/chord/shared/proto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHappyPathHandshake exercises spec.md's S1 scenario at the
// Service level: CreateMachine, SignCertificates, RunMachine, and
// AdvertiseEndpoints interleave across two "peers" (this test stands
// in for the child and the client) exactly as the real RPCs would,
// and all four complete OK in order.
func TestHappyPathHandshake(t *testing.T) {
	sup := supervisor.New(supervisor.Config{
		Logger:              zap.NewNop(),
		RunDirectory:        t.TempDir(),
		RegistrationTimeout: 5 * time.Second,
	})
	svc := agentservice.New(agentservice.Config{
		Logger:            zap.NewNop(),
		AgentName:         "test-agent",
		MachineExecutable: sleepScript(t, "5"),
	}, sup)

	ctx := context.Background()

	var wg sync.WaitGroup
	var createReply *proto.CreateMachineReply
	var createErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		createReply, createErr = svc.CreateMachine(ctx, &proto.CreateMachineRequest{
			Name:         "m1",
			ExecutionUrl: "pkg://echo",
		})
	}()

	// Give CreateMachine a moment to spawn and enter the spawning phase.
	time.Sleep(50 * time.Millisecond)

	machineURL := "chord://test-agent/m1"
	signReq := &proto.SignCertificatesRequest{
		MachineUrl: machineURL,
		DeclaredPorts: []proto.DeclaredPort{
			{ProtocolUrl: "tcp://echo", EndpointIndex: 0},
		},
		DeclaredEndpoints: []proto.DeclaredEndpoint{
			{EndpointUrl: "unix:///tmp/m1.sock", Csr: "-----BEGIN CERTIFICATE REQUEST-----"},
		},
	}

	var signReply *proto.SignCertificatesReply
	var signErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		signReply, signErr = svc.SignCertificates(ctx, signReq)
	}()

	time.Sleep(50 * time.Millisecond)

	runReq := &proto.RunMachineRequest{
		MachineUrl: machineURL,
		SignedEndpoints: []proto.SignedEndpoint{
			{EndpointUrl: "unix:///tmp/m1.sock", Certificate: "-----BEGIN CERTIFICATE-----"},
		},
	}
	runReply, runErr := svc.RunMachine(ctx, runReq)
	require.NoError(t, runErr)
	require.NotNil(t, runReply)

	advReq := &proto.AdvertiseEndpointsRequest{
		MachineUrl:     machineURL,
		BoundEndpoints: []proto.BoundEndpoint{{EndpointUrl: "unix:///tmp/m1.sock"}},
	}
	advReply, advErr := svc.AdvertiseEndpoints(ctx, advReq)
	require.NoError(t, advErr)
	require.NotNil(t, advReply)

	wg.Wait()

	require.NoError(t, createErr)
	require.NotNil(t, createReply)
	require.Equal(t, machineURL, createReply.MachineUrl)
	require.Equal(t, signReq.DeclaredPorts, createReply.DeclaredPorts)

	require.NoError(t, signErr)
	require.NotNil(t, signReply)
	require.Equal(t, runReq.SignedEndpoints, signReply.SignedEndpoints)

	require.Equal(t, advReq.BoundEndpoints, runReply.BoundEndpoints)

	deleteReply, err := svc.DeleteMachine(ctx, &proto.DeleteMachineRequest{MachineUrl: machineURL})
	require.NoError(t, err)
	require.NotNil(t, deleteReply)
}

// sleepScript writes a machine stand-in that ignores the machine flags
// CreateMachine passes and sleeps for seconds, so the child stays alive
// through the handshake and DeleteMachine has a process to terminate.
func sleepScript(t *testing.T, seconds string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "sleep.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep "+seconds+"\n"), 0o755))
	return script
}

func TestCreateMachineRejectsDuplicateProtocolURL(t *testing.T) {
	sup := supervisor.New(supervisor.Config{Logger: zap.NewNop(), RunDirectory: t.TempDir()})
	svc := agentservice.New(agentservice.Config{Logger: zap.NewNop(), AgentName: "a", MachineExecutable: "/bin/sleep"}, sup)

	_, err := svc.CreateMachine(context.Background(), &proto.CreateMachineRequest{
		Name:         "m1",
		ExecutionUrl: "pkg://echo",
		RequestedPorts: []proto.RequestedPort{
			{ProtocolUrl: "tcp://dup"},
			{ProtocolUrl: "tcp://dup"},
		},
	})
	require.Error(t, err)
}
