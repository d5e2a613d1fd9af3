// Package main is the entry point for the chord-machine binary: the
// process an agent's MachineSupervisor spawns for each machine. It
// drives the registration handshake (machine/internal/registration),
// then serves RemotingService (machine/internal/binder) until
// SIGTERM/SIGINT or its interpreter program reaches a terminal state,
// matching the teacher's cmd/agent/main.go startup-sequence shape
// applied to the machine side of the protocol.
package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chordhq/chord/machine/internal/binder"
	"github.com/chordhq/chord/machine/internal/echoprogram"
	"github.com/chordhq/chord/machine/internal/registration"
	"github.com/chordhq/chord/machine/internal/runner"
	"github.com/chordhq/chord/shared/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	supervisorEndpoint string
	machineID          string
	machineURL         string
	configHash         string
	startSuspended     string
	caBundlePath       string
	binderBindAddress  string
	requestedPorts     []string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "chord-machine <main-package>",
		Short: "Chord machine — runs one sandboxed interpreter and its RemotingService",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], f)
		},
	}

	root.Flags().StringVar(&f.supervisorEndpoint, "supervisor-endpoint", "", "agent supervisor endpoint URL (required)")
	root.Flags().StringVar(&f.machineID, "machine-id", "", "machine id assigned by the supervisor")
	root.Flags().StringVar(&f.machineURL, "machine-url", "", "machine URL (required)")
	root.Flags().StringVar(&f.configHash, "config-hash", "", "opaque config hash")
	root.Flags().StringVar(&f.startSuspended, "start-suspended", "false", "start the interpreter suspended")
	root.Flags().StringVar(&f.caBundlePath, "ca-bundle", "", "root CA bundle path (required)")
	root.Flags().StringVar(&f.binderBindAddress, "binder-bind-address", "127.0.0.1:0", "local address the binder listens on")
	root.Flags().StringSliceVar(&f.requestedPorts, "requested-port", nil, "protocolUrl|portType|portDirection, repeatable")

	return root
}

func run(ctx context.Context, mainPackage string, f *flags) error {
	if f.supervisorEndpoint == "" || f.machineURL == "" || f.caBundlePath == "" {
		return fmt.Errorf("--supervisor-endpoint, --machine-url, and --ca-bundle are all required")
	}
	startSuspended, err := strconv.ParseBool(f.startSuspended)
	if err != nil {
		return fmt.Errorf("--start-suspended: %w", err)
	}
	requestedPorts, err := parseRequestedPorts(f.requestedPorts)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	caBundle, err := os.ReadFile(f.caBundlePath)
	if err != nil {
		return fmt.Errorf("read --ca-bundle: %w", err)
	}
	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(caBundle) {
		return fmt.Errorf("--ca-bundle: no certificates found in %s", f.caBundlePath)
	}

	log.Info("starting chord machine",
		zap.String("machine_url", f.machineURL),
		zap.String("main_package", mainPackage),
		zap.Bool("start_suspended", startSuspended),
		zap.Int("requested_ports", len(requestedPorts)),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	program := echoprogram.New(firstProtocol(requestedPorts))
	machine := runner.NewLocalMachine(ctx, program, startSuspended, log)
	machine.OnExit(func(int32) { cancel() })

	result, err := registration.Run(ctx, registration.Options{
		MachineURL:         f.machineURL,
		SupervisorEndpoint: f.supervisorEndpoint,
		RootCAs:            rootCAs,
		RequestedPorts:      requestedPorts,
		BinderBindAddress:  f.binderBindAddress,
		BinderServerName:   hostComponent(f.machineURL),
	}, machine, func(string) binder.Handler { return program.Handler() }, log)
	if err != nil {
		return err
	}
	program.Bind(result.Service)

	if err := result.Binder.Serve(ctx, result.Listener); err != nil {
		return err
	}
	log.Info("chord machine stopped", zap.String("machine_url", f.machineURL))
	return nil
}

func parseRequestedPorts(raw []string) ([]registration.RequestedPort, error) {
	ports := make([]registration.RequestedPort, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("--requested-port %q: expected protocolUrl|portType|portDirection", r)
		}
		portType, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("--requested-port %q: port type is not numeric", r)
		}
		portDirection, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("--requested-port %q: port direction is not numeric", r)
		}
		ports = append(ports, registration.RequestedPort{
			ProtocolUrl:   parts[0],
			PortType:      proto.PortType(portType),
			PortDirection: proto.PortDirection(portDirection),
		})
	}
	return ports, nil
}

func firstProtocol(ports []registration.RequestedPort) string {
	if len(ports) == 0 {
		return ""
	}
	return ports[0].ProtocolUrl
}

// hostComponent extracts the host segment of a "chord://host/name" URL
// without pulling in net/url for a single field: machine URLs are
// always produced by agentservice.machineURL, so the shape is fixed.
func hostComponent(machineURL string) string {
	rest := strings.TrimPrefix(machineURL, "chord://")
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i]
	}
	return rest
}
