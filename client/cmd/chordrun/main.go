// Package main is the entry point for chord-run: the CLI that spawns
// or attaches to an agent session, creates one machine for a given
// execution URL, and streams its output until it finishes. Grounded on
// original_source/bin/chord_run's flag set (--session-isolate renamed
// --agent-executable, --session-name, and a package specifier
// positional argument) re-expressed as a cobra command. Trailing
// program arguments are accepted on the command line but are not
// passed to the machine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chordhq/chord/client"
	"github.com/chordhq/chord/shared/proto"
	"github.com/chordhq/chord/shared/remoting"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	agentExecutable string
	sessionName     string
	runDirectory    string
	protocolURL     string
	startSuspended  bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "chord-run <execution-url> [program-args...]",
		Short: "Run a Chord program",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], f)
		},
	}
	root.Flags().StringVar(&f.agentExecutable, "agent-executable", "", "path to the chord-agent binary, spawned if the session is not already running")
	root.Flags().StringVar(&f.sessionName, "session-name", "chord-run", "session name to attach to or spawn")
	root.Flags().StringVar(&f.runDirectory, "run-directory", ".", "run directory holding session state")
	root.Flags().StringVar(&f.protocolURL, "protocol-url", "tcp4://chord-run/stdio", "protocol URL used for the machine's one plug")
	root.Flags().BoolVar(&f.startSuspended, "start-suspended", false, "create the machine suspended and resume it once wired")
	return root
}

func run(ctx context.Context, executionURL string, f *flags) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := client.EstablishSession(client.SessionOptions{
		Mode:             client.SpawnIfMissing,
		RunDirectory:     f.runDirectory,
		SessionName:      f.sessionName,
		AgentExecutable:  f.agentExecutable,
		Organization:     "chord-run",
		TemporarySession: true,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	isolate := client.NewChordIsolate(sess, log)
	defer isolate.Close()

	result, err := isolate.RunMachine(ctx, client.RunOptions{
		Name:         "chord-run-" + sess.AgentName,
		ExecutionURL: executionURL,
		ConfigHash:   "chord-run",
		RequestedPorts: []client.RequestedPort{
			{
				ProtocolURL:   f.protocolURL,
				PortType:      proto.PortTypeStreaming,
				PortDirection: proto.PortDirectionBiDirectional,
				Handler: func(data []byte) {
					os.Stdout.Write(data)
				},
			},
		},
		StartSuspended: f.startSuspended,
	})
	if err != nil {
		return err
	}
	defer result.Connector.Close()

	if f.startSuspended {
		if err := result.Connector.Resume(ctx); err != nil {
			return err
		}
	}

	exitStatus, err := result.Connector.RunUntilFinished(ctx, func(s remoting.MachineState) {
		log.Info("machine state changed", zap.String("state", s.String()))
	})
	if err != nil {
		return err
	}
	log.Info("machine finished", zap.Int32("exit_status", exitStatus))
	if exitStatus != 0 {
		os.Exit(int(exitStatus))
	}
	return nil
}
