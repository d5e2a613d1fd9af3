// Package main is the entry point for the chord-agent binary.
// It wires config resolution, the session directory, the
// MachineSupervisor, and the AgentService gRPC server together and
// blocks until SIGINT/SIGTERM or (with --idle-timeout > 0) the fleet
// idles out, matching the teacher's cmd/agent/main.go startup-sequence
// shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chordhq/chord/agent/internal/agentservice"
	"github.com/chordhq/chord/agent/internal/config"
	"github.com/chordhq/chord/agent/internal/daemonize"
	"github.com/chordhq/chord/agent/internal/hostmetrics"
	"github.com/chordhq/chord/agent/internal/isolation"
	"github.com/chordhq/chord/agent/internal/pidfile"
	"github.com/chordhq/chord/agent/internal/process"
	"github.com/chordhq/chord/agent/internal/supervisor"
	"github.com/chordhq/chord/shared/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &config.Flags{}
	var isolationBackend string
	var machineExecutable string
	var machineExtraArgs []string
	var agentName string

	root := &cobra.Command{
		Use:     "chord-agent",
		Short:   "Chord agent — supervises machine child processes for one session",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, isolationBackend, machineExecutable, machineExtraArgs, agentName)
		},
	}

	root.Flags().StringVar(&f.SessionName, "session-name", "", "session name (required)")
	root.Flags().StringVar(&f.ListenEndpoint, "listen-endpoint", "", "listen endpoint URI, full or partial")
	root.Flags().StringVar(&f.ListenTransport, "listen-transport", "Unix", "listen transport (Unix|Tcp4)")
	root.Flags().StringVar(&f.EndpointFile, "endpoint-file", "", "write the resolved listen endpoint here")
	root.Flags().StringVar(&f.RunDirectory, "run-directory", ".", "run directory")
	root.Flags().StringVar(&f.CertificatePath, "certificate", "", "agent certificate path (required)")
	root.Flags().StringVar(&f.PrivateKeyPath, "private-key", "", "agent private key path (required)")
	root.Flags().StringVar(&f.CABundlePath, "ca-bundle", "", "root CA bundle path (required)")
	root.Flags().BoolVar(&f.Background, "background", false, "fork detach; close stdout/stderr")
	root.Flags().BoolVar(&f.TemporarySession, "temporary-session", false, "remove the session directory on exit (idle exit is set by --idle-timeout only)")
	root.Flags().IntVar(&f.IdleTimeoutSeconds, "idle-timeout", 0, "seconds of idle fleet before auto-exit; 0 disables")
	root.Flags().IntVar(&f.RegistrationTimeoutSeconds, "registration-timeout", 5, "seconds allowed per registration phase")
	root.Flags().StringVar(&f.LogFile, "log-file", "", "log file path; empty logs to stderr")
	root.Flags().StringVar(&f.PIDFile, "pid-file", "", "pid file path")

	root.Flags().StringVar(&isolationBackend, "isolation", "process", "machine isolation backend (process|docker)")
	root.Flags().StringVar(&machineExecutable, "machine-executable", "", "path to the machine binary (process backend) or container image (docker backend)")
	root.Flags().StringSliceVar(&machineExtraArgs, "machine-arg", nil, "extra argument passed to every spawned machine (repeatable)")
	root.Flags().StringVar(&agentName, "agent-name", "", "logical agent name used in machine_url; defaults to --session-name")

	return root
}

func run(ctx context.Context, f *config.Flags, isolationBackend, machineExecutable string, machineExtraArgs []string, agentName string) error {
	cfg, err := config.Resolve(*f)
	if err != nil {
		return err
	}

	if f.Background && !daemonize.Relaunched() {
		if err := daemonize.Detach(cfg.LogFile); err != nil {
			return err
		}
		return nil
	}

	log, err := buildLogger(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if agentName == "" {
		agentName = cfg.SessionName
	}

	sessionDir := session.New(cfg.RunDirectory, cfg.SessionName)
	if err := sessionDir.Create(); err != nil {
		return err
	}
	if cfg.TemporarySession {
		defer sessionDir.Remove()
	}

	if err := pidfile.Write(cfg.PIDFile); err != nil {
		return err
	}
	defer pidfile.Remove(cfg.PIDFile)
	if err := sessionDir.WritePID(os.Getpid()); err != nil {
		return err
	}

	log.Info("starting chord agent",
		zap.String("version", version),
		zap.String("session_name", cfg.SessionName),
		zap.String("listen_endpoint", cfg.ListenLocation.ToURL()),
		zap.String("isolation", isolationBackend),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var spawner process.Spawner
	switch isolationBackend {
	case "", "process":
		spawner = process.DefaultSpawner{}
	case "docker":
		ds, err := isolation.NewDockerSpawner(ctx, isolation.Config{Image: machineExecutable})
		if err != nil {
			return err
		}
		spawner = ds
	default:
		return fmt.Errorf("unknown --isolation backend %q", isolationBackend)
	}

	resolvedLoc, lis, err := agentservice.Listen(cfg.ListenLocation)
	if err != nil {
		return err
	}

	sup := supervisor.New(supervisor.Config{
		Logger:              log,
		RunDirectory:        cfg.RunDirectory,
		SupervisorEndpoint:  resolvedLoc.ToURL(),
		RegistrationTimeout: cfg.RegistrationTimeout,
		IdleTimeout:         cfg.IdleTimeout,
		OnIdle:              cancel,
		Spawner:             spawner,
	})

	svc := agentservice.New(agentservice.Config{
		Logger:            log,
		AgentName:         agentName,
		MachineExecutable: machineExecutable,
		MachineExtraArgs:  machineExtraArgs,
		CABundlePath:      cfg.CABundlePath,
		HostMetrics:       hostmetrics.New(cfg.RunDirectory),
	}, sup)

	server := agentservice.NewServer(log, cfg.TLSConfig, svc)

	if err := sessionDir.WriteEndpoint(resolvedLoc.ToURL()); err != nil {
		return err
	}
	if cfg.EndpointFile != "" {
		if err := os.WriteFile(cfg.EndpointFile, []byte(resolvedLoc.ToURL()+"\n"), 0o644); err != nil {
			return fmt.Errorf("write --endpoint-file: %w", err)
		}
	}

	if err := server.Serve(ctx, lis); err != nil {
		return err
	}

	sup.Shutdown()
	log.Info("chord agent stopped")
	return nil
}

func buildLogger(logFile string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
	}
	return cfg.Build()
}
