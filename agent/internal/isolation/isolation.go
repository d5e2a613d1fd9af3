// Package isolation provides a container-backed process.Spawner,
// selected by the agent's --isolation=docker flag in place of the
// default bare-subprocess backend. It is grounded on the teacher's
// agent/internal/docker package: the same client construction
// (WithAPIVersionNegotiation, optional unix-socket host override) and
// the same errdefs-based error classification, turned from read-only
// volume discovery into container lifecycle management.
package isolation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/chordhq/chord/agent/internal/process"
	"github.com/chordhq/chord/shared/chorderr"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// Config selects the container image machines run in and how to reach
// the Docker daemon.
type Config struct {
	// SocketPath overrides the Docker SDK's default host discovery
	// (DOCKER_HOST, then /var/run/docker.sock). Empty uses the default.
	SocketPath string
	// Image is the container image to run when an Options.ExecutablePath
	// is not itself an image reference override (see Spawn).
	Image string
	// NetworkMode is passed through to the container's host config
	// (e.g. "bridge", "host"). Empty defers to the Docker daemon default.
	NetworkMode string
}

// DockerSpawner implements process.Spawner by running each machine as
// a short-lived Docker container instead of a bare subprocess.
type DockerSpawner struct {
	docker      *dockerclient.Client
	image       string
	networkMode string
}

// NewDockerSpawner builds a DockerSpawner and pings the daemon once to
// fail fast if it is unreachable.
func NewDockerSpawner(ctx context.Context, cfg Config) (*DockerSpawner, error) {
	opts := []dockerclient.Opt{
		dockerclient.WithAPIVersionNegotiation(),
	}
	if cfg.SocketPath != "" {
		opts = append(opts, dockerclient.WithHost("unix://"+cfg.SocketPath))
	}

	dc, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "construct docker client", err)
	}
	if _, err := dc.Ping(ctx); err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "docker daemon unreachable", err)
	}

	return &DockerSpawner{docker: dc, image: cfg.Image, networkMode: cfg.NetworkMode}, nil
}

// Spawn creates and starts a container running options.ExecutablePath
// (if set, as an image reference override; otherwise the spawner's
// configured Image) with mainPackage, --supervisor-endpoint, and
// --machine-id as its command, mirroring the argument vector the
// bare-subprocess backend builds in process.Machine.Spawn.
func (d *DockerSpawner) Spawn(ctx context.Context, machineID, mainPackage, supervisorEndpoint, runDirectory string, options process.Options, log *zap.Logger, onExit process.ExitCallback) (process.Handle, error) {
	image := d.image
	if options.ExecutablePath != "" {
		image = options.ExecutablePath
	}
	if image == "" {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "isolation: no container image configured")
	}

	cmd := append([]string{mainPackage, "--supervisor-endpoint", supervisorEndpoint, "--machine-id", machineID}, options.ExtraArgs...)

	resp, err := d.docker.ContainerCreate(ctx,
		&container.Config{
			Image: image,
			Cmd:   cmd,
			Env:   options.Env,
			Labels: map[string]string{
				"chord.machine_id": machineID,
			},
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(d.networkMode),
			AutoRemove:  false,
		},
		nil, nil, "chord-"+machineID,
	)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.MachineError, fmt.Sprintf("create container for machine %s", machineID), err)
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, chorderr.Wrap(chorderr.MachineError, fmt.Sprintf("start container for machine %s", machineID), err)
	}

	h := &dockerHandle{
		docker:      d.docker,
		machineID:   machineID,
		containerID: resp.ID,
		state:       process.Created,
	}

	go h.streamLogs(log)
	go h.awaitExit(onExit)

	return h, nil
}

// dockerHandle implements process.Handle for one running container.
// Like process.Machine, it holds no lock of its own: the supervisor
// mutates state only while already holding its own mutex.
type dockerHandle struct {
	docker      *dockerclient.Client
	machineID   string
	containerID string

	state    process.State
	exitCode int
	exitSig  int
}

func (h *dockerHandle) State() process.State { return h.state }

func (h *dockerHandle) SetState(s process.State) { h.state = s }

// Terminate stops the container gracefully, sending sig if it maps
// cleanly to a signal name Docker accepts, falling back to SIGTERM.
// Idempotent in Terminating so a second call (e.g. escalating to
// SIGKILL) can proceed.
func (h *dockerHandle) Terminate(sig syscall.Signal) error {
	switch h.state {
	case process.Created, process.Starting, process.Running, process.Terminating:
	default:
		return chorderr.New(chorderr.InternalViolation, fmt.Sprintf("terminate: machine %s not in a terminable state (%s)", h.machineID, h.state))
	}
	if sig == 0 {
		sig = syscall.SIGTERM
	}

	timeoutSeconds := 10
	opts := container.StopOptions{
		Signal:  signalName(sig),
		Timeout: &timeoutSeconds,
	}
	if err := h.docker.ContainerStop(context.Background(), h.containerID, opts); err != nil && !errdefs.IsNotFound(err) {
		return chorderr.Wrap(chorderr.MachineError, fmt.Sprintf("stop container for machine %s", h.machineID), err)
	}
	h.state = process.Terminating
	return nil
}

func (h *dockerHandle) ExitStatus() (code int, signal int) { return h.exitCode, h.exitSig }

func (h *dockerHandle) streamLogs(log *zap.Logger) {
	rc, err := h.docker.ContainerLogs(context.Background(), h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		log.Warn("isolation: attach container logs failed", zap.String("machine_id", h.machineID), zap.Error(err))
		return
	}
	defer rc.Close()

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go func() {
		defer outW.Close()
		defer errW.Close()
		_, _ = stdcopy.StdCopy(outW, errW, rc)
	}()

	go tagLines(log, h.machineID, "stdout", outR)
	tagLines(log, h.machineID, "stderr", errR)
}

func tagLines(log *zap.Logger, machineID, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Info(scanner.Text(), zap.String("machine_id", machineID), zap.String("stream", stream))
	}
}

func (h *dockerHandle) awaitExit(onExit process.ExitCallback) {
	statusCh, errCh := h.docker.ContainerWait(context.Background(), h.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		h.exitCode, h.exitSig = -1, 0
		_ = err
	case status := <-statusCh:
		h.exitCode = int(status.StatusCode)
		h.exitSig = 0
	}

	removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = h.docker.ContainerRemove(removeCtx, h.containerID, container.RemoveOptions{Force: true})

	onExit(h.machineID, h.exitCode, h.exitSig)
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	default:
		return "SIGTERM"
	}
}
