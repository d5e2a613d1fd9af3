package client

import (
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/session"
	"github.com/chordhq/chord/shared/transport"
)

// SessionMode selects how EstablishSession obtains a running agent,
// per spec section 4.7 step 1.
type SessionMode int

const (
	// ConnectExisting requires a session directory with a live
	// endpoint file to already exist; it never spawns an agent.
	ConnectExisting SessionMode = iota
	// SpawnFresh always launches a new agent process. It does not check
	// whether the session directory already exists: an existing
	// directory is reused and its sid, CA and agent identity files are
	// replaced.
	SpawnFresh
	// SpawnIfMissing connects to an existing session if its endpoint
	// file is already present, and spawns a fresh agent otherwise.
	SpawnIfMissing
)

// SessionOptions configures EstablishSession.
type SessionOptions struct {
	Mode SessionMode

	RunDirectory string
	SessionName  string

	// AgentExecutable is the path to the chord-agent binary, required
	// for SpawnFresh and SpawnIfMissing.
	AgentExecutable string
	// AgentName is the logical name used in machine_url; defaults to
	// SessionName.
	AgentName string
	// Organization names the CA's subject when a fresh CA is minted.
	Organization string
	// ListenTransport is forwarded to a spawned agent's
	// --listen-transport flag ("Unix" or "Tcp4").
	ListenTransport string
	// TemporarySession passes --temporary-session to a spawned agent,
	// which then removes its own session directory when it exits. No
	// --idle-timeout is passed, so the spawned agent does not exit on
	// idle.
	TemporarySession bool
	// PollTimeout bounds how long EstablishSession waits for a spawned
	// agent to publish its endpoint file.
	PollTimeout time.Duration

	Logger *zap.Logger
}

// Session is the outcome of EstablishSession: an agent endpoint to
// dial plus, when this call spawned the agent, the CA that can sign
// certificates for it.
type Session struct {
	Dir       session.Dir
	Endpoint  transport.Location
	Signer    *LocalCertificateSigner
	Spawned   bool
	AgentName string
}

// EstablishSession implements spec section 4.7 step 1: connect to an
// already-running agent, spawn a fresh one, or either — depending on
// opts.Mode — mirroring the teacher's cmd/agent/main.go session
// directory bring-up, driven here from the client side instead.
func EstablishSession(opts SessionOptions) (*Session, error) {
	if opts.RunDirectory == "" || opts.SessionName == "" {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "run directory and session name are required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dir := session.New(opts.RunDirectory, opts.SessionName)

	switch opts.Mode {
	case ConnectExisting:
		return connectExisting(dir)
	case SpawnFresh:
		return spawnFresh(dir, opts, log)
	case SpawnIfMissing:
		if endpoint, err := dir.ReadEndpoint(); err == nil && endpoint != "" {
			if sess, err := connectExisting(dir); err == nil {
				return sess, nil
			}
		}
		return spawnFresh(dir, opts, log)
	default:
		return nil, chorderr.New(chorderr.InvalidConfiguration, "unknown session mode")
	}
}

func connectExisting(dir session.Dir) (*Session, error) {
	endpoint, err := dir.ReadEndpoint()
	if err != nil {
		return nil, chorderr.Wrap(chorderr.AgentError, "read session endpoint", err)
	}
	loc, err := transport.FromURL(endpoint)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "parse session endpoint", err)
	}
	return &Session{Dir: dir, Endpoint: loc, Spawned: false}, nil
}

func spawnFresh(dir session.Dir, opts SessionOptions, log *zap.Logger) (*Session, error) {
	if opts.AgentExecutable == "" {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "agent executable is required to spawn a fresh session")
	}
	if err := dir.Create(); err != nil {
		return nil, err
	}

	signer, err := NewLocalCertificateSigner(opts.Organization)
	if err != nil {
		return nil, err
	}
	if err := dir.WriteRootCA(signer.CACertPEM()); err != nil {
		return nil, err
	}

	agentName := opts.AgentName
	if agentName == "" {
		agentName = opts.SessionName
	}
	certPEM, keyPEM, err := signer.SignAgentIdentity(agentName, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	if err := dir.WriteAgentIdentity(certPEM, keyPEM); err != nil {
		return nil, err
	}

	transportKind := opts.ListenTransport
	if transportKind == "" {
		transportKind = "Unix"
	}

	args := []string{
		"--session-name", opts.SessionName,
		"--run-directory", opts.RunDirectory,
		"--listen-transport", transportKind,
		"--certificate", dir.AgentCertPath(),
		"--private-key", dir.AgentKeyPath(),
		"--ca-bundle", dir.RootCAPath(),
		"--agent-name", agentName,
	}
	if opts.TemporarySession {
		args = append(args, "--temporary-session")
	}
	args = append(args, "--background")

	cmd := exec.Command(opts.AgentExecutable, args...)
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return nil, chorderr.Wrap(chorderr.PosixError, fmt.Sprintf("spawn agent %s", opts.AgentExecutable), err)
	}
	// --background re-execs a detached, session-led copy of the agent
	// and lets this short-lived launcher process exit almost
	// immediately; Wait reaps it rather than leaking a zombie.
	if err := cmd.Wait(); err != nil {
		return nil, chorderr.Wrap(chorderr.MachineError, "agent --background launcher failed", err)
	}
	log.Info("spawned chord agent", zap.String("session_name", opts.SessionName))

	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	endpoint, err := dir.PollEndpoint(time.Now().Add(pollTimeout))
	if err != nil {
		return nil, err
	}
	loc, err := transport.FromURL(endpoint)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "parse spawned agent endpoint", err)
	}
	return &Session{Dir: dir, Endpoint: loc, Signer: signer, Spawned: true, AgentName: agentName}, nil
}
