// Package session implements the on-disk session directory contract:
// the meeting point a client uses to discover or spawn an agent,
// described in spec section 6.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chordhq/chord/shared/chorderr"
	"github.com/google/uuid"
)

const (
	dirPerm  = 0700
	filePerm = 0644
	keyPerm  = 0600
)

const (
	SidFile        = "sid"
	RootCAFile     = "rootca.crt"
	AgentCertFile  = "agent.crt"
	AgentKeyFile   = "agent.key"
	EndpointFile   = "endpoint"
	PidFile        = "pid"
	LogFile        = "log"
	CapSocketStem  = "cap.sock"
)

// Dir is the session directory at <runDirectory>/<sessionName>/.
type Dir struct {
	path string
}

// New returns the Dir for sessionName under runDirectory, without
// touching the filesystem.
func New(runDirectory, sessionName string) Dir {
	return Dir{path: filepath.Join(runDirectory, sessionName)}
}

func (d Dir) Path() string { return d.path }

func (d Dir) file(name string) string { return filepath.Join(d.path, name) }

// Create makes the session directory (mode 0700) and writes a fresh
// sid file. An existing directory is reused: its mode is reset to 0700
// and its sid file is replaced. The agent depends on this, since a
// client that spawns it has already created the directory.
func (d Dir) Create() error {
	if err := os.MkdirAll(d.path, dirPerm); err != nil {
		return chorderr.Wrap(chorderr.PosixError, "create session directory", err)
	}
	if err := os.Chmod(d.path, dirPerm); err != nil {
		return chorderr.Wrap(chorderr.PosixError, "chmod session directory", err)
	}
	return d.writeAtomic(SidFile, []byte(uuid.NewString()+"\n"), filePerm)
}

// writeAtomic writes data to a temp file in the session directory and
// renames it into place, so a reader never observes a partial write.
func (d Dir) writeAtomic(name string, data []byte, perm os.FileMode) error {
	target := d.file(name)
	tmp := target + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return chorderr.Wrap(chorderr.PosixError, fmt.Sprintf("write %s", name), err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return chorderr.Wrap(chorderr.PosixError, fmt.Sprintf("rename %s into place", name), err)
	}
	return nil
}

// WriteRootCA copies the root CA bundle bytes into the session
// directory.
func (d Dir) WriteRootCA(pem []byte) error {
	return d.writeAtomic(RootCAFile, pem, filePerm)
}

// WriteAgentIdentity writes the agent's certificate and private key;
// the key is written 0600.
func (d Dir) WriteAgentIdentity(certPEM, keyPEM []byte) error {
	if err := d.writeAtomic(AgentCertFile, certPEM, filePerm); err != nil {
		return err
	}
	return d.writeAtomic(AgentKeyFile, keyPEM, keyPerm)
}

// WriteEndpoint publishes the agent's listen endpoint. It is the last
// file the agent writes during startup, and the one a spawning client
// polls for.
func (d Dir) WriteEndpoint(endpointURL string) error {
	return d.writeAtomic(EndpointFile, []byte(endpointURL+"\n"), filePerm)
}

// ReadEndpoint reads back the single line written by WriteEndpoint.
// os.ErrNotExist (wrapped) is returned while the agent hasn't started
// yet; callers poll with PollEndpoint instead of calling this in a
// tight loop.
func (d Dir) ReadEndpoint() (string, error) {
	data, err := os.ReadFile(d.file(EndpointFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// PollEndpoint polls ReadEndpoint with exponential backoff (initial
// 100ms, factor 2, capped at 2s) until it succeeds or deadline elapses.
func (d Dir) PollEndpoint(deadline time.Time) (string, error) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 2 * time.Second
	for {
		endpoint, err := d.ReadEndpoint()
		if err == nil && endpoint != "" {
			return endpoint, nil
		}
		if time.Now().After(deadline) {
			return "", chorderr.New(chorderr.AgentError, "timed out waiting for session endpoint file")
		}
		remaining := time.Until(deadline)
		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// WritePID publishes the agent's process id.
func (d Dir) WritePID(pid int) error {
	return d.writeAtomic(PidFile, []byte(strconv.Itoa(pid)+"\n"), filePerm)
}

// LogPath is the path the agent's log sink writes to by default.
func (d Dir) LogPath() string { return d.file(LogFile) }

// RootCAPath, AgentCertPath, AgentKeyPath return the paths written by
// WriteRootCA / WriteAgentIdentity, for readers that load them back.
func (d Dir) RootCAPath() string    { return d.file(RootCAFile) }
func (d Dir) AgentCertPath() string { return d.file(AgentCertFile) }
func (d Dir) AgentKeyPath() string  { return d.file(AgentKeyFile) }

// CapSocketPath returns the path of the UNIX socket a machine binder
// with the given machineId should listen on, one per machine, chosen
// by the machine itself.
func (d Dir) CapSocketPath(machineID string) string {
	return filepath.Join(d.path, machineID+"."+CapSocketStem)
}

// Remove deletes the whole session directory. Used by temporary
// sessions on clean shutdown.
func (d Dir) Remove() error {
	return os.RemoveAll(d.path)
}
