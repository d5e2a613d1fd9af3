// Package daemonize implements --background: re-exec the agent
// detached from the controlling terminal, then let the original
// process exit. Go cannot safely fork() a multi-threaded runtime, so
// unlike a C agent's classic double-fork this re-execs the same
// binary with the same arguments plus a marker environment variable,
// in a new session (syscall.SysProcAttr.Setsid) with stdout/stderr
// redirected away from the terminal.
package daemonize

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/chordhq/chord/shared/chorderr"
)

// marker is set in the child's environment so Relaunched can tell a
// re-exec'd child apart from a normal foreground invocation.
const marker = "CHORD_AGENT_DAEMONIZED=1"

// Relaunched reports whether the current process is the detached
// child (i.e. --background already took effect), so the caller must
// not detach again.
func Relaunched() bool {
	return os.Getenv("CHORD_AGENT_DAEMONIZED") == "1"
}

// Detach re-execs the current binary with the same argv in a new
// session, redirecting stdout/stderr to logFile (or /dev/null if
// empty), and returns. The caller is expected to exit(0) immediately
// after Detach returns successfully, leaving the detached child
// running independently.
func Detach(logFile string) error {
	exe, err := os.Executable()
	if err != nil {
		return chorderr.Wrap(chorderr.InvalidConfiguration, "resolve executable path for --background", err)
	}

	var out *os.File
	if logFile != "" {
		out, err = os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return chorderr.Wrap(chorderr.InvalidConfiguration, "open --log-file for --background", err)
		}
	} else {
		out, err = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return chorderr.Wrap(chorderr.InvalidConfiguration, "open /dev/null for --background", err)
		}
	}
	defer out.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), marker)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return chorderr.Wrap(chorderr.InvalidConfiguration, "relaunch agent for --background", err)
	}
	return nil
}
