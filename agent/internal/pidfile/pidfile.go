// Package pidfile writes and removes the agent's --pid-file, the same
// atomic-write-then-rename discipline shared/session uses for the
// session directory's own files.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/chordhq/chord/shared/chorderr"
)

// Write atomically creates path containing the current process's pid,
// one line, no trailing newline beyond the final "\n".
func Write(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pidfile-*")
	if err != nil {
		return chorderr.Wrap(chorderr.InvalidConfiguration, "create temp pid file", err)
	}
	tmpPath := tmp.Name()

	if _, err := fmt.Fprintf(tmp, "%d\n", os.Getpid()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return chorderr.Wrap(chorderr.InvalidConfiguration, "write pid file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return chorderr.Wrap(chorderr.InvalidConfiguration, "close pid file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return chorderr.Wrap(chorderr.InvalidConfiguration, "rename pid file into place", err)
	}
	return nil
}

// Remove deletes path, ignoring a not-exist error (best-effort cleanup
// on shutdown).
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return chorderr.Wrap(chorderr.InvalidConfiguration, "remove pid file", err)
	}
	return nil
}

// Read parses the pid stored at path, used by tests.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, chorderr.Wrap(chorderr.InvalidConfiguration, "read pid file", err)
	}
	pid, err := strconv.Atoi(trimNewline(string(data)))
	if err != nil {
		return 0, chorderr.Wrap(chorderr.InvalidConfiguration, "parse pid file contents", err)
	}
	return pid, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
