package session_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chordhq/chord/shared/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWritesSidFile(t *testing.T) {
	dir := session.New(t.TempDir(), "mysession")
	require.NoError(t, dir.Create())

	_, err := os.Stat(filepath.Join(dir.Path(), session.SidFile))
	require.NoError(t, err)

	entries, err := dir.ReadEndpoint()
	require.Error(t, err)
	assert.Empty(t, entries)
}

func TestWriteAndReadEndpoint(t *testing.T) {
	dir := session.New(t.TempDir(), "mysession")
	require.NoError(t, dir.Create())
	require.NoError(t, dir.WriteEndpoint("unix:///tmp/mysession/agent.sock"))

	got, err := dir.ReadEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "unix:///tmp/mysession/agent.sock", got)
}

func TestPollEndpointTimesOutWhenNeverWritten(t *testing.T) {
	dir := session.New(t.TempDir(), "mysession")
	require.NoError(t, dir.Create())

	_, err := dir.PollEndpoint(time.Now().Add(150 * time.Millisecond))
	require.Error(t, err)
}

func TestPollEndpointSucceedsOnceWritten(t *testing.T) {
	dir := session.New(t.TempDir(), "mysession")
	require.NoError(t, dir.Create())

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = dir.WriteEndpoint("tcp4://agent.internal@127.0.0.1:9443")
	}()

	got, err := dir.PollEndpoint(time.Now().Add(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "tcp4://agent.internal@127.0.0.1:9443", got)
}

func TestCapSocketPathPerMachine(t *testing.T) {
	dir := session.New("/var/run", "mysession")
	assert.Contains(t, dir.CapSocketPath("m1"), "m1.cap.sock")
}
