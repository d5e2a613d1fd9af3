package client_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhq/chord/client"
	"github.com/chordhq/chord/shared/session"
)

func TestEstablishSessionConnectExistingReadsPublishedEndpoint(t *testing.T) {
	dir := session.New(t.TempDir(), "existing")
	require.NoError(t, dir.Create())
	require.NoError(t, dir.WriteEndpoint("tcp4://test-agent@127.0.0.1:9"))

	sess, err := client.EstablishSession(client.SessionOptions{
		Mode:         client.ConnectExisting,
		RunDirectory: filepath.Dir(dir.Path()),
		SessionName:  "existing",
	})
	require.NoError(t, err)
	assert.False(t, sess.Spawned)
	assert.Equal(t, "test-agent", sess.Endpoint.ServerName())
}

func TestEstablishSessionConnectExistingFailsWithoutEndpoint(t *testing.T) {
	runDir := t.TempDir()
	_, err := client.EstablishSession(client.SessionOptions{
		Mode:         client.ConnectExisting,
		RunDirectory: runDir,
		SessionName:  "missing",
	})
	assert.Error(t, err)
}

func TestEstablishSessionRejectsMissingRunDirectory(t *testing.T) {
	_, err := client.EstablishSession(client.SessionOptions{Mode: client.ConnectExisting})
	assert.Error(t, err)
}

func TestEstablishSessionSpawnFreshRequiresAgentExecutable(t *testing.T) {
	_, err := client.EstablishSession(client.SessionOptions{
		Mode:         client.SpawnFresh,
		RunDirectory: t.TempDir(),
		SessionName:  "fresh",
	})
	assert.Error(t, err)
}
