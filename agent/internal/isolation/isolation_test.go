package isolation_test

import (
	"context"
	"testing"
	"time"

	"github.com/chordhq/chord/agent/internal/isolation"
	"github.com/stretchr/testify/require"
)

// TestNewDockerSpawnerRequiresReachableDaemon exercises the
// fail-fast Ping the teacher's docker.Client.Ping does: without a
// daemon at the given socket, construction must return
// InvalidConfiguration rather than defer the failure to the first
// Spawn call. This environment has no Docker daemon, so the only
// assertion that holds everywhere is that construction surfaces an
// error instead of hanging past the deadline.
func TestNewDockerSpawnerRequiresReachableDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := isolation.NewDockerSpawner(ctx, isolation.Config{
		SocketPath: "/nonexistent/docker.sock",
		Image:      "chord/machine:test",
	})
	require.Error(t, err)
}
