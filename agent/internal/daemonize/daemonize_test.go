package daemonize_test

import (
	"os"
	"testing"

	"github.com/chordhq/chord/agent/internal/daemonize"
	"github.com/stretchr/testify/assert"
)

func TestRelaunchedReflectsEnv(t *testing.T) {
	os.Unsetenv("CHORD_AGENT_DAEMONIZED")
	assert.False(t, daemonize.Relaunched())

	os.Setenv("CHORD_AGENT_DAEMONIZED", "1")
	defer os.Unsetenv("CHORD_AGENT_DAEMONIZED")
	assert.True(t, daemonize.Relaunched())
}
