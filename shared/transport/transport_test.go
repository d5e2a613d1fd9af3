package transport_test

import (
	"testing"

	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForUnixRejectsRelativePath(t *testing.T) {
	_, err := transport.ForUnix("agent.internal", "relative/path")
	require.Error(t, err)
	assert.Equal(t, chorderr.InvalidConfiguration, chorderr.KindOf(err))
}

func TestForUnixRejectsEmptyPath(t *testing.T) {
	_, err := transport.ForUnix("agent.internal", "")
	require.Error(t, err)
	assert.True(t, chorderr.Is(err, chorderr.InvalidConfiguration))
}

func TestForTcp4RoundTripsThroughURL(t *testing.T) {
	loc, err := transport.ForTcp4("agent.internal", "127.0.0.1", 9443)
	require.NoError(t, err)

	again, err := transport.FromURL(loc.ToURL())
	require.NoError(t, err)
	assert.Equal(t, transport.Tcp4, again.Kind())
	assert.Equal(t, "agent.internal", again.ServerName())
	assert.Equal(t, "127.0.0.1", again.Address())
	assert.Equal(t, 9443, again.Port())
	assert.Equal(t, "127.0.0.1:9443", again.ToTarget())
}

func TestFromURLUnix(t *testing.T) {
	loc, err := transport.FromURL("unix://agent.internal/tmp/sess/agent.sock")
	require.NoError(t, err)
	assert.Equal(t, transport.Unix, loc.Kind())
	assert.Equal(t, "/tmp/sess/agent.sock", loc.Path())
	assert.Equal(t, "unix:/tmp/sess/agent.sock", loc.ToTarget())
}

func TestFromURLUnknownScheme(t *testing.T) {
	_, err := transport.FromURL("udp6://agent.internal/x")
	require.Error(t, err)
	assert.True(t, chorderr.Is(err, chorderr.InvalidConfiguration))
}

func TestFromURLNonNumericPort(t *testing.T) {
	_, err := transport.FromURL("tcp4://agent.internal@127.0.0.1:notaport")
	require.Error(t, err)
	assert.True(t, chorderr.Is(err, chorderr.InvalidConfiguration))
}

func TestFromStringPartialForms(t *testing.T) {
	u, err := transport.FromString("/tmp/sess/agent.sock", transport.Unix, "agent.internal")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sess/agent.sock", u.Path())

	tc, err := transport.FromString("127.0.0.1:443", transport.Tcp4, "agent.internal")
	require.NoError(t, err)
	assert.Equal(t, 443, tc.Port())

	_, err = transport.FromString("", transport.Invalid, "agent.internal")
	require.Error(t, err)
}

func TestParseTransportType(t *testing.T) {
	k, err := transport.ParseTransportType("Unix")
	require.NoError(t, err)
	assert.Equal(t, transport.Unix, k)

	_, err = transport.ParseTransportType("Quic")
	require.Error(t, err)
	assert.True(t, chorderr.Is(err, chorderr.InvalidConfiguration))
}
