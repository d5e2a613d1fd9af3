package hostmetrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/chordhq/chord/agent/internal/hostmetrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleReturnsPlausibleValues(t *testing.T) {
	s := hostmetrics.New("/")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sample, err := s.Sample(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, sample.CPUPercent, 0.0)
	assert.GreaterOrEqual(t, sample.MemUsedPercent, 0.0)
	assert.LessOrEqual(t, sample.MemUsedPercent, 100.0)
}

func TestNewDefaultsEmptyPath(t *testing.T) {
	s := hostmetrics.New("")
	assert.Equal(t, "/", s.DiskPath)
}
