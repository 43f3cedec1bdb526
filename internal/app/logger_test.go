package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/trialkit/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	original := logger.Logger()
	t.Cleanup(func() { logger.Replace(original) })

	require.NoError(t, ConfigureLogging("debug", "console"))
	require.NoError(t, ConfigureLogging("", "json"))
	require.True(t, logger.Logger().Core().Enabled(0))
}
