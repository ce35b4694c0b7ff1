package reloadplugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsgw/pollgate/internal/corefile"
)

func parseReloadFromSource(t *testing.T, directive string) (Settings, error) {
	t.Helper()
	cfg, err := corefile.Parse("Corefile", []byte(":53 {\n"+directive+"\n}"))
	require.NoError(t, err)
	d, ok := cfg.Blocks[0].Get("reload")
	require.True(t, ok)
	require.True(t, d.Dispenser.Next())
	return ParseReload(d.Dispenser)
}

func TestParseReloadIntervalOnly(t *testing.T) {
	s, err := parseReloadFromSource(t, "reload 5s")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, s.Interval)
	require.Zero(t, s.Jitter)
}

func TestParseReloadIntervalAndJitter(t *testing.T) {
	s, err := parseReloadFromSource(t, "reload 5s 1s")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, s.Interval)
	require.Equal(t, time.Second, s.Jitter)
}

func TestParseReloadRequiresAtLeastInterval(t *testing.T) {
	_, err := parseReloadFromSource(t, "reload")
	require.Error(t, err)
}

func TestParseReloadRejectsTooManyArgs(t *testing.T) {
	_, err := parseReloadFromSource(t, "reload 5s 1s extra")
	require.Error(t, err)
}
