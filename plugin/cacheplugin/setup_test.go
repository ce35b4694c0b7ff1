package cacheplugin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dnsgw/pollgate/internal/corefile"
)

func parseCacheDirective(t *testing.T, block string) (*corefile.Configuration, corefile.Directive) {
	t.Helper()
	cfg, err := corefile.Parse("Corefile", []byte(":53 {\n"+block+"\n}"))
	require.NoError(t, err)
	d, ok := cfg.Blocks[0].Get("cache")
	require.True(t, ok)
	require.True(t, d.Dispenser.Next())
	return cfg, d
}

func TestParseCacheBareDefaults(t *testing.T) {
	_, d := parseCacheDirective(t, "cache")
	got, err := ParseCache(d.Dispenser)
	require.NoError(t, err)
	require.Equal(t, 4096, got.SuccessCap)
	require.Equal(t, 1024, got.DenialCap)
}

func TestParseCacheShorthandTTL(t *testing.T) {
	_, d := parseCacheDirective(t, "cache 30")
	got, err := ParseCache(d.Dispenser)
	require.NoError(t, err)
	require.Equal(t, 4096, got.SuccessCap)
	require.Equal(t, 1024, got.DenialCap)
}

func TestParseCacheBlockForm(t *testing.T) {
	_, d := parseCacheDirective(t, "cache {\n success 100 60\n denial 50 30\n}")
	got, err := ParseCache(d.Dispenser)
	require.NoError(t, err)
	require.Equal(t, 100, got.SuccessCap)
	require.Equal(t, 50, got.DenialCap)
}

func TestParseCacheMixedShorthandAndBlockFails(t *testing.T) {
	_, d := parseCacheDirective(t, "cache 30 {\n success 100\n}")
	_, err := ParseCache(d.Dispenser)
	require.Error(t, err)
}

func TestParseCacheUnknownPropertyFails(t *testing.T) {
	_, d := parseCacheDirective(t, "cache {\n bogus 1\n}")
	_, err := ParseCache(d.Dispenser)
	require.Error(t, err)
}
