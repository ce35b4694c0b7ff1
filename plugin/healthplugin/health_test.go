package healthplugin

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsgw/pollgate/internal/corefile"
)

func parseHealthFromSource(t *testing.T, directive string) (string, error) {
	t.Helper()
	cfg, err := corefile.Parse("Corefile", []byte(":53 {\n"+directive+"\n}"))
	require.NoError(t, err)
	d, ok := cfg.Blocks[0].Get("health")
	require.True(t, ok)
	require.True(t, d.Dispenser.Next())
	return ParseHealth(d.Dispenser)
}

func TestHealthEndpointServesOK(t *testing.T) {
	h := New("127.0.0.1:0", nil)
	require.NoError(t, h.Start())
	defer h.Stop()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + h.Addr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)
}

func TestParseHealthDefaultAddr(t *testing.T) {
	addr, err := parseHealthFromSource(t, "health")
	require.NoError(t, err)
	require.Equal(t, ":8080", addr)
}

func TestParseHealthExplicitAddr(t *testing.T) {
	addr, err := parseHealthFromSource(t, "health :9999")
	require.NoError(t, err)
	require.Equal(t, ":9999", addr)
}
