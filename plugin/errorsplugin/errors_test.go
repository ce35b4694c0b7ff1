package errorsplugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dnsgw/pollgate/internal/consolidate"
)

func TestNewWrapsEachStanzaInOrder(t *testing.T) {
	base, logs := observer.New(zapcore.InfoLevel)
	stanzas := []consolidate.Config{
		{Window: time.Hour, Pattern: "refused", Level: zapcore.WarnLevel},
		{Window: time.Hour, Pattern: "timeout", Level: zapcore.WarnLevel},
	}

	errs, core, err := New(stanzas, base)
	require.NoError(t, err)
	defer errs.Close()
	require.Len(t, errs.cores, 2)

	require.NoError(t, core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Message: "normal line"}, nil))
	require.Equal(t, 1, logs.Len())

	require.NoError(t, core.Write(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "connection refused"}, nil))
	require.Equal(t, 1, logs.Len())
}

func TestNewRejectsInvalidRegex(t *testing.T) {
	base, _ := observer.New(zapcore.InfoLevel)
	stanzas := []consolidate.Config{{Window: time.Second, Pattern: "("}}
	_, _, err := New(stanzas, base)
	require.Error(t, err)
}

func TestCloseStopsAllCores(t *testing.T) {
	base, logs := observer.New(zapcore.InfoLevel)
	stanzas := []consolidate.Config{{Window: time.Hour, Pattern: "boom", Level: zapcore.WarnLevel}}
	errs, core, err := New(stanzas, base)
	require.NoError(t, err)

	require.NoError(t, core.Write(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "boom happened"}, nil))
	errs.Close()

	require.Equal(t, 1, logs.Len())
	require.Contains(t, logs.All()[0].Message, "1 occurrences")
}
