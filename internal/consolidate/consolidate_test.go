package consolidate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCorePassesNonMatchingThrough(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	c, err := NewRegexCore(obsCore, Config{Window: time.Hour, Pattern: "connection refused", Level: zapcore.WarnLevel})
	require.NoError(t, err)
	defer c.Close()

	err = c.Write(zapcore.Entry{Level: zapcore.InfoLevel, Message: "normal query log line"}, nil)
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "normal query log line", logs.All()[0].Message)
}

func TestCoreSuppressesMatchingAndFlushesAggregate(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	c, err := NewRegexCore(obsCore, Config{Window: 20 * time.Millisecond, Pattern: "connection refused", Level: zapcore.WarnLevel})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		err := c.Write(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "connection refused by upstream"}, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 0, logs.Len())

	require.Eventually(t, func() bool {
		return logs.Len() == 1
	}, time.Second, 5*time.Millisecond)

	entry := logs.All()[0]
	require.Equal(t, zapcore.WarnLevel, entry.Level)
	require.Contains(t, entry.Message, "5 occurrences")
	require.Contains(t, entry.Message, "connection refused")
}

func TestCloseFlushesPendingCount(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	c, err := NewRegexCore(obsCore, Config{Window: time.Hour, Pattern: "boom", Level: zapcore.WarnLevel})
	require.NoError(t, err)

	require.NoError(t, c.Write(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "boom happened"}, nil))
	c.Close()

	require.Equal(t, 1, logs.Len())
	require.Contains(t, logs.All()[0].Message, "1 occurrences")
}

func TestCloseWithNothingSuppressedEmitsNothing(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	c, err := NewRegexCore(obsCore, Config{Window: time.Hour, Pattern: "boom", Level: zapcore.WarnLevel})
	require.NoError(t, err)
	c.Close()
	require.Equal(t, 0, logs.Len())
}

func TestNewRegexCoreRejectsInvalidPattern(t *testing.T) {
	obsCore, _ := observer.New(zapcore.InfoLevel)
	_, err := NewRegexCore(obsCore, Config{Window: time.Second, Pattern: "("})
	require.Error(t, err)
}
