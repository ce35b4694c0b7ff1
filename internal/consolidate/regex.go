package consolidate

import (
	"fmt"
	"regexp"

	"go.uber.org/zap/zapcore"
)

// NewRegexCore compiles cfg.Pattern and wraps next in a Core that folds
// every line matching it, per spec §4.5's
// `N occurrences of "<pattern>" suppressed` aggregate format.
func NewRegexCore(next zapcore.Core, cfg Config) (*Core, error) {
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("consolidate: invalid pattern %q: %w", cfg.Pattern, err)
	}
	return NewCore(next, cfg, re.MatchString), nil
}

func formatAggregate(n uint64, pattern string) string {
	return fmt.Sprintf("%d occurrences of %q suppressed", n, pattern)
}
