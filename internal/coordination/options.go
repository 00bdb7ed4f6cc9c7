package coordination

import (
	"time"

	"github.com/Iron-Ham/krenk/internal/logging"
)

type memoryConfig struct {
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Memory.
type Option func(*memoryConfig)

// WithClock sets the time source used for timestamped entries.
func WithClock(now func() time.Time) Option {
	return func(c *memoryConfig) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *memoryConfig) { c.logger = l }
}
