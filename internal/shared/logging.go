package shared

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrorCounter is a zerolog hook counting error-level events. The CLI exits
// non-zero when it saw any.
type ErrorCounter struct {
	count atomic.Int64
}

func (c *ErrorCounter) Run(_ *zerolog.Event, level zerolog.Level, _ string) {
	if level >= zerolog.ErrorLevel && level < zerolog.NoLevel {
		c.count.Add(1)
	}
}

func (c *ErrorCounter) Count() int64 {
	return c.count.Load()
}

func (c *ErrorCounter) Reset() {
	c.count.Store(0)
}

// Activity is a named span of work whose logger carries the span's name.
// Processes wrap whole commands; actions wrap the work on one item.
type Activity struct {
	logger  zerolog.Logger
	kind    string
	name    string
	started time.Time
}

// WithProcess starts an outer activity and returns a context whose logger
// is tagged with it.
func WithProcess(ctx context.Context, name string) (context.Context, *Activity) {
	return startActivity(ctx, "process", name)
}

// WithAction starts an inner activity, typically one per shape being built.
func WithAction(ctx context.Context, name string) (context.Context, *Activity) {
	return startActivity(ctx, "action", name)
}

func startActivity(ctx context.Context, kind string, name string) (context.Context, *Activity) {
	logger := zerolog.Ctx(ctx).With().Str(kind, name).Logger()
	activity := &Activity{logger: logger, kind: kind, name: name, started: time.Now()}
	logger.Debug().Msgf("%s started", kind)
	return logger.WithContext(ctx), activity
}

// Done logs the activity's duration, at error level when err is non-nil.
func (a *Activity) Done(err error) {
	elapsed := time.Since(a.started)
	if err != nil {
		a.logger.Error().Err(err).Dur("elapsed", elapsed).Msgf("%s failed", a.kind)
		return
	}
	a.logger.Debug().Dur("elapsed", elapsed).Msgf("%s finished", a.kind)
}
