package strix

import (
	"log/slog"
	"time"

	"github.com/fogfish/opts"
)

type engineOptions struct {
	logger           *slog.Logger
	operationTimeout time.Duration
	republishErrors  bool
	errorChannels    map[string]string
}

type Option = opts.Option[engineOptions]

var (
	// WithLogger sets the logger of the engine. Listen loops log under "strix.engine".
	WithLogger = opts.ForName[engineOptions, *slog.Logger]("logger")

	// WithOperationTimeout bounds each handler invocation, including the awaiting of deferred
	// results. A handler that times out is logged and its message is never republished.
	WithOperationTimeout = opts.ForName[engineOptions, time.Duration]("operationTimeout")

	// WithRepublishErrors republishes messages whose handler failed.
	WithRepublishErrors = opts.ForName[engineOptions, bool]("republishErrors")
)

// WithErrorChannel republishes failed messages of channel to target instead of channel itself.
// It has no effect unless republishing is enabled.
func WithErrorChannel(channel, target string) Option {
	return opts.Type[engineOptions](func(o *engineOptions) error {
		if o.errorChannels == nil {
			o.errorChannels = make(map[string]string)
		}
		o.errorChannels[channel] = target
		return nil
	})
}

func (o engineOptions) republishTarget(channel string) string {
	if target, ok := o.errorChannels[channel]; ok && target != "" {
		return target
	}
	return channel
}
