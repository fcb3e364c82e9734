package kv

import (
	"github.com/cockroachdb/pebble/v2"
	"github.com/rs/zerolog"
)

// pebbleLogger routes pebble's internal log lines onto zerolog.
type pebbleLogger struct {
	log zerolog.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Trace().Str("component", "pebble").Msgf(format, args...)
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Str("component", "pebble").Msgf(format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatal().Str("component", "pebble").Msgf(format, args...)
}

func eventListener(log zerolog.Logger) pebble.EventListener {
	return pebble.EventListener{
		FlushEnd: func(info pebble.FlushInfo) {
			var outputSize uint64
			for _, t := range info.Output {
				outputSize += t.Size
			}
			log.Debug().
				Str("component", "pebble").
				Int("memtables", info.Input).
				Int("files", len(info.Output)).
				Uint64("bytes", outputSize).
				Dur("took", info.Duration).
				Msg("flush")
		},
		WriteStallBegin: func(info pebble.WriteStallBeginInfo) {
			log.Warn().Str("component", "pebble").Str("reason", info.Reason).Msg("write stall")
		},
		WriteStallEnd: func() {
			log.Debug().Str("component", "pebble").Msg("write stall ended")
		},
		BackgroundError: func(err error) {
			log.Error().Str("component", "pebble").Err(err).Msg("background error")
		},
	}
}
