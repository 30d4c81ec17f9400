// Package logging wires the structured, leveled logrus front end used
// throughout the reactor to the custom rotating logsink.Sink, matching the
// ambient logging stack a production Go port of this engine would carry.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/reactorhttpd/reactorhttpd/internal/logsink"
)

// sinkHook forwards every logrus entry into a logsink.Sink. The entry is
// rendered by the logger's formatter (logrus's text format, with its own
// time, level, msg and field pairs), and logsink adds its timestamp/level
// prefix in front of that.
type sinkHook struct {
	sink *logsink.Sink
}

func (h *sinkHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *sinkHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.sink.Write(toSinkLevel(entry.Level), line)
	return nil
}

func toSinkLevel(l logrus.Level) logsink.Level {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return logsink.Debug
	case logrus.InfoLevel:
		return logsink.Info
	case logrus.WarnLevel:
		return logsink.Warn
	default:
		return logsink.Error
	}
}

// New builds a *logrus.Logger whose output is entirely driven by the hook
// (the logger's own writer is discarded) so every entry lands in sink with
// the spec-mandated rotation and optional async queueing.
func New(sink *logsink.Sink, level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(discardWriter{})
	log.AddHook(&sinkHook{sink: sink})
	return log
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// LevelFromSink converts a logsink.Level to its logrus equivalent, used when
// a caller only has the spec's 0..3 level config (as passed to the reactor
// constructor) and needs to configure the logrus front consistently.
func LevelFromSink(level logsink.Level) logrus.Level {
	switch level {
	case logsink.Debug:
		return logrus.DebugLevel
	case logsink.Info:
		return logrus.InfoLevel
	case logsink.Warn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}
