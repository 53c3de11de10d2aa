// Package telemetry implements the default ConnectionLogRepository
// (structured logging via logrus) and an MQTT publisher that surfaces
// workout telemetry to an external broker.
package telemetry

import (
	"trainer-core/internal/external"

	"github.com/sirupsen/logrus"
)

// LogrusConnectionLog is the default ConnectionLogRepository, a
// structured log sink keyed by event type, using the
// logrus.WithFields(logrus.Fields{...}) style.
type LogrusConnectionLog struct {
	logger *logrus.Logger
}

// NewLogrusConnectionLog builds a ConnectionLogRepository writing
// structured entries via the given logrus.Logger. A nil logger uses
// logrus.StandardLogger().
func NewLogrusConnectionLog(logger *logrus.Logger) *LogrusConnectionLog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusConnectionLog{logger: logger}
}

func (l *LogrusConnectionLog) Info(event external.LogEventType, fields map[string]interface{}) {
	l.entry(event, fields).Info(string(event))
}

func (l *LogrusConnectionLog) Warn(event external.LogEventType, fields map[string]interface{}) {
	l.entry(event, fields).Warn(string(event))
}

func (l *LogrusConnectionLog) Error(event external.LogEventType, fields map[string]interface{}) {
	l.entry(event, fields).Error(string(event))
}

func (l *LogrusConnectionLog) entry(event external.LogEventType, fields map[string]interface{}) *logrus.Entry {
	logFields := logrus.Fields{"event": string(event)}
	for k, v := range fields {
		logFields[k] = v
	}
	return l.logger.WithFields(logFields)
}
