// Package logging provides structured logging for vicore.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a structured logger.
type Logger struct {
	*logrus.Entry
}

// NewLogger creates a new structured logger at the given level, emitting
// JSON lines to stdout.
func NewLogger(level string) (*Logger, error) {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetOutput(os.Stdout)

	entry := logger.WithFields(logrus.Fields{
		"service": "vicore",
	})

	return &Logger{Entry: entry}, nil
}

// WithField adds a field to the logger.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields adds multiple fields to the logger.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields)}
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Info(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Error(msg)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Warn(msg)
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Debug(msg)
}

func parseKeysAndValues(keysAndValues ...interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fields[fmt.Sprintf("%v", keysAndValues[i])] = keysAndValues[i+1]
		}
	}
	return fields
}

// LogRollover logs a superbuffer rollover: the consumer has crossed into a
// new superbuffer and advanced past its sentinel metadata slot.
func (l *Logger) LogRollover(queueID uint8, superbuf uint16) {
	l.Entry.WithFields(logrus.Fields{
		"queue_id": queueID,
		"superbuf": superbuf,
		"type":     "rollover",
	}).Debug("superbuffer rollover")
}

// LogRefresh logs a control-plane mapping refresh triggered by a stale
// generation counter.
func (l *Logger) LogRefresh(queueID uint8, generation uint64) {
	l.Entry.WithFields(logrus.Fields{
		"queue_id":   queueID,
		"generation": generation,
		"type":       "refresh",
	}).Info("control-plane mapping refreshed")
}

// LogOverrun logs a detected queue overrun: the producer has wrapped the
// ring before the consumer caught up.
func (l *Logger) LogOverrun(queueID uint8, kind string) {
	l.Entry.WithFields(logrus.Fields{
		"queue_id": queueID,
		"kind":     kind,
		"type":     "overrun",
	}).Error("queue overrun detected")
}

// LogReinit logs a queue reinit, including how many outstanding request ids
// were reclaimed.
func (l *Logger) LogReinit(queueID uint8, reclaimed int) {
	l.Entry.WithFields(logrus.Fields{
		"queue_id":  queueID,
		"reclaimed": reclaimed,
		"type":      "reinit",
	}).Warn("queue reinit")
}
