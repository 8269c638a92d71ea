// Package fslog is a thin wrapper over logrus giving the worker loops
// call-site helpers in the style of rclone's fs.Debugf/fs.Errorf calls:
// debug lines as workers transfer blocks and stop, warnings on retries,
// errors on fatal conditions, fields instead of format-string
// interpolation so log aggregation can group by worker/block/uid.
package fslog

import "github.com/sirupsen/logrus"

// Log is the package-wide logger. Replaceable by callers embedding this
// module who want their own logrus instance/formatter.
var Log = logrus.StandardLogger()

// Debugf logs a worker-loop step at debug level with structured fields.
func Debugf(fields logrus.Fields, format string, args ...interface{}) {
	Log.WithFields(fields).Debugf(format, args...)
}

// Warnf logs a retried/ignored condition.
func Warnf(fields logrus.Fields, format string, args ...interface{}) {
	Log.WithFields(fields).Warnf(format, args...)
}

// Errorf logs a fatal or propagated condition.
func Errorf(fields logrus.Fields, format string, args ...interface{}) {
	Log.WithFields(fields).Errorf(format, args...)
}
