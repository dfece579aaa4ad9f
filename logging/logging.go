/*
batterylog - battery telemetry viewer
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogArgs can be embedded in a go-arg argument struct to get a log level flag.
type LogArgs struct {
	LogLevel string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

// NewLogger returns a logger writing "[LEVEL] message" lines at the given level.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(new(customFormatter))
	SetLevel(log, level)
	return log
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func SetLevel(log *logrus.Logger, level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info", "":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Unknown log level '%s', defaulting to info", level)
	}
}

// customFormatter defines a new logrus formatter.
type customFormatter struct{}

// Format builds the log message string from the log entry.
func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	msg := fmt.Sprintf("[%s] %s", strings.ToUpper(entry.Level.String()), entry.Message)
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg += fmt.Sprintf(" %s=%v", k, entry.Data[k])
	}
	return []byte(msg + "\n"), nil
}
