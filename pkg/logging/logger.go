package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/harborgrid/beacon/pkg/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// Level represents a log level
type Level = logrus.Level

// Log levels
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// NewLogger creates a new configured logger instance
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService creates a logger that stamps every entry with a
// service field. A hook is used so the field survives WithField/WithError
// chains, which a plain WithField on the logger would not.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(serviceHook{service: serviceName})
	return logger
}

type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = h.service
	}
	return nil
}
