package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetFormatter(&log.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// Fields is a shorthand for structured log fields.
type Fields map[string]any

// Info logs a message at info level with optional fields.
func Info(message string, fields Fields) {
	log.WithFields(log.Fields(fields)).Info(message)
}

// Warn logs a message at warning level with optional fields.
func Warn(message string, fields Fields) {
	log.WithFields(log.Fields(fields)).Warn(message)
}

// Error logs a message at error level with optional fields.
func Error(message string, fields Fields) {
	log.WithFields(log.Fields(fields)).Error(message)
}

// Fatal logs a message at fatal level and exits the process.
func Fatal(message string, fields Fields) {
	log.WithFields(log.Fields(fields)).Fatal(message)
}
