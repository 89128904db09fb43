package common

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	return l
}

// Logger returns the process-wide logger.
func Logger() *logrus.Logger {
	return logger
}

// Log returns an entry tagged with the component name.
func Log(component string) *logrus.Entry {
	return logger.WithField("component", component)
}

func Logf(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// RotateOptions configures the rotating log file written next to stdout.
type RotateOptions struct {
	Filename   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
	Level      string
	JSON       bool
}

// SetupRotation sends log output to stdout and a rotating file. The returned
// closer releases the file.
func SetupRotation(opts RotateOptions) (io.Closer, error) {
	rotator := &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSizeMB,
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(lvl)
	}
	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}
