package rdfproof

import (
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// badgerLogger routes Badger's printf-style logging into zap. Badger is
// chatty at info level, so its info messages are demoted to debug.
type badgerLogger struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{s: logger.With(zap.String("component", "badger")).Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(trim(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.s.Warnf(trim(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.s.Debugf(trim(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.s.Debugf(trim(format), args...)
}

// trim drops the trailing newline Badger appends to its formats.
func trim(format string) string { return strings.TrimRight(format, "\n") }
