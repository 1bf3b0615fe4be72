package keyValStore

import (
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// badgerLogger routes badger's internal chatter through zap instead of
// dropping it, so value-log GC and compaction messages end up in the
// same place as everything else.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func newBadgerLogger() badger.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return &badgerLogger{s: logger.Sugar().Named("badger")}
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.s.Errorf(strings.TrimSpace(format), args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.s.Warnf(strings.TrimSpace(format), args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.s.Infof(strings.TrimSpace(format), args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.s.Debugf(strings.TrimSpace(format), args...)
}
