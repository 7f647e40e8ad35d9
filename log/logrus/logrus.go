// Package logrus adapts a *logrus.Entry to offcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/offcache"
)

var _ offcache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every line with component=offcache.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "offcache")}
}

func (l Logger) Debug(msg string, f offcache.Fields) { l.log(logrus.DebugLevel, msg, f) }
func (l Logger) Info(msg string, f offcache.Fields)  { l.log(logrus.InfoLevel, msg, f) }
func (l Logger) Warn(msg string, f offcache.Fields)  { l.log(logrus.WarnLevel, msg, f) }
func (l Logger) Error(msg string, f offcache.Fields) { l.log(logrus.ErrorLevel, msg, f) }

func (l Logger) log(lvl logrus.Level, msg string, f offcache.Fields) {
	if !l.E.Logger.IsLevelEnabled(lvl) {
		return
	}
	e := l.E
	if len(f) > 0 {
		lf := make(logrus.Fields, len(f))
		for k, v := range f {
			// logrus renders errors under its own key
			if err, ok := v.(error); ok && k == "err" {
				lf[logrus.ErrorKey] = err
				continue
			}
			lf[k] = v
		}
		e = e.WithFields(lf)
	}
	e.Log(lvl, msg)
}
