// Package salvlog is the ambient logging wrapper shared by every scanner
// package. It is grounded on github.com/dsoprea/go-logging, which
// dsoprea/go-exfat imports directly as `log` and calls at the package level
// throughout its parsing code (log.Wrap(err), log.Errorf(...), never
// instantiating a named logger). salvlog adds one thing dsoprea/go-exfat
// never needed: a per-package name, since this scanning core runs several
// catalog-scanner packages (fat32, exfat, ntfs, carver, ...) that need to
// tell their log lines apart.
package salvlog

import (
	clog "github.com/dsoprea/go-logging"
)

// Logger scopes dsoprea/go-logging's package-level Wrap/Errorf calls to a
// single named package, e.g. "fat32" or "coordinator".
type Logger struct {
	name string
}

// New returns a logger scoped to the given package name.
func New(name string) *Logger {
	return &Logger{name: name}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	clog.Debugf("["+l.name+"] "+format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	clog.Warningf("["+l.name+"] "+format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	clog.Errorf("["+l.name+"] "+format, args...)
}

// Wrap is the package-level Wrap, reachable through a scoped Logger.
func (l *Logger) Wrap(err error) error {
	return Wrap(err)
}

// Wrapf is the package-level Wrapf with the logger's name prefixed to the
// message.
func (l *Logger) Wrapf(err error, format string, args ...interface{}) error {
	return Wrapf(err, "["+l.name+"] "+format, args...)
}

// Wrap attaches a stack trace to err at the call site, the way
// dsoprea/go-exfat wraps every parse failure before it propagates.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return clog.Wrap(err)
}

// Wrapf is Wrap with an additional formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return clog.Wrapf(err, format, args...)
}
