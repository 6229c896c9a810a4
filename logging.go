// Package-level configuration for structured logging.
//
// Logging is an infrastructure cross-cutting concern shared by every
// primitive in the package, so a single process-wide logger holder is used
// rather than threading a logger through each constructor. Wait sets may
// additionally carry their own logger via WithWaitSetLogger.

package osal

import (
	"sync"

	"github.com/joeycumines/logiface"
)

var globalLogger struct {
	sync.RWMutex
	logger *logiface.Logger[logiface.Event]
}

// SetLogger installs the package logger. A nil logger (the default) disables
// all output; logiface loggers are nil-safe, so call sites need no guards.
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

func pkgLogger() *logiface.Logger[logiface.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}
