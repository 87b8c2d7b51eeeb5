// Package logging gives each subsystem its own prefixed, independently
// silenceable logger, the way the teacher's torrent package swapped a
// single package-level debugLog between io.Discard and os.Stderr.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"github.com/mitchellh/colorstring"
)

var (
	mu      sync.Mutex
	verbose bool
	loggers = map[string]*log.Logger{}
)

// SetVerbose toggles every subsystem logger between os.Stderr and
// io.Discard. Safe to call before any logger has been constructed.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	for _, l := range loggers {
		l.SetOutput(output())
	}
}

func output() io.Writer {
	if verbose {
		return os.Stderr
	}
	return io.Discard
}

// For returns the logger for a named subsystem (e.g. "peer", "tracker",
// "scheduler", "metadata"), creating it on first use with a colorized
// prefix.
func For(subsystem string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[subsystem]; ok {
		return l
	}
	prefix := colorstring.Color("[blue]" + subsystem + "[reset] ")
	l := log.New(output(), prefix, log.LstdFlags)
	loggers[subsystem] = l
	return l
}
