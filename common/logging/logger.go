package logging

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Intuity/Gator/common/logstore"
)

/**
callback used to push a log entry up to the parent layer. implementations
should not block; failures are the forwarder's problem to report
*/
type ForwardFunc func(timestamp int64, severity Severity, message string)

/**
Logger distributes every captured message to the sinks that are attached:
the local embedded store, the upward websocket (as a posted 'log'), and -
on the root node only - a console writer filtered by verbosity.

Messages that arrived from a child (forwarded=true) are persisted and passed
on but excluded from the severity counters, since each child reports its own
counts through the metric aggregation path.
*/
type Logger struct {
	lock      sync.Mutex
	counts    map[Severity]int64
	store     *logstore.Store
	forward   ForwardFunc
	console   io.Writer
	verbosity Severity
}

func NewLogger() *Logger {
	return &Logger{
		counts:    make(map[Severity]int64),
		verbosity: SEVERITY_INFO,
	}
}

func (l *Logger) SetStore(store *logstore.Store) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.store = store
}

func (l *Logger) SetForward(forward ForwardFunc) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.forward = forward
}

/**
attach a console sink, used by the root node to render the tree's messages.
messages below the given verbosity are suppressed
*/
func (l *Logger) SetConsole(console io.Writer, verbosity Severity) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.console = console
	l.verbosity = verbosity
}

/**
record a message produced by this process
*/
func (l *Logger) Log(severity Severity, message string) {
	l.Capture(time.Now().Unix(), severity, message, false)
}

/**
record a message with an explicit timestamp. forwarded entries keep their
original timestamp and severity but are assigned a fresh uid by the local
store and are not counted.
*/
func (l *Logger) Capture(timestamp int64, severity Severity, message string, forwarded bool) {
	l.lock.Lock()
	store := l.store
	forward := l.forward
	console := l.console
	verbosity := l.verbosity
	if !forwarded {
		l.counts[severity] += 1
	}
	l.lock.Unlock()

	if store != nil {
		_, pushErr := store.PushLogEntry(timestamp, int(severity), message)
		if pushErr != nil {
			log.Printf("Could not record log entry: %s", pushErr)
		}
	}
	if forward != nil {
		forward(timestamp, severity, message)
	}
	if console != nil && severity >= verbosity {
		stamp := time.Unix(timestamp, 0).Format("15:04:05")
		fmt.Fprintf(console, "[%s] [%-8s] %s\n", stamp, severity.String(), message)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(SEVERITY_DEBUG, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(SEVERITY_INFO, fmt.Sprintf(format, args...))
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(SEVERITY_WARNING, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(SEVERITY_ERROR, fmt.Sprintf(format, args...))
}

func (l *Logger) Critical(format string, args ...interface{}) {
	l.Log(SEVERITY_CRITICAL, fmt.Sprintf(format, args...))
}

/**
total number of locally produced messages at the given severities
*/
func (l *Logger) Count(severities ...Severity) int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	var total int64
	for _, severity := range severities {
		total += l.counts[severity]
	}
	return total
}

/**
snapshot of per-severity counters keyed by metric name (msg_debug, msg_info, ...)
*/
func (l *Logger) Counters() map[string]int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	counters := make(map[string]int64)
	for _, severity := range AllSeverities() {
		counters[severity.CounterName()] = l.counts[severity]
	}
	return counters
}
