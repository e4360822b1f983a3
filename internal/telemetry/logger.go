// Package telemetry is rlncd's async logger: callers hand it a formatted
// line and immediately move on, a single goroutine drains the queue and
// writes it through a structured log/slog backend, so a slow disk never
// stalls a coder's driver. Adapted from the reference rQUIC logger (one
// global logger, one drain goroutine, a counters report on shutdown) to
// track rlncd's own eight packet types instead of rQUIC's three, with
// the file write itself replaced by an slog.Logger so every queued line
// carries a level and a timestamp in a machine-parseable form instead of
// a hand-rolled prefix.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/batmesh/rlncd/internal/protocol"
)

// Logger is one async, file-backed log sink plus a set of per-packet-type
// tx/rx counters. The zero value is not usable; construct with New.
type Logger struct {
	mu        sync.RWMutex
	enabled   bool
	debugging bool

	msgQ      chan logEntry
	closeQ    chan struct{}
	closeDone chan struct{}

	fileName string
	file     *os.File
	slog     *slog.Logger

	countersMu sync.Mutex
	tx, rx     [8]int64 // indexed by protocol.PacketType
}

// logEntry is one queued line plus the level it should be written at;
// the drain goroutine hands both straight to the slog backend.
type logEntry struct {
	level slog.Level
	msg   string
}

// New returns an unstarted Logger that will write to fileName (".log" is
// appended) once Init or Enable is called.
func New(fileName string) *Logger {
	return &Logger{fileName: fileName}
}

// Init starts the logger with debug logging set to debug. A no-op if
// already enabled.
func (l *Logger) Init(debug bool) error {
	if l.IsEnabled() {
		return nil
	}
	l.debugging = debug
	if err := l.prepareToRun(); err != nil {
		return err
	}
	go l.run()
	return nil
}

// Enable starts the logger with debugging left at its current setting.
func (l *Logger) Enable() error {
	if l.IsEnabled() {
		return nil
	}
	if err := l.prepareToRun(); err != nil {
		return err
	}
	go l.run()
	return nil
}

// Disable flushes the final counters report and stops the drain
// goroutine, blocking until it exits.
func (l *Logger) Disable() {
	if !l.IsEnabled() {
		return
	}
	close(l.closeQ)
	<-l.closeDone
}

// DebugStart turns on debug-level logging (Logf/Debugf) without
// restarting the logger.
func (l *Logger) DebugStart() {
	if l.IsDebugging() {
		return
	}
	l.mu.Lock()
	l.debugging = true
	enabled := l.enabled
	l.mu.Unlock()
	if enabled {
		l.msgQ <- logEntry{slog.LevelInfo, "debug started"}
	}
}

// DebugEnd turns off debug-level logging.
func (l *Logger) DebugEnd() {
	if !l.IsDebugging() {
		return
	}
	l.mu.Lock()
	l.debugging = false
	enabled := l.enabled
	l.mu.Unlock()
	if enabled {
		l.msgQ <- logEntry{slog.LevelInfo, "debug finished"}
	}
}

// IsEnabled reports whether the logger has been started.
func (l *Logger) IsEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// IsDebugging reports whether the logger is started and debug logging is
// on.
func (l *Logger) IsDebugging() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled && l.debugging
}

func (l *Logger) prepareToRun() error {
	if l.fileName == "" {
		l.fileName = "rlncd_" + timestamp()
	}

	f, err := os.OpenFile(l.fileName+".log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return fmt.Errorf("telemetry: open log file %s: %w", l.fileName, err)
	}
	l.file = f
	l.slog = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l.writeLog(logEntry{slog.LevelInfo, fmt.Sprintf("rlncd logging initiated, debug=%t", l.debugging)})

	l.msgQ = make(chan logEntry, 8)
	l.closeQ = make(chan struct{})
	l.closeDone = make(chan struct{})

	l.countersMu.Lock()
	l.tx = [8]int64{}
	l.rx = [8]int64{}
	l.countersMu.Unlock()

	l.mu.Lock()
	l.enabled = true
	l.mu.Unlock()
	return nil
}

func (l *Logger) run() {
	for {
		select {
		case e := <-l.msgQ:
			l.writeLog(e)
		case <-l.closeQ:
			l.mu.Lock()
			l.enabled = false
			l.mu.Unlock()
			l.writeLog(logEntry{slog.LevelInfo, l.countersReport() + "rlncd logging finished"})
			if err := l.file.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry: close log file %s: %v\n", l.fileName, err)
			}
			close(l.msgQ)
			close(l.closeDone)
			return
		}
	}
}

// IncTx increments the transmit counter for packet type t.
func (l *Logger) IncTx(t protocol.PacketType) {
	if !l.IsEnabled() {
		return
	}
	l.countersMu.Lock()
	l.tx[t]++
	l.countersMu.Unlock()
}

// IncRx increments the receive counter for packet type t.
func (l *Logger) IncRx(t protocol.PacketType) {
	if !l.IsEnabled() {
		return
	}
	l.countersMu.Lock()
	l.rx[t]++
	l.countersMu.Unlock()
}

func (l *Logger) countersReport() string {
	l.countersMu.Lock()
	defer l.countersMu.Unlock()

	msg := "counters transmitted="
	for t := protocol.PlainPacket; t <= protocol.AckPacket; t++ {
		if l.tx[t] != 0 {
			msg += fmt.Sprintf("%s: %d, ", t, l.tx[t])
		}
	}
	msg += "received="
	for t := protocol.PlainPacket; t <= protocol.AckPacket; t++ {
		if l.rx[t] != 0 {
			msg += fmt.Sprintf("%s: %d, ", t, l.rx[t])
		}
	}
	return msg
}

// Printf queues a formatted line unconditionally. Callers should guard
// with IsEnabled/IsDebugging first, as this panics if the queue has
// already been closed by Disable.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.msgQ <- logEntry{slog.LevelInfo, fmt.Sprintf(format, v...)}
}

// Logf queues a line only while debugging is enabled.
func (l *Logger) Logf(format string, v ...interface{}) {
	if l.IsDebugging() {
		l.msgQ <- logEntry{slog.LevelDebug, fmt.Sprintf(format, v...)}
	}
}

// Debugf is an alias of Logf kept for symmetry with the reference logger
// and call sites that favor that name.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.Logf(format, v...)
}

func timestamp() string {
	return time.Now().Format("2006-01-02T15:04:05.000000000")
}

func (l *Logger) writeLog(e logEntry) {
	l.slog.Log(context.Background(), e.level, e.msg)
}
