// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Level defines log level.
type Level uint8

// Logging levels, values matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMicro Unix time in microseconds.
type UnixMicro int64

// Entry defines a log entry.
type Entry struct {
	Level    Level     `json:"level"`
	Time     UnixMicro `json:"time"`
	Src      string    `json:"src"`
	CameraID string    `json:"cameraID,omitempty"`
	Msg      string    `json:"msg"`
}

// Func logs a formatted message. Wrappers fill in source and camera ID.
type Func func(level Level, format string, a ...interface{})

// ILogger is the logging interface components depend on.
type ILogger interface {
	Log(Entry)
}

// Discard is an ILogger that drops every entry.
var Discard ILogger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Log(Entry) {}

// Logger fans entries out to subscribers.
type Logger struct {
	feed  chan Entry      // Feed of log entries.
	sub   chan chan Entry // Subscribe requests.
	unsub chan chan Entry // Unsubscribe requests.

	// Closed when the run loop exits. Logging after
	// shutdown becomes a no-op instead of a deadlock.
	done chan struct{}
}

// NewLogger returns a Logger. Start must be called before use.
func NewLogger() *Logger {
	return &Logger{
		feed:  make(chan Entry),
		sub:   make(chan chan Entry),
		unsub: make(chan chan Entry),
		done:  make(chan struct{}),
	}
}

// Start runs the logger until the context is canceled.
func (l *Logger) Start(ctx context.Context) {
	defer close(l.done)
	subs := map[chan Entry]struct{}{}
	for {
		select {
		case <-ctx.Done():
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-l.sub:
			subs[ch] = struct{}{}

		case ch := <-l.unsub:
			close(ch)
			delete(subs, ch)

		case entry := <-l.feed:
			for ch := range subs {
				ch <- entry
			}
		}
	}
}

// Log sends entry to the feed, stamping the time if unset.
func (l *Logger) Log(entry Entry) {
	if entry.Time == 0 {
		entry.Time = UnixMicro(time.Now().UnixMicro())
	}
	select {
	case l.feed <- entry:
	case <-l.done:
	}
}

// CancelFunc cancels log feed subscription.
type CancelFunc func()

// Subscribe returns a new chan with the log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Entry, CancelFunc) {
	feed := make(chan Entry)
	select {
	case l.sub <- feed:
	case <-l.done:
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed chan Entry) {
	// Read feed until the unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-l.done:
			return
		case <-feed:
		}
	}
}

// LogToStdout prints the log feed to stdout until the context is canceled.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry, ok := <-feed:
			if !ok {
				return
			}
			fmt.Println(formatEntry(entry))
		case <-ctx.Done():
			return
		}
	}
}

func formatEntry(entry Entry) string {
	var output string

	switch entry.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if entry.CameraID != "" {
		output += entry.CameraID + ": "
	}
	if entry.Src != "" {
		output += strings.Title(entry.Src) + ": " //nolint:staticcheck
	}

	output += entry.Msg
	return output
}
