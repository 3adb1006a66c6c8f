// SPDX-License-Identifier: GPL-2.0-or-later

// Package recorder records a live MJPEG stream into a playable AVI file.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"camrec/pkg/avi"
	"camrec/pkg/log"
	"camrec/pkg/mjpeg"
)

// Errors.
var (
	ErrNoFramesReceived = errors.New("no frames received")
	ErrNoFramesCaptured = errors.New("no frames captured")
	ErrReadTimeout      = errors.New("read timeout")
)

// Defaults.
const (
	DefaultFPS       = 15
	DefaultChunkSize = 4096

	defaultTimeout = 10 * time.Second
)

// ProgressFunc is invoked after each processed chunk once recording
// has started. Called from the session goroutine.
type ProgressFunc func(elapsed time.Duration, total time.Duration, framesWritten int)

// Config for a single recording session.
type Config struct {
	// URL of the MJPEG stream, http(s):// or ws(s)://.
	URL string

	// Duration of footage to record, measured from the first
	// decoded frame.
	Duration time.Duration

	// OutputPath of the AVI file.
	OutputPath string

	// FPS declared in the file header. Frames are written at
	// whatever rate they arrive and play back at this rate.
	FPS int

	// MaxBufferBytes caps the unparsed byte buffer.
	MaxBufferBytes int

	// ChunkSize of a single stream read.
	ChunkSize int

	// ConnectTimeout bounds stream setup.
	ConnectTimeout time.Duration

	// FirstFrameTimeout bounds the wait for the first decodable
	// frame, measured from connect.
	FirstFrameTimeout time.Duration

	// ReadTimeout bounds a single read once recording has started.
	ReadTimeout time.Duration

	OnProgress ProgressFunc
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = mjpeg.DefaultMaxBufferSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultTimeout
	}
	if c.FirstFrameTimeout <= 0 {
		c.FirstFrameTimeout = defaultTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultTimeout
	}
	return c
}

// Result describes a finished session.
type Result struct {
	OutputPath     string
	FramesWritten  int
	DecodeFailures int
	Elapsed        time.Duration
	FileSize       int64
}

type sink interface {
	WriteFrame(jpeg []byte) error
	Close() error
}

type newSinkFunc func(path string, width int, height int, fps int) (sink, error)

func newSink(path string, width int, height int, fps int) (sink, error) {
	return avi.NewWriter(path, width, height, fps)
}

// Session records one stream into one file. Record is to be called
// once per session.
type Session struct {
	conf Config
	logf log.Func

	openStream openStreamFunc
	newSink    newSinkFunc
}

func NewSession(conf Config, logf log.Func) *Session {
	if logf == nil {
		logf = func(log.Level, string, ...interface{}) {}
	}
	return &Session{
		conf:       conf.withDefaults(),
		logf:       logf,
		openStream: openStream,
		newSink:    newSink,
	}
}

// Record connects to the stream and records until the configured
// duration of footage has been written. It blocks for up to the
// duration plus finalize time, so callers run it off their
// latency-critical goroutine. When an error is returned alongside a
// non-nil Result, a playable file with the frames written so far was
// preserved at OutputPath.
func (s *Session) Record(ctx context.Context) (*Result, error) {
	conf := s.conf
	connectedAt := time.Now()

	stream, err := s.openStream(ctx, conf.URL, conf.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	var closeOnce sync.Once
	closeStream := func() {
		closeOnce.Do(func() {
			stream.Close()
		})
	}
	defer closeStream()

	// The watchdog aborts a blocked read by closing the stream.
	// While waiting for the first frame the deadline is absolute,
	// measured from connect. Once recording it becomes a per-read
	// idle limit.
	var timedOut int32
	watchdog := time.AfterFunc(conf.FirstFrameTimeout, func() {
		atomic.StoreInt32(&timedOut, 1)
		closeStream()
	})
	defer watchdog.Stop()

	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			closeStream()
		case <-watcherDone:
		}
	}()

	s.logf(log.LevelInfo, "recording %v from %v", conf.Duration, conf.URL)

	rec := &recording{
		conf:      conf,
		logf:      s.logf,
		newSink:   s.newSink,
		extractor: mjpeg.NewExtractor(conf.MaxBufferBytes),
	}

	var fatal error
	chunk := make([]byte, conf.ChunkSize)
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			if !rec.started() && time.Since(connectedAt) > conf.FirstFrameTimeout {
				fatal = fmt.Errorf("%w within %v", ErrNoFramesReceived, conf.FirstFrameTimeout)
				break
			}
			if err := rec.processChunk(chunk[:n]); err != nil {
				fatal = err
				break
			}
			if rec.started() {
				watchdog.Reset(conf.ReadTimeout)
			}
		}
		if readErr != nil {
			fatal = s.classifyReadErr(ctx, readErr, rec.started(), &timedOut)
			break
		}
		if rec.started() && rec.elapsed() >= conf.Duration {
			break
		}
	}

	elapsed := rec.elapsed()
	closeStream()

	if err := rec.closeSink(); err != nil && fatal == nil {
		fatal = fmt.Errorf("close sink: %w", err)
	}

	if rec.framesWritten == 0 {
		if rec.sink != nil {
			if err := os.Remove(conf.OutputPath); err != nil {
				s.logf(log.LevelWarning, "remove empty output: %v", err)
			}
		}
		if fatal == nil {
			fatal = ErrNoFramesCaptured
		}
		return nil, fatal
	}

	info, err := os.Stat(conf.OutputPath)
	if err != nil {
		if fatal == nil {
			fatal = fmt.Errorf("stat output: %w", err)
		}
		return nil, fatal
	}
	if info.Size() == 0 {
		if fatal == nil {
			fatal = fmt.Errorf("%w: output file is empty", ErrNoFramesCaptured)
		}
		return nil, fatal
	}

	result := &Result{
		OutputPath:     conf.OutputPath,
		FramesWritten:  rec.framesWritten,
		DecodeFailures: rec.decodeFailures,
		Elapsed:        elapsed,
		FileSize:       info.Size(),
	}
	if fatal != nil {
		return result, fatal
	}

	s.logf(log.LevelInfo, "recording finished: %v frames in %.1fs, %v",
		result.FramesWritten, elapsed.Seconds(), conf.OutputPath)

	return result, nil
}

func (s *Session) classifyReadErr(
	ctx context.Context,
	err error,
	started bool,
	timedOut *int32,
) error {
	switch {
	case atomic.LoadInt32(timedOut) == 1:
		if started {
			return fmt.Errorf("%w: stream idle for %v", ErrReadTimeout, s.conf.ReadTimeout)
		}
		return fmt.Errorf("%w within %v", ErrNoFramesReceived, s.conf.FirstFrameTimeout)

	case ctx.Err() != nil:
		return ctx.Err()

	case errors.Is(err, io.EOF):
		// Clean end of stream.
		return nil

	default:
		return fmt.Errorf("read stream: %w", err)
	}
}

// recording holds the mutable state of a session between chunks.
type recording struct {
	conf    Config
	logf    log.Func
	newSink newSinkFunc

	extractor      *mjpeg.Extractor
	sink           sink
	width, height  int
	framesWritten  int
	decodeFailures int
	startedAt      time.Time
}

func (r *recording) started() bool {
	return !r.startedAt.IsZero()
}

func (r *recording) elapsed() time.Duration {
	if !r.started() {
		return 0
	}
	return time.Since(r.startedAt)
}

// processChunk appends a chunk to the buffer and writes every frame
// it completed. Only sink errors are fatal.
func (r *recording) processChunk(chunk []byte) error {
	r.extractor.Append(chunk)
	for {
		data, ok := r.extractor.Next()
		if !ok {
			break
		}

		frame, err := mjpeg.Decode(data)
		if err != nil {
			r.decodeFailures++
			r.logf(log.LevelDebug, "skipping invalid frame: %v", err)
			continue
		}

		if err := r.writeFrame(frame); err != nil {
			return err
		}
	}

	if r.started() && r.conf.OnProgress != nil {
		r.conf.OnProgress(r.elapsed(), r.conf.Duration, r.framesWritten)
	}
	return nil
}

// writeFrame creates the sink on the first frame. Its geometry fixes
// the geometry of the file, frames that differ are skipped.
func (r *recording) writeFrame(frame mjpeg.Frame) error {
	if r.sink == nil {
		r.logf(log.LevelInfo, "stream resolution: %vx%v", frame.Width, frame.Height)

		sink, err := r.newSink(r.conf.OutputPath, frame.Width, frame.Height, r.conf.FPS)
		if err != nil {
			return fmt.Errorf("create sink: %w", err)
		}
		r.sink = sink
		r.width = frame.Width
		r.height = frame.Height
		r.startedAt = time.Now()
	}

	if frame.Width != r.width || frame.Height != r.height {
		r.decodeFailures++
		r.logf(log.LevelWarning, "skipping %vx%v frame, output is %vx%v",
			frame.Width, frame.Height, r.width, r.height)
		return nil
	}

	if err := r.sink.WriteFrame(frame.Data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	r.framesWritten++
	return nil
}

func (r *recording) closeSink() error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Close()
}
