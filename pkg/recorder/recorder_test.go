// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodeTestJPEG(t *testing.T, width int, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	return buf.Bytes()
}

func newTestStream(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server.URL
}

// streamForever pushes `data` repeatedly until the client disconnects.
func streamForever(data []byte, interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for {
			if r.Context().Err() != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(interval)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	conf := Config{}.withDefaults()
	require.Equal(t, 15, conf.FPS)
	require.Equal(t, 2*1024*1024, conf.MaxBufferBytes)
	require.Equal(t, 4096, conf.ChunkSize)
	require.Equal(t, 10*time.Second, conf.ConnectTimeout)
	require.Equal(t, 10*time.Second, conf.FirstFrameTimeout)
	require.Equal(t, 10*time.Second, conf.ReadTimeout)
}

func TestRecord(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestStream(t, streamForever(frame, 10*time.Millisecond))

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   300 * time.Millisecond,
			OutputPath: outputPath,
		}, nil)

		result, err := session.Record(context.Background())
		require.NoError(t, err)
		require.Equal(t, outputPath, result.OutputPath)
		require.GreaterOrEqual(t, result.FramesWritten, 5)
		require.Zero(t, result.DecodeFailures)
		require.GreaterOrEqual(t, result.Elapsed, 300*time.Millisecond)

		file, err := os.ReadFile(outputPath)
		require.NoError(t, err)
		require.Equal(t, int64(len(file)), result.FileSize)
		require.Equal(t, "RIFF", string(file[:4]))
		require.Equal(t, "AVI ", string(file[8:12]))

		totalFrames := binary.LittleEndian.Uint32(file[48:52])
		require.Equal(t, uint32(result.FramesWritten), totalFrames)
	})
	t.Run("streamEnds", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestStream(t, func(w http.ResponseWriter, r *http.Request) {
			for i := 0; i < 3; i++ {
				w.Write(frame)
			}
		})

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   10 * time.Second,
			OutputPath: outputPath,
		}, nil)

		// The connection dropped but what arrived is a valid file.
		result, err := session.Record(context.Background())
		require.NoError(t, err)
		require.Equal(t, 3, result.FramesWritten)
		require.NotZero(t, result.FileSize)
	})
	t.Run("connectErr", func(t *testing.T) {
		session := NewSession(Config{
			URL:        "http://127.0.0.1:1",
			Duration:   time.Second,
			OutputPath: filepath.Join(t.TempDir(), "out.avi"),
		}, nil)

		result, err := session.Record(context.Background())
		require.Error(t, err)
		require.Nil(t, result)
	})
	t.Run("statusErr", func(t *testing.T) {
		url := newTestStream(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		})

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   time.Second,
			OutputPath: outputPath,
		}, nil)

		result, err := session.Record(context.Background())
		require.Error(t, err)
		require.Nil(t, result)
		require.NoFileExists(t, outputPath)
	})
	t.Run("noData", func(t *testing.T) {
		url := newTestStream(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:               url,
			Duration:          10 * time.Second,
			OutputPath:        outputPath,
			FirstFrameTimeout: 50 * time.Millisecond,
		}, nil)

		start := time.Now()
		result, err := session.Record(context.Background())
		require.ErrorIs(t, err, ErrNoFramesReceived)
		require.Nil(t, result)
		require.Less(t, time.Since(start), 5*time.Second)
		require.NoFileExists(t, outputPath)
	})
	t.Run("garbageOnly", func(t *testing.T) {
		garbage := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 256)
		url := newTestStream(t, streamForever(garbage, 5*time.Millisecond))

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:               url,
			Duration:          10 * time.Second,
			OutputPath:        outputPath,
			FirstFrameTimeout: 50 * time.Millisecond,
		}, nil)

		result, err := session.Record(context.Background())
		require.ErrorIs(t, err, ErrNoFramesReceived)
		require.Nil(t, result)
		require.NoFileExists(t, outputPath)
	})
	t.Run("readTimeout", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestStream(t, func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			for i := 0; i < 2; i++ {
				w.Write(frame)
				flusher.Flush()
			}
			<-r.Context().Done()
		})

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:         url,
			Duration:    10 * time.Second,
			OutputPath:  outputPath,
			ReadTimeout: 100 * time.Millisecond,
		}, nil)

		result, err := session.Record(context.Background())
		require.ErrorIs(t, err, ErrReadTimeout)
		require.NotNil(t, result)
		require.Equal(t, 2, result.FramesWritten)

		// The partial file was finalized and is playable.
		file, err := os.ReadFile(outputPath)
		require.NoError(t, err)
		require.Equal(t, "RIFF", string(file[:4]))
		require.Equal(t, uint32(2), binary.LittleEndian.Uint32(file[48:52]))
	})
	t.Run("ctxCanceled", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestStream(t, streamForever(frame, 10*time.Millisecond))

		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   10 * time.Second,
			OutputPath: outputPath,
		}, nil)

		result, err := session.Record(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotNil(t, result)
		require.Greater(t, result.FramesWritten, 0)
		require.FileExists(t, outputPath)
	})
	t.Run("decodeFailures", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		invalid := append([]byte{0xff, 0xd8}, make([]byte, 32)...)
		invalid = append(invalid, 0xff, 0xd9)

		url := newTestStream(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write(frame)
			w.Write(invalid)
			w.Write(frame)
		})

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   10 * time.Second,
			OutputPath: outputPath,
		}, nil)

		result, err := session.Record(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, result.FramesWritten)
		require.Equal(t, 1, result.DecodeFailures)
	})
	t.Run("geometryMismatch", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		smaller := encodeTestJPEG(t, 32, 24)

		url := newTestStream(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write(frame)
			w.Write(smaller)
			w.Write(frame)
		})

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   10 * time.Second,
			OutputPath: outputPath,
		}, nil)

		result, err := session.Record(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, result.FramesWritten)
		require.Equal(t, 1, result.DecodeFailures)
	})
	t.Run("createSinkErr", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestStream(t, streamForever(frame, 5*time.Millisecond))

		session := NewSession(Config{
			URL:        url,
			Duration:   time.Second,
			OutputPath: filepath.Join(t.TempDir(), "out.avi"),
		}, nil)

		mockErr := errors.New("mock")
		session.newSink = func(string, int, int, int) (sink, error) {
			return nil, mockErr
		}

		result, err := session.Record(context.Background())
		require.ErrorIs(t, err, mockErr)
		require.Nil(t, result)
	})
	t.Run("writeFrameErr", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestStream(t, streamForever(frame, 5*time.Millisecond))

		session := NewSession(Config{
			URL:        url,
			Duration:   time.Second,
			OutputPath: filepath.Join(t.TempDir(), "out.avi"),
		}, nil)

		mockErr := errors.New("mock")
		session.newSink = func(string, int, int, int) (sink, error) {
			return &stubSink{writeErr: mockErr}, nil
		}

		result, err := session.Record(context.Background())
		require.ErrorIs(t, err, mockErr)
		require.Nil(t, result)
	})
	t.Run("progress", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestStream(t, streamForever(frame, 10*time.Millisecond))

		type call struct {
			elapsed time.Duration
			total   time.Duration
			frames  int
		}
		var calls []call

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   200 * time.Millisecond,
			OutputPath: outputPath,
			OnProgress: func(elapsed, total time.Duration, frames int) {
				calls = append(calls, call{elapsed, total, frames})
			},
		}, nil)

		result, err := session.Record(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, calls)

		last := calls[len(calls)-1]
		require.Equal(t, 200*time.Millisecond, last.total)
		require.Equal(t, result.FramesWritten, last.frames)

		for i := 1; i < len(calls); i++ {
			require.GreaterOrEqual(t, calls[i].elapsed, calls[i-1].elapsed)
			require.GreaterOrEqual(t, calls[i].frames, calls[i-1].frames)
		}
	})
}

type stubSink struct {
	writeErr error
	closeErr error
}

func (s *stubSink) WriteFrame([]byte) error { return s.writeErr }
func (s *stubSink) Close() error            { return s.closeErr }
