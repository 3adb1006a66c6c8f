// SPDX-License-Identifier: GPL-2.0-or-later

// Package mjpeg extracts and validates JPEG frames from a raw MJPEG
// byte stream.
package mjpeg

import "bytes"

// JPEG frame delimiters.
var (
	soi = []byte{0xff, 0xd8} // Start of image.
	eoi = []byte{0xff, 0xd9} // End of image.
)

// DefaultMaxBufferSize is the default extractor buffer cap.
const DefaultMaxBufferSize = 2 * 1024 * 1024

// Extractor reassembles JPEG frames from stream chunks.
//
// The stream may contain garbage between frames, markers may straddle
// chunk boundaries, and whole markers may be missing. Framing is
// best-effort resynchronization: junk before a frame is dropped and
// never reported as an error.
type Extractor struct {
	buf     []byte
	maxSize int
}

// NewExtractor returns an extractor with the given buffer cap.
// A maxSize of zero or less selects DefaultMaxBufferSize.
func NewExtractor(maxSize int) *Extractor {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	return &Extractor{maxSize: maxSize}
}

// Append adds stream bytes to the buffer. If the buffer would grow
// beyond the cap, only the newest half is kept. Frames lost this way
// are skipped, the next intact frame resynchronizes the stream.
func (e *Extractor) Append(chunk []byte) {
	e.buf = append(e.buf, chunk...)
	if len(e.buf) > e.maxSize {
		keep := e.maxSize / 2
		trimmed := make([]byte, keep)
		copy(trimmed, e.buf[len(e.buf)-keep:])
		e.buf = trimmed
	}
}

// Next returns the next complete frame in the buffer.
//
// Returned frames always start with SOI and end with EOI. When several
// SOI markers precede the end marker, the most recent one starts the
// frame and the older ones belong to discarded partials. With no
// complete frame buffered ok is false: junk before a trailing partial
// frame is dropped, and a buffer with no SOI at all is kept as-is
// since a marker may straddle the next chunk boundary.
func (e *Extractor) Next() (frame []byte, ok bool) {
	start := bytes.Index(e.buf, soi)
	if start == -1 {
		return nil, false
	}

	offset := bytes.Index(e.buf[start:], eoi)
	if offset == -1 {
		// Frame has started but not ended.
		e.truncate(bytes.LastIndex(e.buf, soi))
		return nil, false
	}
	end := start + offset + len(eoi)

	start += bytes.LastIndex(e.buf[start:end-len(eoi)], soi)

	frame = make([]byte, end-start)
	copy(frame, e.buf[start:end])
	e.truncate(end)
	return frame, true
}

// truncate drops the first n buffered bytes.
func (e *Extractor) truncate(n int) {
	rest := len(e.buf) - n
	copy(e.buf, e.buf[n:])
	e.buf = e.buf[:rest]
}
