// SPDX-License-Identifier: GPL-2.0-or-later

// Package avi writes MJPEG-in-AVI (RIFF) container files.
package avi

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Errors.
var (
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrInvalidFrameRate  = errors.New("invalid frame rate")
	ErrClosed            = errors.New("writer is closed")
)

const (
	avifHasIndex  = 0x10 // avih dwFlags, file carries an idx1 index.
	aviifKeyframe = 0x10 // idx1 dwFlags, every MJPEG frame is a keyframe.

	hdrlSize = 192 // "hdrl" + avih chunk + strl list.
	strlSize = 116 // "strl" + strh chunk + strf chunk.
)

// Writer muxes an MJPEG stream into an AVI container.
//
// JPEG payloads are stored as-is in word aligned '00dc' chunks, no
// re-encoding. Header fields that depend on the frame count are
// backpatched on Close, so an unclosed file has a zero frame count
// and no index.
type Writer struct {
	file *os.File

	width  int
	height int
	fps    int

	frames       uint32
	maxChunkSize uint32
	moviSize     uint32 // 'movi' fourcc plus all chunks.
	index        []indexEntry
	closed       bool
}

type indexEntry struct {
	offset uint32 // Relative to the 'movi' fourcc.
	size   uint32 // Unpadded payload size.
}

// NewWriter creates path and writes the container headers.
// The nominal frame rate is fixed for the lifetime of the file.
func NewWriter(path string, width int, height int, fps int) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if fps <= 0 {
		return nil, ErrInvalidFrameRate
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	w := &Writer{
		file:     file,
		width:    width,
		height:   height,
		fps:      fps,
		moviSize: 4,
	}
	if err := w.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	bw := &tryWriter{out: w.file}

	bw.tryFourCC("RIFF")
	bw.tryWriteUint32(0) // File size, patched on close.
	bw.tryFourCC("AVI ")

	bw.tryFourCC("LIST")
	bw.tryWriteUint32(hdrlSize)
	bw.tryFourCC("hdrl")

	// Main header.
	bw.tryFourCC("avih")
	bw.tryWriteUint32(56)
	bw.tryWriteUint32(uint32(1000000 / w.fps)) // Microseconds per frame.
	bw.tryWriteUint32(0)                       // Max bytes per second.
	bw.tryWriteUint32(0)                       // Padding granularity.
	bw.tryWriteUint32(avifHasIndex)
	bw.tryWriteUint32(0) // Total frames, patched on close.
	bw.tryWriteUint32(0) // Initial frames.
	bw.tryWriteUint32(1) // Streams.
	bw.tryWriteUint32(0) // Suggested buffer size, patched on close.
	bw.tryWriteUint32(uint32(w.width))
	bw.tryWriteUint32(uint32(w.height))
	bw.tryWrite(make([]byte, 16)) // Reserved.

	bw.tryFourCC("LIST")
	bw.tryWriteUint32(strlSize)
	bw.tryFourCC("strl")

	// Stream header.
	bw.tryFourCC("strh")
	bw.tryWriteUint32(56)
	bw.tryFourCC("vids")
	bw.tryFourCC("MJPG")
	bw.tryWriteUint32(0)             // Flags.
	bw.tryWriteUint16(0)             // Priority.
	bw.tryWriteUint16(0)             // Language.
	bw.tryWriteUint32(0)             // Initial frames.
	bw.tryWriteUint32(1)             // Scale.
	bw.tryWriteUint32(uint32(w.fps)) // Rate, frames per second.
	bw.tryWriteUint32(0)             // Start.
	bw.tryWriteUint32(0)             // Length, patched on close.
	bw.tryWriteUint32(0)             // Suggested buffer size, patched on close.
	bw.tryWriteUint32(0xffffffff)    // Quality.
	bw.tryWriteUint32(0)             // Sample size.
	bw.tryWriteUint16(0)             // rcFrame left.
	bw.tryWriteUint16(0)             // rcFrame top.
	bw.tryWriteUint16(uint16(w.width))  // rcFrame right.
	bw.tryWriteUint16(uint16(w.height)) // rcFrame bottom.

	// Stream format, BITMAPINFOHEADER.
	bw.tryFourCC("strf")
	bw.tryWriteUint32(40)
	bw.tryWriteUint32(40) // Header size.
	bw.tryWriteUint32(uint32(w.width))
	bw.tryWriteUint32(uint32(w.height))
	bw.tryWriteUint16(1)  // Planes.
	bw.tryWriteUint16(24) // Bit count.
	bw.tryFourCC("MJPG")  // Compression.
	bw.tryWriteUint32(uint32(w.width * w.height * 3)) // Image size.
	bw.tryWriteUint32(0) // Horizontal resolution.
	bw.tryWriteUint32(0) // Vertical resolution.
	bw.tryWriteUint32(0) // Colors used.
	bw.tryWriteUint32(0) // Important colors.

	bw.tryFourCC("LIST")
	bw.tryWriteUint32(0) // Movi size, patched on close.
	bw.tryFourCC("movi")

	return bw.TryError
}

// WriteFrame appends one JPEG payload as a '00dc' chunk and records
// its index entry. The pad byte is excluded from the chunk size.
func (w *Writer) WriteFrame(jpeg []byte) error {
	if w.closed {
		return ErrClosed
	}

	size := uint32(len(jpeg))
	padded := size + size&1

	bw := &tryWriter{out: w.file}
	bw.tryFourCC("00dc")
	bw.tryWriteUint32(size)
	bw.tryWrite(jpeg)
	if size&1 == 1 {
		bw.tryWrite([]byte{0})
	}
	if bw.TryError != nil {
		return fmt.Errorf("write chunk: %w", bw.TryError)
	}

	w.index = append(w.index, indexEntry{offset: w.moviSize, size: size})
	w.moviSize += 8 + padded
	if 8+padded > w.maxChunkSize {
		w.maxChunkSize = 8 + padded
	}
	w.frames++
	return nil
}

// Close writes the index, backpatches the headers and closes the
// file. Calling Close a second time is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finalize()
	closeErr := w.file.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("close file: %w", closeErr)
	}
	return nil
}

func (w *Writer) finalize() error {
	bw := &tryWriter{out: w.file}
	bw.tryFourCC("idx1")
	bw.tryWriteUint32(16 * w.frames)
	for _, entry := range w.index {
		bw.tryFourCC("00dc")
		bw.tryWriteUint32(aviifKeyframe)
		bw.tryWriteUint32(entry.offset)
		bw.tryWriteUint32(entry.size)
	}
	if bw.TryError != nil {
		return fmt.Errorf("write index: %w", bw.TryError)
	}

	patches := []struct {
		offset int64
		value  uint32
	}{
		{4, 220 + w.moviSize + 16*w.frames}, // RIFF size.
		{48, w.frames},                      // avih dwTotalFrames.
		{60, w.maxChunkSize},                // avih dwSuggestedBufferSize.
		{140, w.frames},                     // strh dwLength.
		{144, w.maxChunkSize},               // strh dwSuggestedBufferSize.
		{216, w.moviSize},                   // movi list size.
	}
	for _, patch := range patches {
		if _, err := w.file.Seek(patch.offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek %d: %w", patch.offset, err)
		}
		pw := &tryWriter{out: w.file}
		pw.tryWriteUint32(patch.value)
		if pw.TryError != nil {
			return fmt.Errorf("patch header at %d: %w", patch.offset, pw.TryError)
		}
	}
	return nil
}
