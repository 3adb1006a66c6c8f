// SPDX-License-Identifier: GPL-2.0-or-later

package mjpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// Errors.
var (
	ErrNotJPEG       = errors.New("not a JPEG payload")
	ErrTruncated     = errors.New("truncated JPEG payload")
	ErrNoFrameHeader = errors.New("no frame header before scan data")
)

// JPEG markers.
const (
	markerTEM  = 0x01
	markerSOF0 = 0xc0
	markerSOF1 = 0xc1
	markerSOF2 = 0xc2
	markerRST0 = 0xd0
	markerRST7 = 0xd7
	markerSOI  = 0xd8
	markerEOI  = 0xd9
	markerSOS  = 0xda
)

// Probe walks the JPEG marker stream and returns the image dimensions
// from the frame header without decoding the image. Segments before
// the frame header are skipped by their declared lengths.
func Probe(data []byte) (width int, height int, err error) {
	r := bitio.NewReader(bytes.NewReader(data))

	soiMarker, err := r.ReadBits(16)
	if err != nil || soiMarker != 0xffd8 {
		return 0, 0, ErrNotJPEG
	}

	for {
		prefix, err := r.ReadBits(8)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: missing frame header", ErrTruncated)
		}
		if prefix != 0xff {
			return 0, 0, fmt.Errorf("%w: invalid marker prefix %#02x", ErrNotJPEG, prefix)
		}

		// Fill bytes before a marker are allowed.
		marker := uint64(0xff)
		for marker == 0xff {
			marker, err = r.ReadBits(8)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: missing frame header", ErrTruncated)
			}
		}

		switch {
		case marker == markerSOS || marker == markerEOI:
			return 0, 0, ErrNoFrameHeader

		// Standalone markers without a length field.
		case marker == markerTEM || marker == markerSOI:
			continue
		case marker >= markerRST0 && marker <= markerRST7:
			continue

		case marker == 0:
			return 0, 0, fmt.Errorf("%w: stuffed byte between segments", ErrNotJPEG)
		}

		length, err := r.ReadBits(16)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: missing segment length", ErrTruncated)
		}
		if length < 2 {
			return 0, 0, fmt.Errorf("%w: invalid segment length %d", ErrNotJPEG, length)
		}

		if marker == markerSOF0 || marker == markerSOF1 || marker == markerSOF2 {
			if _, err := r.ReadBits(8); err != nil { // Precision.
				return 0, 0, fmt.Errorf("%w: frame header", ErrTruncated)
			}
			h, err := r.ReadBits(16)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: frame header", ErrTruncated)
			}
			w, err := r.ReadBits(16)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: frame header", ErrTruncated)
			}
			if w == 0 || h == 0 {
				return 0, 0, fmt.Errorf("%w: zero dimensions", ErrNotJPEG)
			}
			return int(w), int(h), nil
		}

		if _, err := io.CopyN(io.Discard, r, int64(length-2)); err != nil {
			return 0, 0, fmt.Errorf("%w: segment %#02x", ErrTruncated, marker)
		}
	}
}
