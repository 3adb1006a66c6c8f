// SPDX-License-Identifier: GPL-2.0-or-later

package mjpeg

import (
	"bytes"
	"fmt"
	"image/jpeg"
)

// Frame is a single validated JPEG frame.
type Frame struct {
	// Data is the original encoded payload, not a re-encoding.
	Data   []byte
	Width  int
	Height int
}

// Decode validates a JPEG payload and returns it as a frame. The
// payload is probed first so plain garbage is rejected cheaply, then
// fully decoded to catch corrupt scan data.
func Decode(data []byte) (Frame, error) {
	width, height, err := Probe(data)
	if err != nil {
		return Frame{}, err
	}

	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	return Frame{
		Data:   data,
		Width:  width,
		Height: height,
	}, nil
}
