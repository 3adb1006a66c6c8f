// SPDX-License-Identifier: GPL-2.0-or-later

package avi

import "io"

// tryWriter writes little-endian RIFF fields.
type tryWriter struct {
	out io.Writer

	// TryError holds the first error occurred in tryXXX() methods.
	TryError error
}

func (w *tryWriter) tryWrite(p []byte) {
	if w.TryError == nil {
		_, w.TryError = w.out.Write(p)
	}
}

// tryFourCC writes a four character code.
func (w *tryWriter) tryFourCC(code string) {
	w.tryWrite([]byte(code))
}

func (w *tryWriter) tryWriteUint16(r uint16) {
	w.tryWrite([]byte{
		byte(r),
		byte(r >> 8),
	})
}

func (w *tryWriter) tryWriteUint32(r uint32) {
	w.tryWrite([]byte{
		byte(r),
		byte(r >> 8),
		byte(r >> 16),
		byte(r >> 24),
	})
}
