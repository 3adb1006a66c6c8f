// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestWebsocketStream(t *testing.T, frames [][]byte) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}

		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		// Wait for the close reply so buffered frames are not cut off.
		conn.ReadMessage() //nolint:errcheck
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebsocketStream(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		frame := encodeTestJPEG(t, 64, 48)
		url := newTestWebsocketStream(t, [][]byte{frame, frame, frame})

		outputPath := filepath.Join(t.TempDir(), "out.avi")
		session := NewSession(Config{
			URL:        url,
			Duration:   10 * time.Second,
			OutputPath: outputPath,

			// Force multiple reads per message.
			ChunkSize: 256,
		}, nil)

		result, err := session.Record(context.Background())
		require.NoError(t, err)
		require.Equal(t, 3, result.FramesWritten)
		require.FileExists(t, outputPath)
	})
	t.Run("dialErr", func(t *testing.T) {
		session := NewSession(Config{
			URL:        "ws://127.0.0.1:1",
			Duration:   time.Second,
			OutputPath: filepath.Join(t.TempDir(), "out.avi"),
		}, nil)

		result, err := session.Record(context.Background())
		require.Error(t, err)
		require.Nil(t, result)
	})
}

func TestOpenStream(t *testing.T) {
	t.Run("invalidURL", func(t *testing.T) {
		_, err := openStream(context.Background(), "http://\x7f", time.Second)
		require.Error(t, err)
	})
}
