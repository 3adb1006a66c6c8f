// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// openStreamFunc lets tests substitute the transport.
type openStreamFunc func(ctx context.Context, url string, timeout time.Duration) (io.ReadCloser, error)

func openStream(ctx context.Context, url string, timeout time.Duration) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
		return openWebsocketStream(ctx, url, timeout)
	}
	return openHTTPStream(ctx, url, timeout)
}

// openHTTPStream issues the streaming GET request. The timeout bounds
// dialing and the response header, never the body. The body inherits
// ctx and stays readable for the whole session.
func openHTTPStream(ctx context.Context, url string, timeout time.Duration) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
	}

	response, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, fmt.Errorf("%v: %v", url, response.Status)
	}
	return response.Body, nil
}

func openWebsocketStream(ctx context.Context, url string, timeout time.Duration) (io.ReadCloser, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil) //nolint:bodyclose
	if err != nil {
		return nil, fmt.Errorf("dial %v: %w", url, err)
	}
	return &websocketReader{conn: conn}, nil
}

// websocketReader adapts a websocket connection into the byte stream
// the session reads from. Each message is drained before the next one
// is requested. A normal closure reads as io.EOF.
type websocketReader struct {
	conn    *websocket.Conn
	message io.Reader
}

func (w *websocketReader) Read(p []byte) (int, error) {
	for {
		if w.message == nil {
			_, message, err := w.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
				) {
					return 0, io.EOF
				}
				return 0, err
			}
			w.message = message
		}

		n, err := w.message.Read(p)
		if err == io.EOF { //nolint:errorlint
			w.message = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (w *websocketReader) Close() error {
	return w.conn.Close()
}
