// SPDX-License-Identifier: GPL-2.0-or-later

// Package camera is a client for the camera's HTTP control surface.
package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Errors.
var (
	ErrNotImage      = errors.New("response is not an image")
	ErrRequestFailed = errors.New("request failed")
)

const (
	requestTimeout = 10 * time.Second
	flashTimeout   = 5 * time.Second
)

// Client talks to a single camera.
type Client struct {
	baseURL   string
	streamURL string
}

// NewClient returns a client for the camera at baseURL.
func NewClient(baseURL string, streamPath string) *Client {
	return &Client{
		baseURL:   baseURL,
		streamURL: baseURL + streamPath,
	}
}

// StreamURL returns the URL of the MJPEG stream.
func (c *Client) StreamURL() string {
	return c.streamURL
}

func (c *Client) get(ctx context.Context, path string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %v: %v", ErrRequestFailed, path, response.Status)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, response.Header.Get("Content-Type"), nil
}

// Capture takes a live photo.
func (c *Client) Capture(ctx context.Context) ([]byte, error) {
	body, contentType, err := c.get(ctx, "/capture")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, contentType)
	}
	return body, nil
}

// SetFlash switches the camera flash LED.
func (c *Client) SetFlash(ctx context.Context, on bool) error {
	state := "off"
	if on {
		state = "on"
	}

	ctx, cancel := context.WithTimeout(ctx, flashTimeout)
	defer cancel()

	_, _, err := c.get(ctx, "/flash?state="+state)
	return err
}

// CaptureWithFlash takes a photo with the flash LED lit. The flash is
// best-effort: a failing flash never blocks the capture, and it is
// always restored afterwards.
func (c *Client) CaptureWithFlash(ctx context.Context) ([]byte, error) {
	c.SetFlash(ctx, true) //nolint:errcheck

	photo, err := c.Capture(ctx)

	// Restore with a fresh context so a canceled capture cannot
	// leave the flash lit.
	offCtx, cancel := context.WithTimeout(context.Background(), flashTimeout)
	defer cancel()
	c.SetFlash(offCtx, false) //nolint:errcheck

	return photo, err
}

// Status fetches the camera's status report.
func (c *Client) Status(ctx context.Context) (Status, error) {
	body, _, err := c.get(ctx, "/status")
	if err != nil {
		return Status{}, err
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return Status{}, fmt.Errorf("unmarshal status: %w", err)
	}
	return status, nil
}

// Photo is a file on the camera SD card.
type Photo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// UnmarshalJSON accepts both photo objects and bare name strings.
func (p *Photo) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.Name)
	}

	var raw struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name = raw.Name
	p.Size = raw.Size
	return nil
}

// Photos lists the photos stored on the camera SD card.
func (c *Client) Photos(ctx context.Context) ([]Photo, error) {
	body, _, err := c.get(ctx, "/photos")
	if err != nil {
		return nil, err
	}

	// Some firmware versions send a bare array, others wrap it.
	var photos []Photo
	if err := json.Unmarshal(body, &photos); err == nil {
		return photos, nil
	}

	var wrapped struct {
		Photos []Photo `json:"photos"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal photo list: %w", err)
	}
	return wrapped.Photos, nil
}

// Photo downloads a photo from the camera SD card.
func (c *Client) Photo(ctx context.Context, name string) ([]byte, error) {
	body, contentType, err := c.get(ctx, "/photo?name="+url.QueryEscape(name))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, contentType)
	}
	return body, nil
}

// DailyPhoto returns today's photo from the camera SD card, falling
// back to a live capture when the listing is unavailable or nothing
// matches today's date.
func (c *Client) DailyPhoto(ctx context.Context) ([]byte, string, error) {
	today := time.Now().Format("2006-01-02")

	if photos, err := c.Photos(ctx); err == nil {
		for _, photo := range photos {
			if !strings.Contains(photo.Name, today) {
				continue
			}
			data, err := c.Photo(ctx, photo.Name)
			if err != nil {
				continue
			}
			return data, photo.Name, nil
		}
	}

	data, err := c.Capture(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("live capture fallback: %w", err)
	}
	return data, "daily_" + today + ".jpg", nil
}
