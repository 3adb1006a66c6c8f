// SPDX-License-Identifier: GPL-2.0-or-later

package camera

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusUnmarshal(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		expected Status
	}{
		{
			"snakeCase",
			`{"heap_free":1,"psram_free":2,"wifi_rssi":-61,"wifi_ssid":"net","uptime":3661}`,
			Status{HeapFree: 1, PsramFree: 2, RSSI: -61, SSID: "net", Uptime: 3661 * time.Second},
		},
		{
			"altSnakeCase",
			`{"free_heap":1,"free_psram":2,"rssi":-75,"ssid":"net"}`,
			Status{HeapFree: 1, PsramFree: 2, RSSI: -75, SSID: "net"},
		},
		{
			"camelCase",
			`{"freeHeap":1,"freePsram":2,"sdInitialized":true,"sdTotal":100,"sdUsed":40,"sdFree":60}`,
			Status{HeapFree: 1, PsramFree: 2, SDMounted: true, SDTotalMB: 100, SDUsedMB: 40, SDFreeMB: 60},
		},
		{"empty", `{}`, Status{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var status Status
			require.NoError(t, json.Unmarshal([]byte(tc.body), &status))
			require.Equal(t, tc.expected, status)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		var status Status
		require.Error(t, json.Unmarshal([]byte(`[]`), &status))
	})
}

func TestRSSIQuality(t *testing.T) {
	cases := []struct {
		rssi     int
		expected string
	}{
		{-50, "excellent"},
		{-59, "excellent"},
		{-60, "good"},
		{-69, "good"},
		{-70, "fair"},
		{-79, "fair"},
		{-80, "weak"},
		{-90, "weak"},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.rssi), func(t *testing.T) {
			status := Status{RSSI: tc.rssi}
			require.Equal(t, tc.expected, status.RSSIQuality())
		})
	}
}

func TestUptimeString(t *testing.T) {
	cases := []struct {
		uptime   time.Duration
		expected string
	}{
		{0, "0h 0m 0s"},
		{65 * time.Second, "0h 1m 5s"},
		{3661 * time.Second, "1h 1m 1s"},
		{100000 * time.Second, "27h 46m 40s"},
	}
	for _, tc := range cases {
		t.Run(tc.expected, func(t *testing.T) {
			status := Status{Uptime: tc.uptime}
			require.Equal(t, tc.expected, status.UptimeString())
		})
	}
}
