// SPDX-License-Identifier: GPL-2.0-or-later

package camera

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the camera's status report. Fields the firmware did not
// send are zero.
type Status struct {
	HeapFree  int64
	PsramFree int64
	RSSI      int
	SSID      string
	Uptime    time.Duration

	SDMounted bool
	SDTotalMB int64
	SDUsedMB  int64
	SDFreeMB  int64
}

// UnmarshalJSON accepts the key spellings used across firmware
// versions.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw struct {
		HeapFree      *int64 `json:"heap_free"`
		FreeHeap      *int64 `json:"free_heap"`
		FreeHeapCamel *int64 `json:"freeHeap"`

		PsramFree      *int64 `json:"psram_free"`
		FreePsram      *int64 `json:"free_psram"`
		FreePsramCamel *int64 `json:"freePsram"`

		WifiRSSI *int `json:"wifi_rssi"`
		RSSI     *int `json:"rssi"`

		WifiSSID *string `json:"wifi_ssid"`
		SSID     *string `json:"ssid"`

		Uptime *int64 `json:"uptime"`

		SDMounted *bool  `json:"sdInitialized"`
		SDTotalMB *int64 `json:"sdTotal"`
		SDUsedMB  *int64 `json:"sdUsed"`
		SDFreeMB  *int64 `json:"sdFree"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.HeapFree = firstInt64(raw.HeapFree, raw.FreeHeap, raw.FreeHeapCamel)
	s.PsramFree = firstInt64(raw.PsramFree, raw.FreePsram, raw.FreePsramCamel)

	if raw.WifiRSSI != nil {
		s.RSSI = *raw.WifiRSSI
	} else if raw.RSSI != nil {
		s.RSSI = *raw.RSSI
	}

	if raw.WifiSSID != nil {
		s.SSID = *raw.WifiSSID
	} else if raw.SSID != nil {
		s.SSID = *raw.SSID
	}

	if raw.Uptime != nil {
		s.Uptime = time.Duration(*raw.Uptime) * time.Second
	}

	if raw.SDMounted != nil {
		s.SDMounted = *raw.SDMounted
	}
	s.SDTotalMB = firstInt64(raw.SDTotalMB)
	s.SDUsedMB = firstInt64(raw.SDUsedMB)
	s.SDFreeMB = firstInt64(raw.SDFreeMB)

	return nil
}

func firstInt64(values ...*int64) int64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

// RSSIQuality is a human readable signal strength label.
func (s Status) RSSIQuality() string {
	switch {
	case s.RSSI > -60:
		return "excellent"
	case s.RSSI > -70:
		return "good"
	case s.RSSI > -80:
		return "fair"
	default:
		return "weak"
	}
}

// UptimeString formats the uptime as "1h 2m 3s".
func (s Status) UptimeString() string {
	seconds := int(s.Uptime.Seconds())
	return fmt.Sprintf("%dh %dm %ds", seconds/3600, seconds%3600/60, seconds%60)
}
