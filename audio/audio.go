// Package audio abstracts the platform capture device behind a small
// acquire/start/stop/release surface so the capture loop can cycle device
// handles without knowing the backend.
package audio

import (
	"errors"
	"strings"
)

const WAVHeaderSize = 44

// ErrPermissionDenied marks capture-permission failures. They are fatal to a
// streaming run, unlike ordinary device hiccups which are retried.
var ErrPermissionDenied = errors.New("audio: capture permission denied")

var permissionHints = []string{
	"permission denied",
	"access denied",
	"not permitted",
	"unauthorized",
}

// PermissionDenied reports whether err is a capture-permission failure,
// either the sentinel or a backend error carrying a recognizable message.
func PermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, hint := range permissionHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name. Bluetooth headset mics run a
// low-bitrate codec during calls, which degrades analysis quality.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
