package input

import (
	"bytes"
	"context"
	"errors"
	"strings"
)

// Key is the normalized meaning of a button press.
type Key int

const (
	KeyOther Key = iota
	KeyNext
	KeyPlayPause
)

func (k Key) String() string {
	switch k {
	case KeyNext:
		return "NEXT"
	case KeyPlayPause:
		return "PLAY_PAUSE"
	default:
		return "OTHER"
	}
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKey is the inverse of Key.String; unknown names map to KeyOther.
func ParseKey(s string) Key {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEXT":
		return KeyNext
	case "PLAY_PAUSE", "PLAYPAUSE":
		return KeyPlayPause
	default:
		return KeyOther
	}
}

// Event is one press from an identified hardware device.
type Event struct {
	DevicePath string `json:"devicePath"`
	Key        Key    `json:"key"`
}

// Source delivers events until ctx is cancelled. Implementations own their
// device handles and never close the events channel.
type Source interface {
	Run(ctx context.Context, events chan<- Event) error
}

// DeviceInfo describes an input device an operator can bind.
type DeviceInfo struct {
	Path         string `json:"path"`
	Product      string `json:"product"`
	Manufacturer string `json:"manufacturer,omitempty"`
	VendorID     uint16 `json:"vendorId,omitempty"`
	ProductID    uint16 `json:"productId,omitempty"`
	UsagePage    uint16 `json:"usagePage,omitempty"`
	Kind         string `json:"kind"`
}

// Lister enumerates bindable input devices.
type Lister interface {
	Devices() ([]DeviceInfo, error)
}

// Listers concatenates the devices of several listers. A lister that fails
// is skipped unless all of them fail.
type Listers []Lister

func (l Listers) Devices() ([]DeviceInfo, error) {
	var (
		out  []DeviceInfo
		errs []error
	)
	for _, lister := range l {
		devices, err := lister.Devices()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, devices...)
	}
	if len(errs) > 0 && len(errs) == len(l) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// MatchByName returns the first device whose product name contains, or is
// contained in, the output device name (case-insensitive).
func MatchByName(devices []DeviceInfo, outputName string) (DeviceInfo, bool) {
	want := strings.ToLower(strings.TrimSpace(outputName))
	if want == "" {
		return DeviceInfo{}, false
	}
	for _, d := range devices {
		name := strings.ToLower(strings.TrimSpace(d.Product))
		if name == "" {
			continue
		}
		if strings.Contains(want, name) || strings.Contains(name, want) {
			return d, true
		}
	}
	return DeviceInfo{}, false
}

// Consumer-control usages (HID usage page 0x0C) sent by headset buttons.
const (
	UsagePageConsumer = 0x0C
	UsagePlayPause    = 0xCD
	UsageScanNext     = 0xB5
)

// pressDetector turns a stream of HID input reports into key presses. Reports
// repeat while a button is held, so only the transition into a report that
// carries a usage counts.
type pressDetector struct {
	next, playPause bool
}

func (d *pressDetector) Feed(report []byte) (Key, bool) {
	next := bytes.IndexByte(report, UsageScanNext) >= 0
	playPause := !next && bytes.IndexByte(report, UsagePlayPause) >= 0

	defer func() { d.next, d.playPause = next, playPause }()

	switch {
	case next && !d.next:
		return KeyNext, true
	case playPause && !d.playPause:
		return KeyPlayPause, true
	default:
		return KeyOther, false
	}
}
