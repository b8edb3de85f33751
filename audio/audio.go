package audio

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnknownDevice is returned when an identity matches no output device.
var ErrUnknownDevice = errors.New("unknown output device")

// OutputDevice describes one playback device as reported by the host audio API.
type OutputDevice struct {
	// ID is the stable identity used for bindings: "<host api>/<name>", with a
	// "#n" suffix when several devices share a name.
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	HostAPI           string  `json:"hostApi"`
	Index             int     `json:"index"`
	Channels          int     `json:"channels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
}

// DeviceLister defines the interface for output device enumeration
type DeviceLister interface {
	// Initialize initializes the audio system
	Initialize() error

	// Terminate terminates the audio system
	Terminate()

	// OutputDevices lists devices that can play audio
	OutputDevices() ([]OutputDevice, error)
}

// Device is the raw description of one host device before identities are assigned.
type Device struct {
	Index             int
	Name              string
	HostAPI           string
	Channels          int
	DefaultSampleRate float64
}

// AssignIDs builds output devices with binding identities, skipping devices
// without output channels. Devices sharing host API and name get "#2", "#3"...
func AssignIDs(devices []Device) []OutputDevice {
	seen := make(map[string]int)
	out := make([]OutputDevice, 0, len(devices))
	for _, d := range devices {
		if d.Channels <= 0 {
			continue
		}
		id := d.HostAPI + "/" + d.Name
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s#%d", id, n)
		}
		out = append(out, OutputDevice{
			ID:                id,
			Name:              d.Name,
			HostAPI:           d.HostAPI,
			Index:             d.Index,
			Channels:          d.Channels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out
}

// Resolve finds the device an operator-supplied identity refers to. The
// identity may be a full ID, a device index, or a device name that is unique.
func Resolve(devices []OutputDevice, identity string) (OutputDevice, error) {
	for _, d := range devices {
		if d.ID == identity {
			return d, nil
		}
	}

	if idx, err := strconv.Atoi(identity); err == nil {
		for _, d := range devices {
			if d.Index == idx {
				return d, nil
			}
		}
	}

	var (
		match OutputDevice
		count int
	)
	for _, d := range devices {
		if d.Name == identity {
			match = d
			count++
		}
	}
	switch count {
	case 0:
		return OutputDevice{}, fmt.Errorf("%w: %q", ErrUnknownDevice, identity)
	case 1:
		return match, nil
	default:
		return OutputDevice{}, fmt.Errorf("%w: %q is ambiguous, use the full id", ErrUnknownDevice, identity)
	}
}
