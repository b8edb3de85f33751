package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortaudioDevices enumerates output devices through PortAudio.
type PortaudioDevices struct{}

var _ DeviceLister = (*PortaudioDevices)(nil)

func NewPortaudioDevices() *PortaudioDevices {
	return &PortaudioDevices{}
}

func (p *PortaudioDevices) Initialize() error {
	return portaudio.Initialize()
}

func (p *PortaudioDevices) Terminate() {
	portaudio.Terminate()
}

func (p *PortaudioDevices) OutputDevices() ([]OutputDevice, error) {
	_, devices, err := p.scan()
	return devices, err
}

// Lookup resolves an identity to the PortAudio device used to open streams.
func (p *PortaudioDevices) Lookup(identity string) (*portaudio.DeviceInfo, error) {
	infos, devices, err := p.scan()
	if err != nil {
		return nil, err
	}

	dev, err := Resolve(devices, identity)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Index == dev.Index {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, identity)
}

func (p *PortaudioDevices) scan() ([]*portaudio.DeviceInfo, []OutputDevice, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list audio devices: %w", err)
	}

	raw := make([]Device, 0, len(infos))
	for _, info := range infos {
		hostAPI := ""
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}
		raw = append(raw, Device{
			Index:             info.Index,
			Name:              info.Name,
			HostAPI:           hostAPI,
			Channels:          info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}

	return infos, AssignIDs(raw), nil
}
