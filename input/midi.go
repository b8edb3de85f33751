package input

import (
	"context"
	"log"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// MIDIPathPrefix marks device paths that belong to MIDI ports.
const MIDIPathPrefix = "midi:"

// MIDIConfig holds the polling parameters of the MIDI listener.
type MIDIConfig struct {
	PollInterval time.Duration
	Logger       *log.Logger
}

// MIDISource turns foot pedals and button boxes on MIDI ports into NEXT
// presses. A driver must be registered by the caller (rtmididrv in main).
type MIDISource struct {
	config MIDIConfig
	logger *log.Logger

	mu    sync.Mutex
	stops map[string]func()
}

var (
	_ Source = (*MIDISource)(nil)
	_ Lister = (*MIDISource)(nil)
)

func NewMIDISource(config MIDIConfig) *MIDISource {
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &MIDISource{
		config: config,
		logger: logger,
		stops:  make(map[string]func()),
	}
}

func (m *MIDISource) Devices() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	for _, in := range gomidi.GetInPorts() {
		devices = append(devices, DeviceInfo{
			Path:    MIDIPathPrefix + in.String(),
			Product: in.String(),
			Kind:    "midi",
		})
	}
	return devices, nil
}

func (m *MIDISource) Run(ctx context.Context, events chan<- Event) error {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	m.scan(ctx, events)
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return ctx.Err()
		case <-ticker.C:
			m.scan(ctx, events)
		}
	}
}

func (m *MIDISource) scan(ctx context.Context, events chan<- Event) {
	seen := make(map[string]bool)

	for _, in := range gomidi.GetInPorts() {
		path := MIDIPathPrefix + in.String()
		seen[path] = true

		m.mu.Lock()
		_, exists := m.stops[path]
		m.mu.Unlock()
		if exists {
			continue
		}

		stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, timestampms int32) {
			key, ok := midiKey(msg)
			if !ok {
				return
			}
			select {
			case events <- Event{DevicePath: path, Key: key}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			m.logger.Printf("[MIDI] failed to open %s: %v", in.String(), err)
			continue
		}

		m.mu.Lock()
		m.stops[path] = stop
		m.mu.Unlock()
		m.logger.Printf("[MIDI] listening to %s", in.String())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for path, stop := range m.stops {
		if !seen[path] {
			stop()
			delete(m.stops, path)
			m.logger.Printf("[MIDI] lost %s", path)
		}
	}
}

func (m *MIDISource) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, stop := range m.stops {
		stop()
		delete(m.stops, path)
	}
}

// midiKey maps a note-on or a pedal going down (CC >= 64) to NEXT.
func midiKey(msg gomidi.Message) (Key, bool) {
	var channel, key, velocity uint8
	if msg.GetNoteOn(&channel, &key, &velocity) && velocity > 0 {
		return KeyNext, true
	}

	var controller, value uint8
	if msg.GetControlChange(&channel, &controller, &value) && value >= 64 {
		return KeyNext, true
	}
	return KeyOther, false
}

