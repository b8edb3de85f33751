package sound

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned when the output device cannot start or stop a stream.
	ErrDeviceUnavailable = errors.New("output device unavailable")

	// ErrStopTimeout is returned when a stream does not confirm it is idle in time.
	ErrStopTimeout = errors.New("stream did not stop in time")
)

// Player defines the interface for audio playback
type Player interface {
	// Start decodes source and begins playing it on the given output device.
	Start(source, device string) (Stream, error)
}

// Stream is a single clip playing on one device.
type Stream interface {
	// Done is closed when the stream ends, naturally or after Stop.
	Done() <-chan struct{}

	// Stop halts playback and returns once the device is idle or ctx expires.
	Stop(ctx context.Context) error

	// SetPaused outputs silence while paused without losing position.
	SetPaused(paused bool)
}

// PlayerConfig holds stream parameters shared by every output.
type PlayerConfig struct {
	FramesPerBuffer int
}

func GetDefaultConfig() PlayerConfig {
	return PlayerConfig{
		FramesPerBuffer: 1024,
	}
}
