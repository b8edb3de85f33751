package sound

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/d1nch8g/linecue/decode"
)

// DeviceLookup resolves an output identity to a PortAudio device.
type DeviceLookup interface {
	Lookup(identity string) (*portaudio.DeviceInfo, error)
}

type PortaudioPlayer struct {
	config  PlayerConfig
	devices DeviceLookup
	decoder decode.Decoder
}

var _ Player = (*PortaudioPlayer)(nil)

func NewPortaudioPlayer(config PlayerConfig, devices DeviceLookup, decoder decode.Decoder) *PortaudioPlayer {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = GetDefaultConfig().FramesPerBuffer
	}
	return &PortaudioPlayer{
		config:  config,
		devices: devices,
		decoder: decoder,
	}
}

func (p *PortaudioPlayer) Start(source, device string) (Stream, error) {
	info, err := p.devices.Lookup(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	pcm, err := p.decoder.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source, err)
	}

	channels := pcm.Channels
	if info.MaxOutputChannels < channels {
		channels = info.MaxOutputChannels
	}
	pcm = pcm.Mix(channels)

	s := &portaudioStream{
		pcm:  pcm,
		done: make(chan struct{}),
	}

	params := portaudio.HighLatencyParameters(nil, info)
	params.Output.Channels = channels
	params.SampleRate = float64(pcm.SampleRate)
	params.FramesPerBuffer = p.config.FramesPerBuffer

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open stream on %s: %v", ErrDeviceUnavailable, device, err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: failed to start stream on %s: %v", ErrDeviceUnavailable, device, err)
	}

	return s, nil
}

type portaudioStream struct {
	stream *portaudio.Stream
	pcm    *decode.PCM

	mu     sync.Mutex
	pos    int
	paused bool
	ended  bool

	done     chan struct{}
	doneOnce sync.Once

	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{}
}

// process runs on the PortAudio callback thread.
func (s *portaudioStream) process(out []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	if !s.paused && !s.ended {
		n = copy(out, s.pcm.Samples[s.pos:])
		s.pos += n
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}

	if !s.ended && s.pos >= len(s.pcm.Samples) {
		s.ended = true
		s.finish()
	}
}

func (s *portaudioStream) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *portaudioStream) Done() <-chan struct{} {
	return s.done
}

func (s *portaudioStream) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *portaudioStream) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopped = make(chan struct{})
		go func() {
			defer close(s.stopped)
			err := s.stream.Stop()
			if cerr := s.stream.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				s.stopErr = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
			}
			s.finish()
		}()
	})

	select {
	case <-s.stopped:
		return s.stopErr
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStopTimeout, ctx.Err())
	}
}
