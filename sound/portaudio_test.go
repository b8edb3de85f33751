package sound

import (
	"testing"

	"github.com/d1nch8g/linecue/decode"
)

func newTestStream(samples ...int16) *portaudioStream {
	return &portaudioStream{
		pcm:  &decode.PCM{Samples: samples, Channels: 1, SampleRate: 8000},
		done: make(chan struct{}),
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestProcessCopiesSamplesAndSignalsEnd(t *testing.T) {
	t.Parallel()

	s := newTestStream(1, 2, 3, 4, 5)
	out := make([]int16, 3)

	s.process(out)
	if out[0] != 1 || out[2] != 3 {
		t.Fatalf("unexpected first buffer: %v", out)
	}
	if isClosed(s.Done()) {
		t.Fatalf("stream ended early")
	}

	s.process(out)
	if out[0] != 4 || out[1] != 5 || out[2] != 0 {
		t.Fatalf("expected zero-filled tail, got %v", out)
	}
	if !isClosed(s.Done()) {
		t.Fatalf("expected done after last sample")
	}

	s.process(out)
	for _, v := range out {
		if v != 0 {
			t.Fatalf("expected silence after end, got %v", out)
		}
	}
}

func TestProcessOutputsSilenceWhilePaused(t *testing.T) {
	t.Parallel()

	s := newTestStream(7, 7, 7, 7)
	out := make([]int16, 2)

	s.SetPaused(true)
	s.process(out)
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("expected silence while paused, got %v", out)
	}

	s.SetPaused(false)
	s.process(out)
	if out[0] != 7 {
		t.Fatalf("expected playback to resume from the start, got %v", out)
	}
	if s.pos != 2 {
		t.Fatalf("expected position 2, got %d", s.pos)
	}
}
