package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/d1nch8g/linecue/decode"
	"github.com/d1nch8g/linecue/engine"
	"github.com/d1nch8g/linecue/sound"
)

type fakeStream struct {
	once sync.Once
	done chan struct{}
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

func (s *fakeStream) Stop(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) SetPaused(bool) {}

type fakePlayer struct{}

func (fakePlayer) Start(source, device string) (sound.Stream, error) {
	return &fakeStream{done: make(chan struct{})}, nil
}

type fakeDecoder struct{}

func (fakeDecoder) Check(string) error                { return nil }
func (fakeDecoder) Open(string) (*decode.PCM, error) { return nil, decode.ErrUnsupported }

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()

	eng := engine.NewEngine(engine.EngineConfig{SlotCount: 2}, fakePlayer{}, fakeDecoder{},
		engine.WithLogger(log.New(io.Discard, "", 0)))
	t.Cleanup(eng.Close)

	var out bytes.Buffer
	return New(eng, &out), &out
}

func TestExecDrivesSlot(t *testing.T) {
	t.Parallel()

	c, out := newTestConsole(t)
	ctx := context.Background()

	for _, line := range []string{
		"bind-output 1 ALSA/Jabra Evolve 20",
		"add 1 /clips/step one.mp3",
		"add 1 /clips/step two.mp3",
		"next 1",
	} {
		if err := c.Exec(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}

	text := out.String()
	for _, want := range []string{"ALSA/Jabra Evolve 20", "queued #2 step two.mp3", "Slot 1", "PLAYING", "1/2"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestExecErrors(t *testing.T) {
	t.Parallel()

	c, _ := newTestConsole(t)
	ctx := context.Background()

	if err := c.Exec(ctx, "next 5"); !errors.Is(err, engine.ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
	if err := c.Exec(ctx, "next one"); !errors.Is(err, engine.ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
	if err := c.Exec(ctx, "dance 1"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := c.Exec(ctx, "say 1 hello"); !errors.Is(err, engine.ErrSpeechUnavailable) {
		t.Fatalf("expected ErrSpeechUnavailable, got %v", err)
	}
	if err := c.Exec(ctx, "quit"); !errors.Is(err, ErrQuit) {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
	if err := c.Exec(ctx, "   "); err != nil {
		t.Fatalf("blank line: %v", err)
	}
}

func TestBindInputWarnsOnTransfer(t *testing.T) {
	t.Parallel()

	c, out := newTestConsole(t)
	ctx := context.Background()

	if err := c.Exec(ctx, "bind-input 1 /dev/hidraw2"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := c.Exec(ctx, "bind-input 2 /dev/hidraw2"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !strings.Contains(out.String(), "moved from slot 1 to slot 2") {
		t.Fatalf("expected transfer warning, got:\n%s", out.String())
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	t.Parallel()

	c, out := newTestConsole(t)
	in := strings.NewReader("status\nbogus\nquit\nstatus 1\n")

	if err := c.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Slot 2") || !strings.Contains(text, "unknown command") {
		t.Fatalf("unexpected output:\n%s", text)
	}
	if strings.Count(text, "Slot 1") != 1 {
		t.Fatalf("commands after quit must not run:\n%s", text)
	}
}
