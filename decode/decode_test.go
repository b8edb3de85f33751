package decode

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeWAV(t *testing.T, dir, name string, pcm *PCM) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	if err := EncodeWAV(f, pcm); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return path
}

func TestFileDecoderWAVRoundTrip(t *testing.T) {
	t.Parallel()

	want := &PCM{Samples: []int16{0, 1000, -1000, 32767, -32768, 7}, Channels: 2, SampleRate: 22050}
	path := writeWAV(t, t.TempDir(), "clip.wav", want)

	var dec FileDecoder
	if err := dec.Check(path); err != nil {
		t.Fatalf("check: %v", err)
	}

	got, err := dec.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got.Channels != want.Channels || got.SampleRate != want.SampleRate {
		t.Fatalf("unexpected format: %+v", got)
	}
	if len(got.Samples) != len(want.Samples) {
		t.Fatalf("expected %d samples, got %d", len(want.Samples), len(got.Samples))
	}
	for i := range want.Samples {
		if got.Samples[i] != want.Samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want.Samples[i], got.Samples[i])
		}
	}
	if got.Frames() != 3 {
		t.Fatalf("expected 3 frames, got %d", got.Frames())
	}
}

func TestFileDecoderCheckRejectsMissingAndUnknown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var dec FileDecoder

	if err := dec.Check(filepath.Join(dir, "missing.wav")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dec.Check(txt); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	bogus := filepath.Join(dir, "bogus.wav")
	if err := os.WriteFile(bogus, []byte("not-a-wav-file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dec.Check(bogus); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestDecodeWAVStreamedHeader(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := EncodeWAV(&buf, &PCM{Samples: []int16{1, 2, 3, 4}, Channels: 1, SampleRate: 8000}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := buf.Bytes()
	// Streaming encoders leave the data size unset.
	copy(raw[40:44], []byte{0xFF, 0xFF, 0xFF, 0xFF})

	pcm, err := decodeWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(pcm.Samples))
	}
}

func TestPCMMix(t *testing.T) {
	t.Parallel()

	stereo := &PCM{Samples: []int16{100, 300, -50, 50}, Channels: 2, SampleRate: 44100}

	mono := stereo.Mix(1)
	if mono.Channels != 1 || len(mono.Samples) != 2 {
		t.Fatalf("unexpected mono clip: %+v", mono)
	}
	if mono.Samples[0] != 200 || mono.Samples[1] != 0 {
		t.Fatalf("unexpected downmix: %v", mono.Samples)
	}

	back := mono.Mix(2)
	if back.Channels != 2 || back.Samples[0] != 200 || back.Samples[1] != 200 {
		t.Fatalf("unexpected upmix: %v", back.Samples)
	}

	if stereo.Mix(2) != stereo {
		t.Fatalf("expected same clip for matching channel count")
	}
}
