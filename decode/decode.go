package decode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for files whose format cannot be decoded.
var ErrUnsupported = errors.New("unsupported audio format")

// PCM holds a fully decoded clip as interleaved signed 16-bit samples.
type PCM struct {
	Samples    []int16
	Channels   int
	SampleRate int
}

// Frames returns the number of sample frames in the clip.
func (p *PCM) Frames() int {
	if p == nil || p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Mix returns the clip remixed to the requested channel count.
// Downmixing averages all source channels; upmixing duplicates mono.
func (p *PCM) Mix(channels int) *PCM {
	if channels <= 0 || channels == p.Channels {
		return p
	}

	frames := p.Frames()
	out := make([]int16, frames*channels)
	for f := 0; f < frames; f++ {
		src := p.Samples[f*p.Channels : (f+1)*p.Channels]
		if channels == 1 {
			var sum int
			for _, s := range src {
				sum += int(s)
			}
			out[f] = int16(sum / len(src))
			continue
		}
		for c := 0; c < channels; c++ {
			out[f*channels+c] = src[c%len(src)]
		}
	}

	return &PCM{Samples: out, Channels: channels, SampleRate: p.SampleRate}
}

// Decoder turns an audio file into PCM.
type Decoder interface {
	// Check verifies the file exists and looks decodable without decoding it fully.
	Check(path string) error

	// Open decodes the whole file.
	Open(path string) (*PCM, error)
}

// FileDecoder dispatches on file extension to the MP3 and WAV decoders.
type FileDecoder struct{}

var _ Decoder = FileDecoder{}

func (FileDecoder) Check(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	switch ext(path) {
	case ".mp3":
		_, err = newMP3Reader(f)
	case ".wav":
		_, err = newWAVReader(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	return err
}

func (FileDecoder) Open(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	switch ext(path) {
	case ".mp3":
		return decodeMP3(f)
	case ".wav":
		return decodeWAV(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
