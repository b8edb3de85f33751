package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	maxChunkSize     = 256 * 1024 * 1024
	maxDataChunkSize = 500 * 1024 * 1024
)

type wavHeader struct {
	channels   int
	sampleRate int
	bitDepth   int
	dataSize   uint32
	// streamed headers carry no usable data size; samples run to EOF.
	streamed bool
}

// newWAVReader walks the RIFF chunks up to the start of "data" and leaves r
// positioned at the first sample.
func newWAVReader(r io.Reader) (*wavHeader, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: wav: read header: %v", ErrUnsupported, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: wav: invalid header", ErrUnsupported)
	}

	var (
		h         wavHeader
		fmtParsed bool
	)

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			return nil, fmt.Errorf("wav: read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])
		if chunkID != "data" && chunkSize > maxChunkSize {
			return nil, fmt.Errorf("wav: chunk %s too large (%d bytes)", strings.TrimSpace(chunkID), chunkSize)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, errors.New("wav: invalid fmt chunk")
			}
			payload := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			if audioFmt := binary.LittleEndian.Uint16(payload[0:2]); audioFmt != 1 {
				return nil, fmt.Errorf("%w: wav format %d", ErrUnsupported, audioFmt)
			}
			h.channels = int(binary.LittleEndian.Uint16(payload[2:4]))
			h.sampleRate = int(binary.LittleEndian.Uint32(payload[4:8]))
			h.bitDepth = int(binary.LittleEndian.Uint16(payload[14:16]))
			if h.channels == 0 || h.sampleRate == 0 {
				return nil, errors.New("wav: invalid format values")
			}
			if h.bitDepth != 16 {
				return nil, fmt.Errorf("%w: wav bit depth %d", ErrUnsupported, h.bitDepth)
			}
			if chunkSize%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return nil, fmt.Errorf("wav: skip fmt padding: %w", err)
				}
			}
			fmtParsed = true
		case "data":
			if !fmtParsed {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			if chunkSize == 0 || chunkSize == 0xFFFFFFFF {
				h.streamed = true
				return &h, nil
			}
			if chunkSize > maxDataChunkSize {
				return nil, fmt.Errorf("wav: data chunk too large (%d bytes)", chunkSize)
			}
			h.dataSize = chunkSize
			return &h, nil
		default:
			skip := int64(chunkSize)
			if skip%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("wav: skip chunk %s: %w", strings.TrimSpace(chunkID), err)
			}
		}
	}
}

func decodeWAV(r io.Reader) (*PCM, error) {
	h, err := newWAVReader(r)
	if err != nil {
		return nil, err
	}

	var data []byte
	if h.streamed {
		data, err = io.ReadAll(io.LimitReader(r, maxDataChunkSize))
		if err != nil {
			return nil, fmt.Errorf("wav: read data: %w", err)
		}
	} else {
		data = make([]byte, h.dataSize)
		n, err := io.ReadFull(r, data)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("wav: read data: %w", err)
		}
		data = data[:n]
	}
	// Truncated files play what they have.
	data = data[:len(data)-len(data)%(2*h.channels)]

	return &PCM{
		Samples:    bytesToSamples(data),
		Channels:   h.channels,
		SampleRate: h.sampleRate,
	}, nil
}

// EncodeWAV writes PCM16 samples as a canonical 44-byte-header WAV file.
func EncodeWAV(w io.Writer, pcm *PCM) error {
	dataSize := uint32(len(pcm.Samples) * 2)
	blockAlign := uint16(pcm.Channels * 2)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(pcm.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(pcm.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(pcm.SampleRate)*uint32(blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}

	payload := make([]byte, dataSize)
	for i, s := range pcm.Samples {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wav: write data: %w", err)
	}
	return nil
}
