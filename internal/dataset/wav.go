package dataset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const bitsPerSample = 16

var errNotWav = errors.New("not a 16-bit PCM WAV file")

// ReadWav decodes a 16-bit PCM WAV file into samples in [-1, 1]. Stereo is
// downmixed to mono.
func ReadWav(path string) ([]float64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("dataset: %w", err)
	}
	samples, rate, err := decodeWav(data)
	if err != nil {
		return nil, 0, fmt.Errorf("dataset: %v: %w", path, err)
	}
	return samples, rate, nil
}

func decodeWav(data []byte) ([]float64, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errNotWav
	}
	var channels, sampleRate int
	var pcm []byte
	var r = bytes.NewReader(data[12:])
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		var id = string(header[0:4])
		var size = int(binary.LittleEndian.Uint32(header[4:8]))
		if size > r.Len() {
			return nil, 0, fmt.Errorf("chunk %q is truncated", id)
		}
		var body = make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, 0, err
		}
		if size%2 == 1 {
			r.ReadByte()
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errNotWav
			}
			var format = binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			var bits = binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != bitsPerSample || channels < 1 || channels > 2 {
				return nil, 0, errNotWav
			}
		case "data":
			pcm = body
		}
	}
	if channels == 0 || pcm == nil {
		return nil, 0, errNotWav
	}
	var frames = len(pcm) / (2 * channels)
	var samples = make([]float64, frames)
	for i := range samples {
		var sum float64
		for c := 0; c < channels; c++ {
			var offset = 2 * (i*channels + c)
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[offset:]))) / 32768.0
		}
		samples[i] = sum / float64(channels)
	}
	return samples, sampleRate, nil
}

// WriteWav stores mono samples as 16-bit PCM.
func WriteWav(path string, samples []float64, sampleRate int) error {
	var dataSize = 2 * len(samples)
	var buf = make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1:
			v = 32767
		case s <= -1:
			v = -32768
		default:
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(buf[44+2*i:], uint16(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	return nil
}
