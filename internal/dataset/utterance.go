// Package dataset reads MCEP feature files, builds training batches and the
// evaluation set, and writes converted samples.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	FeatureExt = ".mcep"
	statsExt   = "_stats.msgpack"
)

// Utterance holds normalized MCEP frames of one recording.
type Utterance struct {
	Speaker string      `msgpack:"speaker"`
	Name    string      `msgpack:"name"`
	Dim     int         `msgpack:"dim"`
	Frames  [][]float32 `msgpack:"frames"`
}

// Stats are the per-dimension normalization statistics of a speaker.
type Stats struct {
	Speaker string    `msgpack:"speaker"`
	Mean    []float32 `msgpack:"mean"`
	Std     []float32 `msgpack:"std"`
}

// SpeakerFromFilename returns the part of a file name before the first '_'.
func SpeakerFromFilename(name string) (string, bool) {
	var base = filepath.Base(name)
	var index = strings.Index(base, "_")
	if index <= 0 {
		return "", false
	}
	return base[:index], true
}

func (u *Utterance) validate() error {
	if u.Dim <= 0 {
		return fmt.Errorf("utterance %q: bad dimension %v", u.Name, u.Dim)
	}
	for i, frame := range u.Frames {
		if len(frame) != u.Dim {
			return fmt.Errorf("utterance %q: frame %v has %v values, expected %v", u.Name, i, len(frame), u.Dim)
		}
	}
	return nil
}

func ReadUtterance(path string) (Utterance, error) {
	var u Utterance
	if err := readMsgpack(path, &u); err != nil {
		return Utterance{}, err
	}
	if u.Name == "" {
		u.Name = strings.TrimSuffix(filepath.Base(path), FeatureExt)
	}
	if u.Speaker == "" {
		u.Speaker, _ = SpeakerFromFilename(u.Name)
	}
	if err := u.validate(); err != nil {
		return Utterance{}, fmt.Errorf("dataset: %v: %w", path, err)
	}
	return u, nil
}

func WriteUtterance(path string, u Utterance) error {
	return writeMsgpack(path, &u)
}

func StatsPath(dir, speaker string) string {
	return filepath.Join(dir, speaker+statsExt)
}

func ReadStats(path string) (Stats, error) {
	var s Stats
	if err := readMsgpack(path, &s); err != nil {
		return Stats{}, err
	}
	if len(s.Mean) != len(s.Std) {
		return Stats{}, fmt.Errorf("dataset: %v: mean has %v values, std %v", path, len(s.Mean), len(s.Std))
	}
	return s, nil
}

func WriteStats(path string, s Stats) error {
	return writeMsgpack(path, &s)
}

// Denormalize maps a normalized frame back to the speaker's scale in place.
func (s *Stats) Denormalize(frame []float32) {
	for i := range frame {
		frame[i] = frame[i]*s.Std[i] + s.Mean[i]
	}
}

func readMsgpack(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()
	if err := msgpack.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("dataset: decode %v: %w", path, err)
	}
	return nil
}

func writeMsgpack(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if err := msgpack.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("dataset: encode %v: %w", path, err)
	}
	return f.Close()
}
