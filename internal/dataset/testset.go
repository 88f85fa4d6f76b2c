package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// TestSet is the fixed evaluation set: utterances of the source speaker
// converted to the target speaker at every sample step.
type TestSet struct {
	Source      string
	Target      string
	SourceLabel int
	TargetLabel int
	Utterances  []Utterance
	TargetStats Stats
	wavDir      string
}

func LoadTestSet(
	ctx context.Context,
	logger *slog.Logger,
	testDir string,
	wavDir string,
	source, target string,
	speakers *SpeakerIndex,
	workers int,
) (*TestSet, error) {
	sourceLabel, ok := speakers.Label(source)
	if !ok {
		return nil, fmt.Errorf("dataset: source speaker %q is not in the training set %v", source, speakers.IDs())
	}
	targetLabel, ok := speakers.Label(target)
	if !ok {
		return nil, fmt.Errorf("dataset: target speaker %q is not in the training set %v", target, speakers.IDs())
	}
	utterances, err := LoadUtterances(ctx, logger, testDir, workers, source)
	if err != nil {
		return nil, err
	}
	stats, err := ReadStats(StatsPath(testDir, target))
	if err != nil {
		return nil, err
	}
	for i := range utterances {
		if utterances[i].Dim != len(stats.Mean) {
			return nil, fmt.Errorf("dataset: utterance %q has dimension %v, stats of %v have %v",
				utterances[i].Name, utterances[i].Dim, target, len(stats.Mean))
		}
	}
	return NewTestSet(source, target, sourceLabel, targetLabel, utterances, stats, wavDir), nil
}

// NewTestSet builds an evaluation set from utterances already in memory.
func NewTestSet(source, target string, sourceLabel, targetLabel int, utterances []Utterance, targetStats Stats, wavDir string) *TestSet {
	return &TestSet{
		Source:      source,
		Target:      target,
		SourceLabel: sourceLabel,
		TargetLabel: targetLabel,
		Utterances:  utterances,
		TargetStats: targetStats,
		wavDir:      wavDir,
	}
}

// ReferenceWav returns the recording of an utterance, laid out as
// <wav_dir>/<speaker>/<name>.wav.
func (t *TestSet) ReferenceWav(u *Utterance) (string, bool) {
	if t.wavDir == "" {
		return "", false
	}
	var path = filepath.Join(t.wavDir, u.Speaker, u.Name+".wav")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// SamplePath names converted output, for example
// 1000-p262_001-p262-to-p272.mcep.
func (t *TestSet) SamplePath(dir string, iteration int, u *Utterance, suffix string) string {
	return filepath.Join(dir, fmt.Sprintf("%v-%v-%v-to-%v%v", iteration, u.Name, t.Source, t.Target, suffix))
}
