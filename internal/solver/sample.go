package solver

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ChizhovVadim/StarganVC/internal/dataset"
)

// writeSamples converts every evaluation utterance from the source to the
// target speaker and writes it next to a resampled copy of the source
// recording.
func (s *Solver) writeSamples(ctx context.Context, iteration int) error {
	if s.testSet == nil || len(s.testSet.Utterances) == 0 {
		s.logger.Warn("no evaluation utterances, samples skipped", "iteration", iteration)
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(len(s.workers))
	for i := range s.testSet.Utterances {
		var u = &s.testSet.Utterances[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.writeSample(iteration, u)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("saved samples",
		"iteration", iteration,
		"count", len(s.testSet.Utterances),
		"dir", s.cfg.SampleDir)
	return nil
}

func (s *Solver) writeSample(iteration int, u *dataset.Utterance) error {
	if u.Dim != s.cfg.NumMcep {
		return fmt.Errorf("dataset: utterance %q has dimension %v, num_mcep is %v", u.Name, u.Dim, s.cfg.NumMcep)
	}
	var ts = s.testSet
	var tape = s.g.NewTape()
	var segments = dataset.Segments(u, s.cfg.SegmentFrames)
	for i, segment := range segments {
		segments[i] = append([]float64(nil), s.g.Forward(tape, segment, ts.TargetLabel)...)
	}
	var frames = dataset.Assemble(segments, u.Dim, len(u.Frames))
	for _, frame := range frames {
		ts.TargetStats.Denormalize(frame)
	}
	var converted = dataset.Utterance{
		Speaker: ts.Target,
		Name:    u.Name,
		Dim:     u.Dim,
		Frames:  frames,
	}
	if err := dataset.WriteUtterance(ts.SamplePath(s.cfg.SampleDir, iteration, u, dataset.FeatureExt), converted); err != nil {
		return err
	}

	var wavPath, ok = ts.ReferenceWav(u)
	if !ok {
		return nil
	}
	samples, rate, err := dataset.ReadWav(wavPath)
	if err != nil {
		return err
	}
	samples, err = dataset.Resample(samples, rate, s.cfg.SamplingRate)
	if err != nil {
		return err
	}
	return dataset.WriteWav(ts.SamplePath(s.cfg.SampleDir, iteration, u, "-ref.wav"), samples, s.cfg.SamplingRate)
}
