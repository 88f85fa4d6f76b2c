// Package solver trains the StarGAN voice conversion networks and converts
// the evaluation set with a trained generator.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ChizhovVadim/StarganVC/internal/checkpoint"
	"github.com/ChizhovVadim/StarganVC/internal/config"
	"github.com/ChizhovVadim/StarganVC/internal/dataset"
	"github.com/ChizhovVadim/StarganVC/internal/metrics"
	"github.com/ChizhovVadim/StarganVC/internal/ml"
	"github.com/ChizhovVadim/StarganVC/internal/nn"
)

var ErrDiverged = errors.New("solver: training diverged")

// BatchSource blocks until the next training batch is ready.
type BatchSource interface {
	Next(ctx context.Context) (*dataset.Batch, error)
}

// Stats counts the optimizer updates done by this Solver.
type Stats struct {
	DiscriminatorSteps int
	GeneratorSteps     int
}

type Solver struct {
	cfg      config.Config
	runtime  *config.RuntimeOptions
	batches  BatchSource
	testSet  *dataset.TestSet
	store    *checkpoint.Store
	recorder metrics.Recorder
	logger   *slog.Logger

	g       *nn.Generator
	d       *nn.Discriminator
	gOpt    *ml.Adam
	dOpt    *ml.Adam
	workers []*worker
	rnd     *rand.Rand
	stats   Stats
}

func New(
	cfg config.Config,
	runtime *config.RuntimeOptions,
	batches BatchSource,
	testSet *dataset.TestSet,
	store *checkpoint.Store,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Solver {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	var rnd = rand.New(rand.NewSource(runtime.Seed))
	var featureSize = cfg.FeatureSize()
	var s = &Solver{
		cfg:      cfg,
		runtime:  runtime,
		batches:  batches,
		testSet:  testSet,
		store:    store,
		recorder: recorder,
		logger:   logger,
		g:        nn.NewGenerator(rnd, featureSize, cfg.NumSpeakers, cfg.GHidden),
		d:        nn.NewDiscriminator(rnd, featureSize, cfg.NumSpeakers, cfg.DHidden),
		gOpt:     ml.NewAdam(cfg.GLR, cfg.Beta1, cfg.Beta2),
		dOpt:     ml.NewAdam(cfg.DLR, cfg.Beta1, cfg.Beta2),
		rnd:      rnd,
	}
	s.workers = make([]*worker, max(1, runtime.Threads))
	s.workers[0] = newWorker(s.g, s.d)
	for i := 1; i < len(s.workers); i++ {
		s.workers[i] = newWorker(s.g.ThreadCopy(), s.d.ThreadCopy())
	}
	return s
}

func (s *Solver) Stats() Stats { return s.stats }

// LearningRates returns the current generator and discriminator rates.
func (s *Solver) LearningRates() (float64, float64) {
	return s.gOpt.LearningRate, s.dOpt.LearningRate
}

func (s *Solver) Train(ctx context.Context) error {
	var start = 0
	if s.cfg.ResumeIters != nil && *s.cfg.ResumeIters > 0 {
		start = *s.cfg.ResumeIters
		if err := s.restore(start); err != nil {
			return err
		}
	}

	s.logger.Info("start training",
		"start", start,
		"num_iters", s.cfg.NumIters,
		"n_critic", s.cfg.NCritic,
		"threads", len(s.workers))
	var startTime = time.Now()

	for i := start; i < s.cfg.NumIters; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var iteration = i + 1

		var batch *dataset.Batch
		var dLosses discriminatorLosses
		for k := 0; k < s.cfg.NCritic; k++ {
			var err error
			batch, err = s.batches.Next(ctx)
			if err != nil {
				return err
			}
			dLosses = s.trainDiscriminator(batch)
			if !dLosses.finite() {
				return fmt.Errorf("%w: discriminator loss %+v at iteration %v", ErrDiverged, dLosses, iteration)
			}
		}
		var gLosses = s.trainGenerator(batch)
		if !gLosses.finite() {
			return fmt.Errorf("%w: generator loss %+v at iteration %v", ErrDiverged, gLosses, iteration)
		}
		s.recorder.Iteration(ctx)

		if iteration%s.cfg.LogStep == 0 {
			s.logProgress(ctx, iteration, time.Since(startTime), dLosses, gLosses)
		}
		if iteration%s.cfg.SampleStep == 0 {
			if err := s.writeSamples(ctx, iteration); err != nil {
				return err
			}
		}
		if iteration%s.cfg.ModelSaveStep == 0 {
			if err := s.save(iteration); err != nil {
				return err
			}
		}
		if iteration%s.cfg.LrUpdateStep == 0 && iteration > s.cfg.NumIters-s.cfg.NumItersDecay {
			s.decayLearningRates()
		}
	}
	s.logger.Info("finish training",
		"elapsed", time.Since(startTime).Round(time.Second),
		"discriminator_steps", s.stats.DiscriminatorSteps,
		"generator_steps", s.stats.GeneratorSteps)
	return nil
}

// Test converts the evaluation set with the generator saved at test_iters.
func (s *Solver) Test(ctx context.Context) error {
	state, err := s.store.Load(s.cfg.TestIters, checkpoint.Generator)
	if err != nil {
		return err
	}
	if err := s.g.SetState(state, nil); err != nil {
		return fmt.Errorf("checkpoint: generator %v: %w", s.cfg.TestIters, err)
	}
	s.logger.Info("loaded generator", "iteration", s.cfg.TestIters)
	return s.writeSamples(ctx, s.cfg.TestIters)
}

func (s *Solver) decayLearningRates() {
	var n = float64(s.cfg.NumItersDecay)
	s.gOpt.LearningRate = max(0, s.gOpt.LearningRate-s.cfg.GLR/n)
	s.dOpt.LearningRate = max(0, s.dOpt.LearningRate-s.cfg.DLR/n)
	s.logger.Info("decayed learning rates",
		"g_lr", s.gOpt.LearningRate,
		"d_lr", s.dOpt.LearningRate)
}

func (s *Solver) logProgress(ctx context.Context, iteration int, elapsed time.Duration, d discriminatorLosses, g generatorLosses) {
	var scalars = []struct {
		tag   string
		value float64
	}{
		{"D/loss_real", d.Real},
		{"D/loss_fake", d.Fake},
		{"D/loss_cls", d.Cls},
		{"D/loss_gp", d.GP},
		{"D/loss", d.Total},
		{"G/loss_fake", g.Fake},
		{"G/loss_rec", g.Rec},
		{"G/loss_cls", g.Cls},
		{"G/loss_id", g.ID},
		{"G/loss", g.Total},
		{"G/lr", s.gOpt.LearningRate},
		{"D/lr", s.dOpt.LearningRate},
	}
	var attrs = make([]any, 0, 2*len(scalars)+4)
	attrs = append(attrs,
		"elapsed", elapsed.Round(time.Second),
		"iteration", fmt.Sprintf("%v/%v", iteration, s.cfg.NumIters))
	for _, sc := range scalars {
		attrs = append(attrs, sc.tag, sc.value)
		s.recorder.Scalar(ctx, sc.tag, sc.value, iteration)
	}
	s.logger.Info("training progress", attrs...)
}

func (s *Solver) save(iteration int) error {
	var gState = s.g.State(s.gOpt)
	if err := s.store.Save(iteration, checkpoint.Generator, &gState); err != nil {
		return err
	}
	var dState = s.d.State(s.dOpt)
	if err := s.store.Save(iteration, checkpoint.Discriminator, &dState); err != nil {
		return err
	}
	s.logger.Info("saved model checkpoints", "iteration", iteration)
	return nil
}

func (s *Solver) restore(iteration int) error {
	s.logger.Info("restoring trained models", "iteration", iteration)
	gState, err := s.store.Load(iteration, checkpoint.Generator)
	if err != nil {
		if latest, latestErr := s.store.Latest(); errors.Is(err, checkpoint.ErrNotFound) && latestErr == nil {
			return fmt.Errorf("%w (latest saved iteration is %v)", err, latest)
		}
		return err
	}
	s.warnBetas("generator", gState.Optimizer.Beta1, gState.Optimizer.Beta2)
	if err := s.g.SetState(gState, s.gOpt); err != nil {
		return fmt.Errorf("checkpoint: generator %v: %w", iteration, err)
	}
	dState, err := s.store.Load(iteration, checkpoint.Discriminator)
	if err != nil {
		return err
	}
	s.warnBetas("discriminator", dState.Optimizer.Beta1, dState.Optimizer.Beta2)
	if err := s.d.SetState(dState, s.dOpt); err != nil {
		return fmt.Errorf("checkpoint: discriminator %v: %w", iteration, err)
	}
	return nil
}

// warnBetas reports a checkpoint trained with other Adam betas. The
// configured betas are kept.
func (s *Solver) warnBetas(network string, beta1, beta2 float64) {
	if beta1 != s.cfg.Beta1 || beta2 != s.cfg.Beta2 {
		s.logger.Warn("checkpoint betas differ from configuration",
			"network", network,
			"checkpoint_beta1", beta1,
			"checkpoint_beta2", beta2,
			"beta1", s.cfg.Beta1,
			"beta2", s.cfg.Beta2)
	}
}
