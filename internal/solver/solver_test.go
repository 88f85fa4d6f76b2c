package solver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ChizhovVadim/StarganVC/internal/checkpoint"
	"github.com/ChizhovVadim/StarganVC/internal/config"
	"github.com/ChizhovVadim/StarganVC/internal/dataset"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeBatches struct {
	rnd   *rand.Rand
	size  int
	dim   int
	calls int
	nan   bool
}

func (f *fakeBatches) Next(ctx context.Context) (*dataset.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls++
	var b = &dataset.Batch{}
	for i := 0; i < f.size; i++ {
		var x = make([]float64, f.dim)
		for k := range x {
			x[k] = f.rnd.NormFloat64()
			if f.nan {
				x[k] = math.NaN()
			}
		}
		b.Features = append(b.Features, x)
		b.Labels = append(b.Labels, i%2)
	}
	return b, nil
}

func testConfig(t *testing.T) config.Config {
	var root = t.TempDir()
	var cfg = config.Default()
	cfg.NumSpeakers = 2
	cfg.NumMcep = 2
	cfg.SegmentFrames = 2
	cfg.GHidden = 4
	cfg.DHidden = 4
	cfg.BatchSize = 3
	cfg.NCritic = 3
	cfg.NumIters = 1
	cfg.NumItersDecay = 0
	cfg.Threads = 2
	cfg.LogStep = 1
	cfg.SampleStep = 1000
	cfg.ModelSaveStep = 1000
	cfg.LrUpdateStep = 1000
	cfg.LogDir = filepath.Join(root, "logs")
	cfg.ModelSaveDir = filepath.Join(root, "models")
	cfg.SampleDir = filepath.Join(root, "samples")
	for _, dir := range cfg.OutputDirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func newTestSolver(cfg config.Config, batches BatchSource, testSet *dataset.TestSet) *Solver {
	return New(cfg, cfg.RuntimeOptions("test"), batches, testSet,
		checkpoint.NewStore(cfg.ModelSaveDir), nil, testLogger)
}

func newBatches(cfg config.Config) *fakeBatches {
	return &fakeBatches{rnd: rand.New(rand.NewSource(1)), size: cfg.BatchSize, dim: cfg.FeatureSize()}
}

func checkpointFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, de := range entries {
		names = append(names, de.Name())
	}
	return names
}

func TestSingleIteration(t *testing.T) {
	var cfg = testConfig(t)
	var batches = newBatches(cfg)
	var s = newTestSolver(cfg, batches, nil)
	if err := s.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	var stats = s.Stats()
	if stats.DiscriminatorSteps != cfg.NCritic || stats.GeneratorSteps != 1 {
		t.Errorf("stats %+v", stats)
	}
	if batches.calls != cfg.NCritic {
		t.Errorf("loader called %v times", batches.calls)
	}
	if files := checkpointFiles(t, cfg.ModelSaveDir); len(files) != 0 {
		t.Errorf("unexpected checkpoints %v", files)
	}
}

func TestLearningRateDecay(t *testing.T) {
	var cfg = testConfig(t)
	cfg.NCritic = 1
	cfg.NumIters = 10
	cfg.NumItersDecay = 4
	cfg.LrUpdateStep = 2
	cfg.LogStep = 5
	var s = newTestSolver(cfg, newBatches(cfg), nil)
	if err := s.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	// decays after iterations 8 and 10
	var gLR, dLR = s.LearningRates()
	if math.Abs(gLR-cfg.GLR/2) > 1e-12 || math.Abs(dLR-cfg.DLR/2) > 1e-12 {
		t.Errorf("learning rates %v %v", gLR, dLR)
	}
}

func TestLearningRateClampedAtZero(t *testing.T) {
	var cfg = testConfig(t)
	cfg.NCritic = 1
	cfg.NumIters = 3
	cfg.NumItersDecay = 1
	cfg.LrUpdateStep = 1
	var s = newTestSolver(cfg, newBatches(cfg), nil)
	// resume from a decayed state, so one more decay would go negative
	s.gOpt.LearningRate = cfg.GLR / 2
	if err := s.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	var gLR, dLR = s.LearningRates()
	if gLR != 0 || dLR != 0 {
		t.Errorf("learning rates %v %v", gLR, dLR)
	}
}

func TestSaveAndResume(t *testing.T) {
	var cfg = testConfig(t)
	cfg.NCritic = 1
	cfg.NumIters = 4
	cfg.ModelSaveStep = 2
	var first = newTestSolver(cfg, newBatches(cfg), nil)
	if err := first.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	var files = checkpointFiles(t, cfg.ModelSaveDir)
	if len(files) != 4 {
		t.Fatalf("checkpoints %v", files)
	}
	latest, err := checkpoint.NewStore(cfg.ModelSaveDir).Latest()
	if err != nil || latest != 4 {
		t.Fatalf("Latest = %v, %v", latest, err)
	}

	var resume = 2
	cfg.ResumeIters = &resume
	var second = newTestSolver(cfg, newBatches(cfg), nil)
	if err := second.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stats := second.Stats(); stats.GeneratorSteps != 2 || stats.DiscriminatorSteps != 2 {
		t.Errorf("stats after resume %+v", stats)
	}
	if second.gOpt.Step != 4 || second.dOpt.Step != 4 {
		t.Errorf("optimizer steps %v %v", second.gOpt.Step, second.dOpt.Step)
	}

	var missing = 3
	cfg.ResumeIters = &missing
	var third = newTestSolver(cfg, newBatches(cfg), nil)
	err = third.Train(context.Background())
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("resume from missing checkpoint: %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "latest saved iteration is 4") {
		t.Errorf("error does not name the latest checkpoint: %v", err)
	}
}

func TestResumeKeepsConfiguredBetas(t *testing.T) {
	var cfg = testConfig(t)
	cfg.NCritic = 1
	cfg.NumIters = 2
	cfg.ModelSaveStep = 1
	if err := newTestSolver(cfg, newBatches(cfg), nil).Train(context.Background()); err != nil {
		t.Fatal(err)
	}

	var resume = 1
	cfg.ResumeIters = &resume
	cfg.Beta1 = 0.9
	var buf bytes.Buffer
	var logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	var s = New(cfg, cfg.RuntimeOptions("test"), newBatches(cfg), nil,
		checkpoint.NewStore(cfg.ModelSaveDir), nil, logger)
	if err := s.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.gOpt.Beta1 != 0.9 || s.dOpt.Beta1 != 0.9 {
		t.Errorf("betas %v %v", s.gOpt.Beta1, s.dOpt.Beta1)
	}
	if !strings.Contains(buf.String(), "checkpoint betas differ") {
		t.Errorf("no warning logged:\n%s", buf.String())
	}
}

func TestDiverged(t *testing.T) {
	var cfg = testConfig(t)
	var batches = newBatches(cfg)
	batches.nan = true
	var s = newTestSolver(cfg, batches, nil)
	if err := s.Train(context.Background()); !errors.Is(err, ErrDiverged) {
		t.Errorf("Train = %v", err)
	}
}

func TestCanceled(t *testing.T) {
	var cfg = testConfig(t)
	var ctx, cancel = context.WithCancel(context.Background())
	cancel()
	var s = newTestSolver(cfg, newBatches(cfg), nil)
	if err := s.Train(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Train = %v", err)
	}
}

func TestThreadsGiveSameResult(t *testing.T) {
	var outputs [][]float64
	for _, threads := range []int{1, 3} {
		var cfg = testConfig(t)
		cfg.Threads = threads
		cfg.BatchSize = 8
		var s = newTestSolver(cfg, newBatches(cfg), nil)
		if err := s.Train(context.Background()); err != nil {
			t.Fatal(err)
		}
		var x = []float64{0.5, -0.5, 1, 0}
		outputs = append(outputs, append([]float64(nil), s.g.Forward(s.g.NewTape(), x, 1)...))
	}
	for i := range outputs[0] {
		if math.Abs(outputs[0][i]-outputs[1][i]) > 1e-3 {
			t.Errorf("output %v: %v vs %v", i, outputs[0][i], outputs[1][i])
		}
	}
}

func testSet(t *testing.T) *dataset.TestSet {
	var wavDir = t.TempDir()
	var u = dataset.Utterance{Speaker: "p262", Name: "p262_001", Dim: 2}
	for i := 0; i < 5; i++ {
		u.Frames = append(u.Frames, []float32{float32(i) / 5, -float32(i) / 5})
	}
	if err := os.MkdirAll(filepath.Join(wavDir, "p262"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := dataset.WriteWav(filepath.Join(wavDir, "p262", "p262_001.wav"), []float64{0, 0.25, -0.25}, 16000); err != nil {
		t.Fatal(err)
	}
	var stats = dataset.Stats{Speaker: "p272", Mean: []float32{1, 2}, Std: []float32{1, 1}}
	return dataset.NewTestSet("p262", "p272", 0, 1, []dataset.Utterance{u}, stats, wavDir)
}

func TestSamplesDuringTraining(t *testing.T) {
	var cfg = testConfig(t)
	cfg.NCritic = 1
	cfg.NumIters = 2
	cfg.SampleStep = 2
	var s = newTestSolver(cfg, newBatches(cfg), testSet(t))
	if err := s.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	var path = filepath.Join(cfg.SampleDir, "2-p262_001-p262-to-p272.mcep")
	u, err := dataset.ReadUtterance(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Frames) != 5 || u.Speaker != "p272" {
		t.Errorf("converted utterance has %v frames, speaker %q", len(u.Frames), u.Speaker)
	}
	if _, err := os.Stat(filepath.Join(cfg.SampleDir, "2-p262_001-p262-to-p272-ref.wav")); err != nil {
		t.Error(err)
	}
}

func TestTestMode(t *testing.T) {
	var cfg = testConfig(t)
	cfg.NCritic = 1
	cfg.NumIters = 2
	cfg.ModelSaveStep = 2
	if err := newTestSolver(cfg, newBatches(cfg), nil).Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	var before = checkpointFiles(t, cfg.ModelSaveDir)

	cfg.Mode = config.ModeTest
	cfg.TestIters = 2
	var batches = newBatches(cfg)
	var s = newTestSolver(cfg, batches, testSet(t))
	if err := s.Test(context.Background()); err != nil {
		t.Fatal(err)
	}
	if batches.calls != 0 || s.Stats() != (Stats{}) {
		t.Errorf("test mode trained: %v batches, %+v", batches.calls, s.Stats())
	}
	var after = checkpointFiles(t, cfg.ModelSaveDir)
	if strings.Join(before, ",") != strings.Join(after, ",") {
		t.Errorf("checkpoints changed: %v -> %v", before, after)
	}
	var samples = checkpointFiles(t, cfg.SampleDir)
	if len(samples) != 2 {
		t.Errorf("samples %v", samples)
	}

	cfg.TestIters = 7
	if err := newTestSolver(cfg, newBatches(cfg), testSet(t)).Test(context.Background()); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Test without checkpoint = %v", err)
	}
}
