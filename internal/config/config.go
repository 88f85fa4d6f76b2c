// Package config holds the typed training configuration, its defaults,
// flag binding, YAML overlay and validation.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
)

const (
	DatasetVCTK    = "VCTK"
	DatasetVCC2016 = "VCC2016"

	ModeTrain = "train"
	ModeTest  = "test"
)

var (
	Datasets  = []string{DatasetVCTK, DatasetVCC2016}
	Modes     = []string{ModeTrain, ModeTest}
	LogLevels = []string{"debug", "info", "warn", "error"}
)

var ErrUnknownMode = errors.New("unknown mode")

type Config struct {
	// Model configuration.
	DatasetUsing  string  `yaml:"dataset_using"`
	NumSpeakers   int     `yaml:"num_speakers"`
	LambdaCls     float64 `yaml:"lambda_cls"`
	LambdaRec     float64 `yaml:"lambda_rec"`
	LambdaGP      float64 `yaml:"lambda_gp"`
	LambdaID      float64 `yaml:"lambda_id"`
	SamplingRate  int     `yaml:"sampling_rate"`
	NumMcep       int     `yaml:"num_mcep"`
	SegmentFrames int     `yaml:"segment_frames"`
	GHidden       int     `yaml:"g_hidden"`
	DHidden       int     `yaml:"d_hidden"`

	// Training configuration.
	BatchSize     int     `yaml:"batch_size"`
	NumIters      int     `yaml:"num_iters"`
	NumItersDecay int     `yaml:"num_iters_decay"`
	GLR           float64 `yaml:"g_lr"`
	DLR           float64 `yaml:"d_lr"`
	NCritic       int     `yaml:"n_critic"`
	Beta1         float64 `yaml:"beta1"`
	Beta2         float64 `yaml:"beta2"`
	ResumeIters   *int    `yaml:"resume_iters"`
	Seed          int64   `yaml:"seed"`

	// Test configuration.
	TestIters int `yaml:"test_iters"`

	// Miscellaneous.
	NumWorkers     int    `yaml:"num_workers"`
	Mode           string `yaml:"mode"`
	UseTensorboard bool   `yaml:"use_tensorboard"`
	LegacyBool     bool   `yaml:"legacy_bool"`
	Threads        int    `yaml:"threads"`
	MetricsAddr    string `yaml:"metrics_addr"`
	LogLevel       string `yaml:"log_level"`

	// Directories.
	TrainDataDir string `yaml:"train_data_dir"`
	TestDataDir  string `yaml:"test_data_dir"`
	WavDir       string `yaml:"wav_dir"`
	LogDir       string `yaml:"log_dir"`
	ModelSaveDir string `yaml:"model_save_dir"`
	SampleDir    string `yaml:"sample_dir"`

	// Step size.
	LogStep       int `yaml:"log_step"`
	SampleStep    int `yaml:"sample_step"`
	ModelSaveStep int `yaml:"model_save_step"`
	LrUpdateStep  int `yaml:"lr_update_step"`
}

func Default() Config {
	return Config{
		DatasetUsing:  DatasetVCTK,
		NumSpeakers:   10,
		LambdaCls:     1,
		LambdaRec:     10,
		LambdaGP:      10,
		LambdaID:      5,
		SamplingRate:  16000,
		NumMcep:       36,
		SegmentFrames: 32,
		GHidden:       256,
		DHidden:       256,

		BatchSize:     32,
		NumIters:      200000,
		NumItersDecay: 100000,
		GLR:           0.0002,
		DLR:           0.0001,
		NCritic:       5,
		Beta1:         0.5,
		Beta2:         0.999,

		TestIters: 100000,

		NumWorkers:     1,
		Mode:           ModeTrain,
		UseTensorboard: true,
		Threads:        runtime.NumCPU(),
		LogLevel:       "info",

		TrainDataDir: "./data/mc/train",
		TestDataDir:  "./data/mc/test",
		WavDir:       "./data/VCTK-Corpus/wav16",
		LogDir:       "./logs",
		ModelSaveDir: "./models",
		SampleDir:    "./samples",

		LogStep:       10,
		SampleStep:    1000,
		ModelSaveStep: 1000,
		LrUpdateStep:  1000,
	}
}

// FeatureSize is the length of one flattened training segment.
func (c *Config) FeatureSize() int {
	return c.NumMcep * c.SegmentFrames
}

// OutputDirs are the directories that must exist before training starts.
func (c *Config) OutputDirs() []string {
	return []string{c.LogDir, c.ModelSaveDir, c.SampleDir}
}

// Validate returns all violated constraints joined into one error.
func Validate(c *Config) error {
	var errs []error
	var check = func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(slices.Contains(Datasets, c.DatasetUsing), "dataset_using %q is invalid; valid values: %v", c.DatasetUsing, Datasets)
	if !slices.Contains(Modes, c.Mode) {
		errs = append(errs, fmt.Errorf("mode %q: %w; valid values: %v", c.Mode, ErrUnknownMode, Modes))
	}
	check(slices.Contains(LogLevels, c.LogLevel), "log_level %q is invalid; valid values: %v", c.LogLevel, LogLevels)

	check(c.NumSpeakers >= 2, "num_speakers must be at least 2, got %v", c.NumSpeakers)
	check(c.LambdaCls >= 0, "lambda_cls must not be negative, got %v", c.LambdaCls)
	check(c.LambdaRec >= 0, "lambda_rec must not be negative, got %v", c.LambdaRec)
	check(c.LambdaGP >= 0, "lambda_gp must not be negative, got %v", c.LambdaGP)
	check(c.LambdaID >= 0, "lambda_id must not be negative, got %v", c.LambdaID)
	check(c.SamplingRate > 0, "sampling_rate must be positive, got %v", c.SamplingRate)
	check(c.NumMcep > 0, "num_mcep must be positive, got %v", c.NumMcep)
	check(c.SegmentFrames > 0, "segment_frames must be positive, got %v", c.SegmentFrames)
	check(c.GHidden > 0, "g_hidden must be positive, got %v", c.GHidden)
	check(c.DHidden > 0, "d_hidden must be positive, got %v", c.DHidden)

	check(c.BatchSize > 0, "batch_size must be positive, got %v", c.BatchSize)
	check(c.NumIters > 0, "num_iters must be positive, got %v", c.NumIters)
	check(c.NumItersDecay >= 0 && c.NumItersDecay <= c.NumIters,
		"num_iters_decay must be in [0, num_iters=%v], got %v", c.NumIters, c.NumItersDecay)
	check(c.GLR > 0, "g_lr must be positive, got %v", c.GLR)
	check(c.DLR > 0, "d_lr must be positive, got %v", c.DLR)
	check(c.NCritic > 0, "n_critic must be positive, got %v", c.NCritic)
	check(c.Beta1 >= 0 && c.Beta1 < 1, "beta1 must be in [0, 1), got %v", c.Beta1)
	check(c.Beta2 >= 0 && c.Beta2 < 1, "beta2 must be in [0, 1), got %v", c.Beta2)
	if c.ResumeIters != nil {
		check(*c.ResumeIters >= 0 && *c.ResumeIters <= c.NumIters,
			"resume_iters must be in [0, num_iters=%v], got %v", c.NumIters, *c.ResumeIters)
	}
	check(c.TestIters >= 0, "test_iters must not be negative, got %v", c.TestIters)

	check(c.NumWorkers >= 1, "num_workers must be at least 1, got %v", c.NumWorkers)
	check(c.Threads >= 1, "threads must be at least 1, got %v", c.Threads)

	for _, dir := range []struct{ name, value string }{
		{"train_data_dir", c.TrainDataDir},
		{"test_data_dir", c.TestDataDir},
		{"wav_dir", c.WavDir},
		{"log_dir", c.LogDir},
		{"model_save_dir", c.ModelSaveDir},
		{"sample_dir", c.SampleDir},
	} {
		check(dir.value != "", "%v must not be empty", dir.name)
	}

	check(c.LogStep > 0, "log_step must be positive, got %v", c.LogStep)
	check(c.SampleStep > 0, "sample_step must be positive, got %v", c.SampleStep)
	check(c.ModelSaveStep > 0, "model_save_step must be positive, got %v", c.ModelSaveStep)
	check(c.LrUpdateStep > 0, "lr_update_step must be positive, got %v", c.LrUpdateStep)

	if len(errs) != 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RuntimeOptions are process-wide execution settings fixed at startup.
type RuntimeOptions struct {
	Threads int
	Seed    int64
	RunID   string
}

func (c *Config) RuntimeOptions(runID string) *RuntimeOptions {
	return &RuntimeOptions{
		Threads: c.Threads,
		Seed:    c.Seed,
		RunID:   runID,
	}
}
