package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestParseBool(t *testing.T) {
	for _, s := range []string{"True", "true", "TRUE", "tRuE"} {
		if !ParseBool(s) {
			t.Error(s)
		}
	}
	for _, s := range []string{"false", "yes", "1", "", "t", "rue", "eurt", "tuer", "truee"} {
		if ParseBool(s) {
			t.Error(s)
		}
	}
}

func TestParseBoolLenient(t *testing.T) {
	for _, s := range []string{"True", "true", "t", "rue", "RU", ""} {
		if !ParseBoolLenient(s) {
			t.Error(s)
		}
	}
	// containment is ordered, so permutations of the letters are false
	for _, s := range []string{"false", "yes", "1", "eurt", "tuer", "truee"} {
		if ParseBoolLenient(s) {
			t.Error(s)
		}
	}
}

func TestDefaults(t *testing.T) {
	var cfg, err = ParseArgs(nil)
	if err != nil {
		t.Fatal(err)
	}
	var expected = Config{
		DatasetUsing:   "VCTK",
		NumSpeakers:    10,
		LambdaCls:      1,
		LambdaRec:      10,
		LambdaGP:       10,
		LambdaID:       5,
		SamplingRate:   16000,
		NumMcep:        36,
		SegmentFrames:  32,
		GHidden:        256,
		DHidden:        256,
		BatchSize:      32,
		NumIters:       200000,
		NumItersDecay:  100000,
		GLR:            0.0002,
		DLR:            0.0001,
		NCritic:        5,
		Beta1:          0.5,
		Beta2:          0.999,
		TestIters:      100000,
		NumWorkers:     1,
		Mode:           "train",
		UseTensorboard: true,
		Threads:        runtime.NumCPU(),
		LogLevel:       "info",
		TrainDataDir:   "./data/mc/train",
		TestDataDir:    "./data/mc/test",
		WavDir:         "./data/VCTK-Corpus/wav16",
		LogDir:         "./logs",
		ModelSaveDir:   "./models",
		SampleDir:      "./samples",
		LogStep:        10,
		SampleStep:     1000,
		ModelSaveStep:  1000,
		LrUpdateStep:   1000,
	}
	if cfg != expected {
		t.Errorf("got %+v\nwant %+v", cfg, expected)
	}
	if cfg.ResumeIters != nil {
		t.Error("resume_iters", *cfg.ResumeIters)
	}
}

func TestParseArgs(t *testing.T) {
	var cfg, err = ParseArgs([]string{
		"--dataset_using", "VCC2016",
		"--mode", "train",
		"--num_iters", "1",
		"--num_iters_decay", "0",
		"--g_lr", "0.001",
		"--resume_iters", "0",
		"--use_tensorboard", "False",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatasetUsing != DatasetVCC2016 || cfg.NumIters != 1 || cfg.GLR != 0.001 {
		t.Errorf("%+v", cfg)
	}
	if cfg.ResumeIters == nil || *cfg.ResumeIters != 0 {
		t.Error("resume_iters", cfg.ResumeIters)
	}
	if cfg.UseTensorboard {
		t.Error("use_tensorboard")
	}
}

func TestUseTensorboardCoercion(t *testing.T) {
	for _, test := range []struct {
		args     []string
		expected bool
	}{
		{[]string{"--use_tensorboard", "TRUE"}, true},
		{[]string{"--use_tensorboard", "yes"}, false},
		{[]string{"--use_tensorboard", "rue"}, false},
		{[]string{"--use_tensorboard", "rue", "--legacy_bool"}, true},
		{[]string{"--use_tensorboard", "eurt", "--legacy_bool"}, false},
	} {
		var cfg, err = ParseArgs(test.args)
		if err != nil {
			t.Fatal(test.args, err)
		}
		if cfg.UseTensorboard != test.expected {
			t.Error(test.args, cfg.UseTensorboard)
		}
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"--unknown_option", "1"},
		{"--num_iters", "many"},
		{"--g_lr", "fast"},
		{"--resume_iters", "x"},
		{"--mode", "serve"},
		{"--dataset_using", "LibriTTS"},
		{"--log_step", "0"},
		{"--num_iters", "10", "--num_iters_decay", "20"},
		{"--resume_iters", "300000"},
		{"extra"},
	} {
		if _, err := ParseArgs(args); err == nil {
			t.Error("accepted", args)
		}
	}
}

func TestUnknownMode(t *testing.T) {
	var _, err = ParseArgs([]string{"--mode", "serve"})
	if !errors.Is(err, ErrUnknownMode) {
		t.Error(err)
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	var cfg = Default()
	cfg.LogStep = 0
	cfg.SampleStep = -1
	cfg.BatchSize = 0
	var err = Validate(&cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, name := range []string{"log_step", "sample_step", "batch_size"} {
		if !strings.Contains(err.Error(), name) {
			t.Error("missing", name, err)
		}
	}
}

func TestConfigFile(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "train.yaml")
	var content = `
dataset_using: VCC2016
batch_size: 8
num_iters: 50
num_iters_decay: 10
use_tensorboard: false
resume_iters: 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	var cfg, err = ParseArgs([]string{"--config", path, "--batch_size", "4"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatasetUsing != DatasetVCC2016 || cfg.NumIters != 50 || cfg.UseTensorboard {
		t.Errorf("%+v", cfg)
	}
	if cfg.BatchSize != 4 {
		t.Error("flag must win over file", cfg.BatchSize)
	}
	if cfg.ResumeIters == nil || *cfg.ResumeIters != 20 {
		t.Error("resume_iters", cfg.ResumeIters)
	}
	if cfg.NCritic != 5 {
		t.Error("defaults must survive the file", cfg.NCritic)
	}
}

func TestConfigFileUnknownKey(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "train.yaml")
	if err := os.WriteFile(path, []byte("batch_sise: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseArgs([]string{"--config", path}); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestRuntimeOptions(t *testing.T) {
	var cfg = Default()
	cfg.Threads = 3
	cfg.Seed = 42
	var opts = cfg.RuntimeOptions("run")
	if opts.Threads != 3 || opts.Seed != 42 || opts.RunID != "run" {
		t.Errorf("%+v", opts)
	}
}

func TestShortRunShortensDefaultDecay(t *testing.T) {
	var args = []string{"--dataset_using", "VCC2016", "--mode", "train", "--num_iters", "1"}
	var fs = pflag.NewFlagSet("stargan", pflag.ContinueOnError)
	var b = Bind(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	cfg, err := b.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NumIters != 1 || cfg.NumItersDecay != 1 {
		t.Errorf("num_iters %v num_iters_decay %v", cfg.NumIters, cfg.NumItersDecay)
	}
	if len(b.Warnings()) != 1 || !strings.Contains(b.Warnings()[0], "num_iters_decay") {
		t.Error("warnings", b.Warnings())
	}

	cfg, err = ParseArgs(args)
	if err != nil || cfg.NumItersDecay != 1 {
		t.Error(cfg.NumItersDecay, err)
	}
}

func TestExplicitDecayIsKept(t *testing.T) {
	if _, err := ParseArgs([]string{"--num_iters", "1", "--num_iters_decay", "100000"}); err == nil {
		t.Error("explicit num_iters_decay above num_iters accepted")
	}

	var path = filepath.Join(t.TempDir(), "train.yaml")
	if err := os.WriteFile(path, []byte("num_iters_decay: 100000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseArgs([]string{"--config", path, "--num_iters", "1"}); err == nil {
		t.Error("num_iters_decay from file above num_iters accepted")
	}

	var fs = pflag.NewFlagSet("stargan", pflag.ContinueOnError)
	var b = Bind(fs)
	if err := fs.Parse([]string{"--num_iters", "300000"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := b.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NumItersDecay != 100000 || len(b.Warnings()) != 0 {
		t.Error(cfg.NumItersDecay, b.Warnings())
	}
}

func TestLogValue(t *testing.T) {
	var cfg = Default()
	var buf bytes.Buffer
	var logger = slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("configuration", "config", cfg)
	if !strings.Contains(buf.String(), "config.resume_iters=unset") {
		t.Error(buf.String())
	}

	buf.Reset()
	var resume = 3
	cfg.ResumeIters = &resume
	logger.Info("configuration", "config", cfg)
	var line = buf.String()
	if !strings.Contains(line, "config.resume_iters=3") || strings.Contains(line, "0x") {
		t.Error(line)
	}
	if !strings.Contains(line, "config.dataset_using=VCTK") || !strings.Contains(line, "config.n_critic=5") {
		t.Error(line)
	}
}
